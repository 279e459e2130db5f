// Package handler provides the HTTP surface over the circle engine. It is
// a thin wrapper: decode, call the engine, encode. All lifecycle rules
// live in internal/circle.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"circlepot/internal/circle"
	"circlepot/internal/domain"
	"circlepot/internal/treasury"
	pkgerrors "circlepot/pkg/errors"
	"circlepot/pkg/logger"
)

type CircleHandler struct {
	service  *circle.Service
	treasury *treasury.Manager
	logger   logger.Logger
}

func NewCircleHandler(service *circle.Service, treasuryMgr *treasury.Manager, log logger.Logger) *CircleHandler {
	return &CircleHandler{
		service:  service,
		treasury: treasuryMgr,
		logger:   log,
	}
}

// RegisterRoutes wires the engine's exposed capabilities onto a router.
func (h *CircleHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/circles", h.CreateCircle).Methods(http.MethodPost)
	r.HandleFunc("/circles/{id}", h.GetCircle).Methods(http.MethodGet)
	r.HandleFunc("/circles/{id}/visibility", h.SetVisibility).Methods(http.MethodPut)
	r.HandleFunc("/circles/{id}/invites", h.InviteMember).Methods(http.MethodPost)
	r.HandleFunc("/circles/{id}/join", h.JoinCircle).Methods(http.MethodPost)
	r.HandleFunc("/circles/{id}/start", h.StartCircle).Methods(http.MethodPost)
	r.HandleFunc("/circles/{id}/contributions", h.Contribute).Methods(http.MethodPost)
	r.HandleFunc("/circles/{id}/forfeitures", h.Forfeit).Methods(http.MethodPost)
	r.HandleFunc("/circles/{id}/votes", h.InitiateVote).Methods(http.MethodPost)
	r.HandleFunc("/circles/{id}/votes/ballots", h.CastVote).Methods(http.MethodPost)
	r.HandleFunc("/circles/{id}/votes/execute", h.ExecuteVote).Methods(http.MethodPost)
	r.HandleFunc("/circles/{id}/dissolve", h.Dissolve).Methods(http.MethodPost)
	r.HandleFunc("/circles/{id}/vote", h.GetVote).Methods(http.MethodGet)
	r.HandleFunc("/circles/{id}/members", h.ListMembers).Methods(http.MethodGet)
	r.HandleFunc("/circles/{id}/members/{user}", h.GetMember).Methods(http.MethodGet)
	r.HandleFunc("/circles/{id}/progress", h.GetProgress).Methods(http.MethodGet)
	r.HandleFunc("/users/{user}/circles", h.ListUserCircles).Methods(http.MethodGet)
	r.HandleFunc("/treasury", h.GetTreasury).Methods(http.MethodGet)
}

func (h *CircleHandler) CreateCircle(w http.ResponseWriter, r *http.Request) {
	var req circle.CreateCircleRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.service.CreateCircle(r.Context(), &req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"config": c.Config,
		"status": c.Status,
	})
}

func (h *CircleHandler) GetCircle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.circleID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.GetCircle(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, detail)
}

func (h *CircleHandler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	id, ok := h.circleID(w, r)
	if !ok {
		return
	}
	var req struct {
		Caller     uuid.UUID `json:"caller"`
		Visibility string    `json:"visibility"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.SetVisibility(r.Context(), id, req.Caller, domain.Visibility(req.Visibility)); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "visibility updated"})
}

func (h *CircleHandler) InviteMember(w http.ResponseWriter, r *http.Request) {
	id, ok := h.circleID(w, r)
	if !ok {
		return
	}
	var req struct {
		Caller  uuid.UUID `json:"caller"`
		Invitee uuid.UUID `json:"invitee"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.InviteMember(r.Context(), id, req.Caller, req.Invitee); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]string{"message": "invite recorded"})
}

func (h *CircleHandler) JoinCircle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.circleID(w, r)
	if !ok {
		return
	}
	var req circle.JoinRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.CircleID = id
	member, err := h.service.JoinCircle(r.Context(), &req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, member)
}

func (h *CircleHandler) StartCircle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.circleID(w, r)
	if !ok {
		return
	}
	var req struct {
		Caller uuid.UUID `json:"caller"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.StartCircle(r.Context(), id, req.Caller); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "circle started"})
}

func (h *CircleHandler) Contribute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.circleID(w, r)
	if !ok {
		return
	}
	var req circle.ContributeRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.CircleID = id
	if err := h.service.Contribute(r.Context(), &req); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "contribution settled"})
}

func (h *CircleHandler) Forfeit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.circleID(w, r)
	if !ok {
		return
	}
	var req circle.ForfeitRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.CircleID = id
	count, err := h.service.Forfeit(r.Context(), &req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"forfeited": count})
}

func (h *CircleHandler) InitiateVote(w http.ResponseWriter, r *http.Request) {
	id, ok := h.circleID(w, r)
	if !ok {
		return
	}
	var req struct {
		Caller uuid.UUID `json:"caller"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.InitiateVote(r.Context(), id, req.Caller); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]string{"message": "vote opened"})
}

func (h *CircleHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	id, ok := h.circleID(w, r)
	if !ok {
		return
	}
	var req struct {
		Voter  uuid.UUID `json:"voter"`
		Choice string    `json:"choice"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.CastVote(r.Context(), id, req.Voter, domain.VoteChoice(req.Choice)); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "ballot recorded"})
}

func (h *CircleHandler) ExecuteVote(w http.ResponseWriter, r *http.Request) {
	id, ok := h.circleID(w, r)
	if !ok {
		return
	}
	if err := h.service.ExecuteVote(r.Context(), id); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "vote executed"})
}

func (h *CircleHandler) Dissolve(w http.ResponseWriter, r *http.Request) {
	id, ok := h.circleID(w, r)
	if !ok {
		return
	}
	var req struct {
		Caller uuid.UUID `json:"caller"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.Dissolve(r.Context(), id, req.Caller); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "circle dissolved"})
}

func (h *CircleHandler) GetVote(w http.ResponseWriter, r *http.Request) {
	id, ok := h.circleID(w, r)
	if !ok {
		return
	}
	vote, err := h.service.GetVote(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, vote)
}

func (h *CircleHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := h.circleID(w, r)
	if !ok {
		return
	}
	members, err := h.service.ListMembers(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"members": members,
		"count":   len(members),
	})
}

func (h *CircleHandler) GetMember(w http.ResponseWriter, r *http.Request) {
	id, ok := h.circleID(w, r)
	if !ok {
		return
	}
	userID, err := uuid.Parse(mux.Vars(r)["user"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	member, err := h.service.GetMember(r.Context(), id, userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, member)
}

func (h *CircleHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := h.circleID(w, r)
	if !ok {
		return
	}
	progress, err := h.service.GetProgress(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, progress)
}

func (h *CircleHandler) ListUserCircles(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(mux.Vars(r)["user"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	circles, err := h.service.ListCirclesForUser(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"circles": circles,
		"count":   len(circles),
	})
}

func (h *CircleHandler) GetTreasury(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"balance": h.treasury.Balance(),
		"entries": h.treasury.Entries(0),
	})
}

func (h *CircleHandler) circleID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || id == 0 {
		h.respondError(w, http.StatusBadRequest, "Invalid circle ID")
		return 0, false
	}
	return id, true
}

func (h *CircleHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "Request body is required")
			return false
		}
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (h *CircleHandler) respondServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pkgerrors.ErrCircleNotFound),
		errors.Is(err, pkgerrors.ErrNoVoteInSession):
		status = http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrInsufficientFunds),
		errors.Is(err, pkgerrors.ErrTransferNotApproved),
		errors.Is(err, pkgerrors.ErrInsufficientCollateral):
		status = http.StatusPaymentRequired
	case errors.Is(err, pkgerrors.ErrNotCreator),
		errors.Is(err, pkgerrors.ErrNotAMember),
		errors.Is(err, pkgerrors.ErrNotEligible),
		errors.Is(err, pkgerrors.ErrNotInvited):
		status = http.StatusForbidden
	case errors.Is(err, pkgerrors.ErrInvalidCircleState),
		errors.Is(err, pkgerrors.ErrCircleFull),
		errors.Is(err, pkgerrors.ErrAlreadyMember),
		errors.Is(err, pkgerrors.ErrAlreadyContributed),
		errors.Is(err, pkgerrors.ErrAlreadyVoted),
		errors.Is(err, pkgerrors.ErrVoteActive),
		errors.Is(err, pkgerrors.ErrVoteClosed),
		errors.Is(err, pkgerrors.ErrVoteOpen),
		errors.Is(err, pkgerrors.ErrVoteExecuted),
		errors.Is(err, pkgerrors.ErrGracePeriodActive),
		errors.Is(err, pkgerrors.ErrCircleNotStalled),
		errors.Is(err, pkgerrors.ErrBelowThreshold),
		errors.Is(err, pkgerrors.ErrAboveThreshold),
		errors.Is(err, pkgerrors.ErrVisibilityChanged),
		errors.Is(err, pkgerrors.ErrVisibilityUnchanged),
		errors.Is(err, pkgerrors.ErrMemberInactive):
		status = http.StatusConflict
	case errors.Is(err, pkgerrors.ErrInvalidVote):
		status = http.StatusBadRequest
	}
	h.respondError(w, status, err.Error())
}

func (h *CircleHandler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func (h *CircleHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
