// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// Circle lifecycle errors
	ErrCircleNotFound      = errors.New("circle not found")
	ErrInvalidCircleState  = errors.New("circle is not in a valid state for this operation")
	ErrCircleFull          = errors.New("circle has reached maximum members")
	ErrCircleNotStalled    = errors.New("circle has not stalled past the ultimatum period")
	ErrVisibilityChanged   = errors.New("circle visibility can only be changed once")
	ErrVisibilityUnchanged = errors.New("circle already has the requested visibility")
	ErrNotCreator          = errors.New("only the circle creator may perform this action")

	// Membership errors
	ErrNotAMember     = errors.New("caller is not an active member of this circle")
	ErrAlreadyMember  = errors.New("already an active member of this circle")
	ErrNotInvited     = errors.New("private circle requires an invite to join")
	ErrMemberInactive = errors.New("member is no longer active in this circle")

	// Round errors
	ErrAlreadyContributed = errors.New("member already settled this round")
	ErrGracePeriodActive  = errors.New("grace period for the current round has not elapsed")
	ErrRecipientExempt    = errors.New("current round recipient cannot be forfeited")

	// Governance errors
	ErrVoteActive      = errors.New("a vote is already in progress")
	ErrVoteClosed      = errors.New("voting window has closed")
	ErrVoteOpen        = errors.New("voting window is still open")
	ErrAlreadyVoted    = errors.New("member has already voted in this session")
	ErrNotEligible     = errors.New("member joined after the voting session opened")
	ErrVoteExecuted    = errors.New("vote has already been executed")
	ErrBelowThreshold  = errors.New("membership is below the voting threshold")
	ErrAboveThreshold  = errors.New("membership is at or above the voting threshold")
	ErrInvalidVote     = errors.New("invalid vote choice")
	ErrNoVoteInSession = errors.New("no voting session for this circle")

	// Resource errors
	ErrInsufficientFunds      = errors.New("insufficient balance for transfer")
	ErrTransferNotApproved    = errors.New("transfer not approved by holder")
	ErrInsufficientCollateral = errors.New("insufficient locked collateral")

	// Vault errors
	ErrVaultNotConfigured = errors.New("no yield vault configured for this circle")
	ErrNoVaultShares      = errors.New("circle holds no vault shares")

	// Arithmetic errors
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
