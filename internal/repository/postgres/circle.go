// Package postgres persists circle aggregates as transactional snapshots.
// The engine still serializes per-circle access; this store only has to
// write a consistent picture of the aggregate on each Save.
package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"circlepot/internal/domain"
	"circlepot/pkg/errors"
	"circlepot/pkg/money"
)

type CircleStore struct {
	db *sqlx.DB
}

func NewCircleStore(db *sqlx.DB) *CircleStore {
	return &CircleStore{db: db}
}

func wrapAmount(v int64) money.Amount {
	return money.Amount(v)
}

func (r *CircleStore) NextID(ctx context.Context) (uint64, error) {
	var id uint64
	err := r.db.GetContext(ctx, &id, `SELECT nextval('circle_id_seq')`)
	if err != nil {
		return 0, errors.Wrap(err, "failed to allocate circle id")
	}
	return id, nil
}

func (r *CircleStore) Create(ctx context.Context, c *domain.Circle) error {
	return r.save(ctx, c, true)
}

func (r *CircleStore) Save(ctx context.Context, c *domain.Circle) error {
	return r.save(ctx, c, false)
}

type circleRow struct {
	domain.CircleConfig
	domain.CircleStatus
	LateFeePool int64 `db:"late_fee_pool"`
	VaultShares int64 `db:"vault_shares"`
}

func (r *CircleStore) save(ctx context.Context, c *domain.Circle, insert bool) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	row := circleRow{
		CircleConfig: c.Config,
		CircleStatus: c.Status,
		LateFeePool:  int64(c.LateFeePool),
		VaultShares:  int64(c.VaultShares),
	}
	if insert {
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO circles (
				id, title, description, creator, contribution, frequency,
				max_members, visibility, visibility_changed, yield_enabled, created_at,
				state, current_members, current_round, total_rounds, started_at,
				pot_balance, contributions_this_round, round_deadline,
				late_fee_pool, vault_shares
			) VALUES (
				:id, :title, :description, :creator, :contribution, :frequency,
				:max_members, :visibility, :visibility_changed, :yield_enabled, :created_at,
				:state, :current_members, :current_round, :total_rounds, :started_at,
				:pot_balance, :contributions_this_round, :round_deadline,
				:late_fee_pool, :vault_shares
			)
		`, row)
	} else {
		_, err = tx.NamedExecContext(ctx, `
			UPDATE circles SET
				visibility = :visibility,
				visibility_changed = :visibility_changed,
				state = :state,
				current_members = :current_members,
				current_round = :current_round,
				total_rounds = :total_rounds,
				started_at = :started_at,
				pot_balance = :pot_balance,
				contributions_this_round = :contributions_this_round,
				round_deadline = :round_deadline,
				late_fee_pool = :late_fee_pool,
				vault_shares = :vault_shares
			WHERE id = :id
		`, row)
	}
	if err != nil {
		return errors.Wrap(err, "failed to write circle")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM circle_members WHERE circle_id = $1`, c.Config.ID); err != nil {
		return errors.Wrap(err, "failed to clear members")
	}
	for i, m := range c.Members {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO circle_members (
				circle_id, join_index, user_id, position, total_contributed,
				payout_received, active, collateral_locked, joined_at, performance_points
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, c.Config.ID, i, m.UserID, m.Position, int64(m.TotalContributed),
			m.PayoutReceived, m.Active, int64(m.CollateralLocked), m.JoinedAt, m.PerformancePoints)
		if err != nil {
			return errors.Wrap(err, "failed to write member")
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM circle_votes WHERE circle_id = $1`, c.Config.ID); err != nil {
		return errors.Wrap(err, "failed to clear vote")
	}
	if c.Vote != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO circle_votes (
				circle_id, started_at, ends_at, start_votes, withdraw_votes,
				active, executed, eligible_voters
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, c.Config.ID, c.Vote.StartedAt, c.Vote.EndsAt, c.Vote.StartVotes,
			c.Vote.WithdrawVotes, c.Vote.Active, c.Vote.Executed, c.Vote.EligibleVoters)
		if err != nil {
			return errors.Wrap(err, "failed to write vote")
		}
		for voter := range c.Vote.Ballots {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO circle_ballots (circle_id, voter) VALUES ($1, $2)`,
				c.Config.ID, voter)
			if err != nil {
				return errors.Wrap(err, "failed to write ballot")
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM round_settlements WHERE circle_id = $1`, c.Config.ID); err != nil {
		return errors.Wrap(err, "failed to clear settlements")
	}
	for round, set := range c.Settled {
		for user := range set {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO round_settlements (circle_id, round, user_id) VALUES ($1, $2, $3)`,
				c.Config.ID, round, user)
			if err != nil {
				return errors.Wrap(err, "failed to write settlement")
			}
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit circle snapshot")
}

func (r *CircleStore) Get(ctx context.Context, id uint64) (*domain.Circle, error) {
	var row circleRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM circles WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrCircleNotFound
		}
		return nil, errors.Wrap(err, "failed to load circle")
	}
	c := &domain.Circle{
		Config:      row.CircleConfig,
		Status:      row.CircleStatus,
		LateFeePool: wrapAmount(row.LateFeePool),
		VaultShares: wrapAmount(row.VaultShares),
		Settled:     make(map[int]map[uuid.UUID]bool),
	}

	if err := r.db.SelectContext(ctx, &c.Members, `
		SELECT user_id, position, total_contributed, payout_received, active,
		       collateral_locked, joined_at, performance_points
		FROM circle_members WHERE circle_id = $1 ORDER BY join_index
	`, id); err != nil {
		return nil, errors.Wrap(err, "failed to load members")
	}

	var votes []struct {
		domain.Vote
		CircleID uint64 `db:"circle_id"`
	}
	if err := r.db.SelectContext(ctx, &votes, `
		SELECT circle_id, started_at, ends_at, start_votes, withdraw_votes,
		       active, executed, eligible_voters
		FROM circle_votes WHERE circle_id = $1
	`, id); err != nil {
		return nil, errors.Wrap(err, "failed to load vote")
	}
	if len(votes) > 0 {
		v := votes[0].Vote
		v.Ballots = make(map[uuid.UUID]bool)
		var voters []uuid.UUID
		if err := r.db.SelectContext(ctx, &voters,
			`SELECT voter FROM circle_ballots WHERE circle_id = $1`, id); err != nil {
			return nil, errors.Wrap(err, "failed to load ballots")
		}
		for _, voter := range voters {
			v.Ballots[voter] = true
		}
		c.Vote = &v
	}

	var settlements []struct {
		Round  int       `db:"round"`
		UserID uuid.UUID `db:"user_id"`
	}
	if err := r.db.SelectContext(ctx, &settlements,
		`SELECT round, user_id FROM round_settlements WHERE circle_id = $1`, id); err != nil {
		return nil, errors.Wrap(err, "failed to load settlements")
	}
	for _, s := range settlements {
		c.MarkSettled(s.Round, s.UserID)
	}

	return c, nil
}

func (r *CircleStore) List(ctx context.Context) ([]*domain.Circle, error) {
	var ids []uint64
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM circles ORDER BY id`); err != nil {
		return nil, errors.Wrap(err, "failed to list circles")
	}
	out := make([]*domain.Circle, 0, len(ids))
	for _, id := range ids {
		c, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
