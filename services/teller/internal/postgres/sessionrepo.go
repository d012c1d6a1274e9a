package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Wence024/bankqueue-teller-webapp/services/teller/internal/queue"
	"github.com/google/uuid"
)

const sessionColumns = `teller_id, queue_type, status, active, claimed_at, last_heartbeat,
	last_action_ticket_id, last_action_state, last_action_at`

// SessionRepo keeps one row per teller. The partial unique index on active
// queue types rejects a second holder with a unique violation.
type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

func (r *SessionRepo) Find(ctx context.Context, tellerID string) (*queue.TellerSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM teller_sessions WHERE teller_id=$1`
	s, err := scanSession(r.db.QueryRowContext(ctx, query, tellerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot find session: %w", err)
	}
	return s, nil
}

func (r *SessionRepo) Claim(ctx context.Context, s *queue.TellerSession) error {
	query := `
		INSERT INTO teller_sessions (teller_id, queue_type, status, active, claimed_at, last_heartbeat)
		VALUES ($1,$2,$3,TRUE,$4,$5)
		ON CONFLICT (teller_id) DO UPDATE
		SET queue_type=EXCLUDED.queue_type, status=EXCLUDED.status, active=TRUE,
			claimed_at=EXCLUDED.claimed_at, last_heartbeat=EXCLUDED.last_heartbeat
	`
	_, err := r.db.ExecContext(ctx, query, s.TellerID, s.QueueType, s.Status, s.ClaimedAt, s.LastHeartbeat)
	if err != nil {
		if isUniqueViolation(err) {
			return queue.ErrClaimConflict
		}
		return fmt.Errorf("cannot claim queue type: %w", err)
	}
	return nil
}

func (r *SessionRepo) DeactivateStale(ctx context.Context, queueType string, cutoff time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE teller_sessions SET active=FALSE WHERE queue_type=$1 AND active AND last_heartbeat < $2`,
		queueType, cutoff)
	if err != nil {
		return false, fmt.Errorf("cannot deactivate stale session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cannot deactivate stale session: %w", err)
	}
	return n > 0, nil
}

func (r *SessionRepo) Touch(ctx context.Context, tellerID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE teller_sessions SET last_heartbeat=$2 WHERE teller_id=$1 AND active`,
		tellerID, at)
	if err != nil {
		return fmt.Errorf("cannot record heartbeat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cannot record heartbeat: %w", err)
	}
	if n == 0 {
		return queue.ErrNoActiveSession
	}
	return nil
}

func (r *SessionRepo) Deactivate(ctx context.Context, tellerID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE teller_sessions SET active=FALSE WHERE teller_id=$1`, tellerID)
	if err != nil {
		return fmt.Errorf("cannot deactivate session: %w", err)
	}
	return nil
}

func (r *SessionRepo) SetStatus(ctx context.Context, tellerID, status string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO teller_sessions (teller_id, status) VALUES ($1,$2)
		ON CONFLICT (teller_id) DO UPDATE SET status=EXCLUDED.status
	`, tellerID, status)
	if err != nil {
		return fmt.Errorf("cannot set status: %w", err)
	}
	return nil
}

func (r *SessionRepo) ListActive(ctx context.Context) ([]queue.TellerSession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM teller_sessions WHERE active ORDER BY queue_type`)
	if err != nil {
		return nil, fmt.Errorf("cannot list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []queue.TellerSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("cannot scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cannot list sessions: %w", err)
	}
	return sessions, nil
}

func (r *SessionRepo) SetLastAction(ctx context.Context, tellerID string, action queue.LastAction) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO teller_sessions (teller_id, last_action_ticket_id, last_action_state, last_action_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (teller_id) DO UPDATE
		SET last_action_ticket_id=EXCLUDED.last_action_ticket_id,
			last_action_state=EXCLUDED.last_action_state,
			last_action_at=EXCLUDED.last_action_at
	`, tellerID, action.TicketID, action.State, action.At)
	if err != nil {
		return fmt.Errorf("cannot record last action: %w", err)
	}
	return nil
}

func (r *SessionRepo) TakeLastAction(ctx context.Context, tellerID string, ticketID queue.TicketID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE teller_sessions
		SET last_action_ticket_id=NULL, last_action_state=NULL, last_action_at=NULL
		WHERE teller_id=$1 AND last_action_ticket_id=$2
	`, tellerID, ticketID)
	if err != nil {
		return false, fmt.Errorf("cannot take last action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cannot take last action: %w", err)
	}
	return n == 1, nil
}

func scanSession(row scanner) (*queue.TellerSession, error) {
	var s queue.TellerSession
	var actionID uuid.NullUUID
	var actionState sql.NullString
	var actionAt sql.NullTime

	err := row.Scan(&s.TellerID, &s.QueueType, &s.Status, &s.Active, &s.ClaimedAt, &s.LastHeartbeat,
		&actionID, &actionState, &actionAt)
	if err != nil {
		return nil, err
	}

	if actionID.Valid {
		s.LastAction = &queue.LastAction{
			TicketID: actionID.UUID,
			State:    actionState.String,
			At:       actionAt.Time,
		}
	}
	return &s, nil
}
