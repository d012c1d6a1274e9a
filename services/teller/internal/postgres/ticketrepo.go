package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Wence024/bankqueue-teller-webapp/pkg/enums/ticketstate"
	"github.com/Wence024/bankqueue-teller-webapp/services/teller/internal/queue"
)

const ticketColumns = `id, number, queue_type, priority, priority_rank, state, serviced_by, payload,
	created_at, updated_at, service_started_at, completed_at, skipped_at, model_version`

const serviceOrder = "ORDER BY priority_rank ASC, created_at ASC, id ASC"

type TicketRepo struct {
	db *sql.DB
}

func NewTicketRepo(db *sql.DB) *TicketRepo {
	return &TicketRepo{db: db}
}

func (r *TicketRepo) Create(ctx context.Context, t *queue.Ticket) error {
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("cannot encode payload: %w", err)
	}

	query := `
		INSERT INTO tickets (` + ticketColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`
	_, err = r.db.ExecContext(ctx, query,
		t.ID, t.Number, t.QueueType, t.Priority, t.PriorityRank, t.State, t.ServicedBy, payload,
		t.CreatedAt, t.UpdatedAt, t.ServiceStartedAt, t.CompletedAt, t.SkippedAt, t.ModelVersion)
	if err != nil {
		return fmt.Errorf("cannot insert ticket: %w", err)
	}
	return nil
}

func (r *TicketRepo) FindByID(ctx context.Context, id queue.TicketID) (*queue.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	t, err := scanTicket(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, queue.ErrTicketNotFound
		}
		return nil, fmt.Errorf("cannot find ticket: %w", err)
	}
	return t, nil
}

func (r *TicketRepo) NextWaiting(ctx context.Context, queueType string) (*queue.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
		WHERE queue_type=$1 AND state=$2 ` + serviceOrder + ` LIMIT 1`
	t, err := scanTicket(r.db.QueryRowContext(ctx, query, queueType, ticketstate.States.Waiting.Code()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot find next waiting ticket: %w", err)
	}
	return t, nil
}

// UpdateIf is a single UPDATE guarded by the expected state and owner.
func (r *TicketRepo) UpdateIf(ctx context.Context, id queue.TicketID, cond queue.TicketCondition, u queue.TicketUpdate) (*queue.Ticket, error) {
	query := `
		UPDATE tickets
		SET state=$1, serviced_by=$2, service_started_at=$3, completed_at=$4, skipped_at=$5, updated_at=$6
		WHERE id=$7 AND state=$8 AND ($9 = '' OR serviced_by=$9)
		RETURNING ` + ticketColumns
	t, err := scanTicket(r.db.QueryRowContext(ctx, query,
		u.State, u.ServicedBy, u.ServiceStartedAt, u.CompletedAt, u.SkippedAt, u.UpdatedAt,
		id, cond.State, cond.ServicedBy))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cannot update ticket: %w", err)
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM tickets WHERE id=$1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("cannot check ticket: %w", err)
	}
	if !exists {
		return nil, queue.ErrTicketNotFound
	}
	return nil, queue.ErrPreconditionFailed
}

func (r *TicketRepo) CountWaiting(ctx context.Context, queueType string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tickets WHERE queue_type=$1 AND state=$2`,
		queueType, ticketstate.States.Waiting.Code()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("cannot count waiting tickets: %w", err)
	}
	return n, nil
}

func (r *TicketRepo) List(ctx context.Context, filter queue.TicketFilter) ([]queue.Ticket, error) {
	var where []string
	var args []interface{}
	if filter.QueueType != nil {
		args = append(args, *filter.QueueType)
		where = append(where, fmt.Sprintf("queue_type=$%d", len(args)))
	}
	if filter.State != nil {
		args = append(args, *filter.State)
		where = append(where, fmt.Sprintf("state=$%d", len(args)))
	}

	query := `SELECT ` + ticketColumns + ` FROM tickets`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " " + serviceOrder
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cannot list tickets: %w", err)
	}
	defer rows.Close()

	tickets := []queue.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("cannot scan ticket: %w", err)
		}
		tickets = append(tickets, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cannot list tickets: %w", err)
	}
	return tickets, nil
}

// DeleteByIDs removes tickets; used by the utils CLI to clear demo data.
func (r *TicketRepo) DeleteByIDs(ctx context.Context, ids []queue.TicketID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := `DELETE FROM tickets WHERE id IN (` + strings.Join(placeholders, ",") + `)`
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cannot delete tickets: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row scanner) (*queue.Ticket, error) {
	var t queue.Ticket
	var payload []byte
	var started, completed, skipped sql.NullTime

	err := row.Scan(&t.ID, &t.Number, &t.QueueType, &t.Priority, &t.PriorityRank, &t.State, &t.ServicedBy, &payload,
		&t.CreatedAt, &t.UpdatedAt, &started, &completed, &skipped, &t.ModelVersion)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payload, &t.Payload); err != nil {
		return nil, fmt.Errorf("cannot decode payload: %w", err)
	}
	t.ServiceStartedAt = timePtr(started)
	t.CompletedAt = timePtr(completed)
	t.SkippedAt = timePtr(skipped)
	return &t, nil
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
