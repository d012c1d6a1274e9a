package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Wence024/bankqueue-teller-webapp/pkg/enums/queuetype"
	"github.com/Wence024/bankqueue-teller-webapp/pkg/enums/tellerstatus"
	"github.com/aquamarinepk/aqm"
)

const DefaultStaleness = 30 * time.Second

// Registry enforces exclusive, liveness-aware ownership of queue types.
// Reclamation of stale claims happens lazily inside Claim.
type Registry struct {
	repo      SessionRepository
	staleness time.Duration
	now       func() time.Time
	logger    aqm.Logger
}

func NewRegistry(repo SessionRepository, staleness time.Duration, logger aqm.Logger) *Registry {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	return &Registry{
		repo:      repo,
		staleness: staleness,
		now:       time.Now,
		logger:    logger,
	}
}

func (r *Registry) Staleness() time.Duration {
	return r.staleness
}

func (r *Registry) Claim(ctx context.Context, queueType, tellerID string) (*TellerSession, error) {
	if !queuetype.Valid(queueType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidQueueType, queueType)
	}
	if strings.TrimSpace(tellerID) == "" {
		return nil, ErrInvalidTeller
	}

	current, err := r.repo.Find(ctx, tellerID)
	if err != nil {
		return nil, storeFailure("find session", err)
	}

	if _, err := r.ReclaimIfStale(ctx, queueType); err != nil {
		return nil, err
	}

	now := r.now()
	session := &TellerSession{
		TellerID:      tellerID,
		QueueType:     queueType,
		Status:        tellerstatus.Statuses.Available.Code(),
		Active:        true,
		ClaimedAt:     now,
		LastHeartbeat: now,
	}
	if current != nil {
		if current.Status != "" {
			session.Status = current.Status
		}
		if current.Active && current.QueueType == queueType {
			session.ClaimedAt = current.ClaimedAt
		}
		session.LastAction = current.LastAction
	}

	if err := r.repo.Claim(ctx, session); err != nil {
		if errors.Is(err, ErrClaimConflict) {
			return nil, fmt.Errorf("%w: %s", ErrClaimConflict, queueType)
		}
		return nil, storeFailure("claim", err)
	}

	r.logger.Info("queue type claimed", "queue_type", queueType, "teller_id", tellerID)
	return session, nil
}

// Ensure returns the teller's live claim on queueType, claiming it when the
// teller does not hold it. A live claim gets its heartbeat refreshed.
func (r *Registry) Ensure(ctx context.Context, queueType, tellerID string) (*TellerSession, error) {
	current, err := r.repo.Find(ctx, tellerID)
	if err != nil {
		return nil, storeFailure("find session", err)
	}

	if current.Holds(queueType, r.now(), r.staleness) {
		now := r.now()
		err := r.repo.Touch(ctx, tellerID, now)
		if err == nil {
			current.LastHeartbeat = now
			return current, nil
		}
		if !errors.Is(err, ErrNoActiveSession) {
			return nil, storeFailure("heartbeat", err)
		}
	}

	return r.Claim(ctx, queueType, tellerID)
}

func (r *Registry) Heartbeat(ctx context.Context, tellerID string) error {
	if err := r.repo.Touch(ctx, tellerID, r.now()); err != nil {
		return storeFailure("heartbeat", err)
	}
	return nil
}

// Release ends the teller's claim and returns the session it ended, or nil
// when there was nothing to release.
func (r *Registry) Release(ctx context.Context, tellerID string) (*TellerSession, error) {
	current, err := r.repo.Find(ctx, tellerID)
	if err != nil {
		return nil, storeFailure("find session", err)
	}
	if current == nil || !current.Active {
		return nil, nil
	}

	if err := r.repo.Deactivate(ctx, tellerID); err != nil {
		return nil, storeFailure("release", err)
	}

	r.logger.Info("queue type released", "queue_type", current.QueueType, "teller_id", tellerID)
	current.Active = false
	return current, nil
}

func (r *Registry) ReclaimIfStale(ctx context.Context, queueType string) (bool, error) {
	cutoff := r.now().Add(-r.staleness)
	reclaimed, err := r.repo.DeactivateStale(ctx, queueType, cutoff)
	if err != nil {
		return false, storeFailure("reclaim", err)
	}
	if reclaimed {
		r.logger.Info("stale claim reclaimed", "queue_type", queueType)
	}
	return reclaimed, nil
}

// ListActive returns live claims. Stale sessions that were not reclaimed
// yet are left out.
func (r *Registry) ListActive(ctx context.Context) ([]Claim, error) {
	sessions, err := r.repo.ListActive(ctx)
	if err != nil {
		return nil, storeFailure("list sessions", err)
	}

	now := r.now()
	claims := make([]Claim, 0, len(sessions))
	for i := range sessions {
		s := &sessions[i]
		if !s.Active || s.Stale(now, r.staleness) {
			continue
		}
		claims = append(claims, Claim{
			QueueType:     s.QueueType,
			TellerID:      s.TellerID,
			Status:        s.Status,
			ClaimedAt:     s.ClaimedAt,
			LastHeartbeat: s.LastHeartbeat,
		})
	}
	return claims, nil
}

func (r *Registry) Session(ctx context.Context, tellerID string) (*TellerSession, error) {
	s, err := r.repo.Find(ctx, tellerID)
	if err != nil {
		return nil, storeFailure("find session", err)
	}
	return s, nil
}

func (r *Registry) SetStatus(ctx context.Context, tellerID, status string) error {
	if tellerstatus.ByName(status) == nil {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if err := r.repo.SetStatus(ctx, tellerID, status); err != nil {
		return storeFailure("set status", err)
	}
	return nil
}

// RecordAction overwrites the teller's undo slot.
func (r *Registry) RecordAction(ctx context.Context, tellerID string, action LastAction) error {
	if err := r.repo.SetLastAction(ctx, tellerID, action); err != nil {
		return storeFailure("record action", err)
	}
	return nil
}

// TakeAction empties the undo slot if it still names ticketID.
func (r *Registry) TakeAction(ctx context.Context, tellerID string, ticketID TicketID) (bool, error) {
	taken, err := r.repo.TakeLastAction(ctx, tellerID, ticketID)
	if err != nil {
		return false, storeFailure("take action", err)
	}
	return taken, nil
}
