package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Wence024/bankqueue-teller-webapp/pkg/enums/queuetype"
	"github.com/Wence024/bankqueue-teller-webapp/services/teller/internal/queue"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	claimPrefix   = "teller:claim:"
	sessionPrefix = "teller:session:"
)

// SessionRepo keeps a hash per teller and a claim key per queue type. Every
// write that touches a claim key goes through a Lua script.
type SessionRepo struct {
	rdb *goredis.Client
}

func NewSessionRepo(rdb *goredis.Client) *SessionRepo {
	return &SessionRepo{rdb: rdb}
}

func claimKey(queueType string) string {
	return claimPrefix + queueType
}

func sessionKey(tellerID string) string {
	return sessionPrefix + tellerID
}

func (r *SessionRepo) Find(ctx context.Context, tellerID string) (*queue.TellerSession, error) {
	fields, err := r.rdb.HGetAll(ctx, sessionKey(tellerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot find session: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeSession(tellerID, fields)
}

func (r *SessionRepo) Claim(ctx context.Context, s *queue.TellerSession) error {
	ok, err := r.rdb.Eval(ctx, claimScript,
		[]string{claimKey(s.QueueType), sessionKey(s.TellerID)},
		s.TellerID, s.QueueType, s.Status, s.ClaimedAt.UnixMilli(), s.LastHeartbeat.UnixMilli(), claimPrefix,
	).Int()
	if err != nil {
		return fmt.Errorf("cannot claim queue type: %w", err)
	}
	if ok == 0 {
		return queue.ErrClaimConflict
	}
	return nil
}

func (r *SessionRepo) DeactivateStale(ctx context.Context, queueType string, cutoff time.Time) (bool, error) {
	n, err := r.rdb.Eval(ctx, deactivateStaleScript,
		[]string{claimKey(queueType)},
		cutoff.UnixMilli(), sessionPrefix,
	).Int()
	if err != nil {
		return false, fmt.Errorf("cannot deactivate stale session: %w", err)
	}
	return n == 1, nil
}

func (r *SessionRepo) Touch(ctx context.Context, tellerID string, at time.Time) error {
	n, err := r.rdb.Eval(ctx, touchScript, []string{sessionKey(tellerID)}, at.UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("cannot record heartbeat: %w", err)
	}
	if n == 0 {
		return queue.ErrNoActiveSession
	}
	return nil
}

func (r *SessionRepo) Deactivate(ctx context.Context, tellerID string) error {
	err := r.rdb.Eval(ctx, deactivateScript, []string{sessionKey(tellerID)}, tellerID, claimPrefix).Err()
	if err != nil {
		return fmt.Errorf("cannot deactivate session: %w", err)
	}
	return nil
}

func (r *SessionRepo) SetStatus(ctx context.Context, tellerID, status string) error {
	if err := r.rdb.HSet(ctx, sessionKey(tellerID), "status", status).Err(); err != nil {
		return fmt.Errorf("cannot set status: %w", err)
	}
	return nil
}

// ListActive reads every claim key and loads the sessions holding them.
func (r *SessionRepo) ListActive(ctx context.Context) ([]queue.TellerSession, error) {
	keys := make([]string, 0, len(queuetype.All))
	for _, qt := range queuetype.All {
		keys = append(keys, claimKey(qt.Code()))
	}

	holders, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot list claims: %w", err)
	}

	sessions := []queue.TellerSession{}
	for i, h := range holders {
		tellerID, ok := h.(string)
		if !ok || tellerID == "" {
			continue
		}
		s, err := r.Find(ctx, tellerID)
		if err != nil {
			return nil, err
		}
		if s == nil || !s.Active || s.QueueType != queuetype.All[i].Code() {
			continue
		}
		sessions = append(sessions, *s)
	}
	return sessions, nil
}

func (r *SessionRepo) SetLastAction(ctx context.Context, tellerID string, action queue.LastAction) error {
	err := r.rdb.HSet(ctx, sessionKey(tellerID),
		"la_ticket", action.TicketID.String(),
		"la_state", action.State,
		"la_at", action.At.UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("cannot record last action: %w", err)
	}
	return nil
}

func (r *SessionRepo) TakeLastAction(ctx context.Context, tellerID string, ticketID queue.TicketID) (bool, error) {
	n, err := r.rdb.Eval(ctx, takeActionScript, []string{sessionKey(tellerID)}, ticketID.String()).Int()
	if err != nil {
		return false, fmt.Errorf("cannot take last action: %w", err)
	}
	return n == 1, nil
}

func decodeSession(tellerID string, fields map[string]string) (*queue.TellerSession, error) {
	s := &queue.TellerSession{
		TellerID:  tellerID,
		QueueType: fields["queue_type"],
		Status:    fields["status"],
		Active:    fields["active"] == "1",
	}

	var err error
	if s.ClaimedAt, err = parseMillis(fields["claimed_at"]); err != nil {
		return nil, fmt.Errorf("bad claimed_at for %s: %w", tellerID, err)
	}
	if s.LastHeartbeat, err = parseMillis(fields["last_heartbeat"]); err != nil {
		return nil, fmt.Errorf("bad last_heartbeat for %s: %w", tellerID, err)
	}

	if raw := fields["la_ticket"]; raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("bad last action ticket for %s: %w", tellerID, err)
		}
		at, err := parseMillis(fields["la_at"])
		if err != nil {
			return nil, fmt.Errorf("bad last action time for %s: %w", tellerID, err)
		}
		s.LastAction = &queue.LastAction{TicketID: id, State: fields["la_state"], At: at}
	}

	return s, nil
}

func parseMillis(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// Reset deletes every claim key and session hash. Used by the utils CLI.
func (r *SessionRepo) Reset(ctx context.Context) (int64, error) {
	var deleted int64
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, "teller:*", 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("cannot scan teller keys: %w", err)
		}
		if len(keys) > 0 {
			n, err := r.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("cannot delete teller keys: %w", err)
			}
			deleted += n
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}
