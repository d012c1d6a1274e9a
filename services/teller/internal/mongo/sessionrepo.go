package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Wence024/bankqueue-teller-webapp/services/teller/internal/queue"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const sessionsCollection = "teller_sessions"

// SessionRepo stores one document per teller. A partial unique index on
// queue_type over active sessions makes the server reject a second holder.
type SessionRepo struct {
	collection *mongo.Collection
}

func NewSessionRepo(db *mongo.Database) *SessionRepo {
	return &SessionRepo{
		collection: db.Collection(sessionsCollection),
	}
}

func (r *SessionRepo) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "queue_type", Value: 1}},
			Options: options.Index().
				SetName("active_queue_type").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"active": true}),
		},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("cannot create session indexes: %w", err)
	}
	return nil
}

func (r *SessionRepo) Find(ctx context.Context, tellerID string) (*queue.TellerSession, error) {
	var s queue.TellerSession
	err := r.collection.FindOne(ctx, bson.M{"_id": tellerID}).Decode(&s)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot find session: %w", err)
	}
	return &s, nil
}

// Claim upserts the teller's document. The undo slot is left untouched.
func (r *SessionRepo) Claim(ctx context.Context, s *queue.TellerSession) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": s.TellerID}, claimDoc(s), options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return queue.ErrClaimConflict
		}
		return fmt.Errorf("cannot claim queue type: %w", err)
	}
	return nil
}

func (r *SessionRepo) DeactivateStale(ctx context.Context, queueType string, cutoff time.Time) (bool, error) {
	filter := bson.M{
		"queue_type":     queueType,
		"active":         true,
		"last_heartbeat": bson.M{"$lt": cutoff},
	}
	res, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"active": false}})
	if err != nil {
		return false, fmt.Errorf("cannot deactivate stale session: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

func (r *SessionRepo) Touch(ctx context.Context, tellerID string, at time.Time) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": tellerID, "active": true},
		bson.M{"$set": bson.M{"last_heartbeat": at}})
	if err != nil {
		return fmt.Errorf("cannot record heartbeat: %w", err)
	}
	if res.MatchedCount == 0 {
		return queue.ErrNoActiveSession
	}
	return nil
}

func (r *SessionRepo) Deactivate(ctx context.Context, tellerID string) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": tellerID}, bson.M{"$set": bson.M{"active": false}})
	if err != nil {
		return fmt.Errorf("cannot deactivate session: %w", err)
	}
	return nil
}

func (r *SessionRepo) SetStatus(ctx context.Context, tellerID, status string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": tellerID},
		bson.M{"$set": bson.M{"status": status}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("cannot set status: %w", err)
	}
	return nil
}

func (r *SessionRepo) ListActive(ctx context.Context) ([]queue.TellerSession, error) {
	opts := options.Find().SetSort(bson.D{{Key: "queue_type", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"active": true}, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot list sessions: %w", err)
	}
	defer cursor.Close(ctx)

	sessions := []queue.TellerSession{}
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("cannot decode sessions: %w", err)
	}
	return sessions, nil
}

func (r *SessionRepo) SetLastAction(ctx context.Context, tellerID string, action queue.LastAction) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": tellerID},
		bson.M{"$set": bson.M{"last_action": action}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("cannot record last action: %w", err)
	}
	return nil
}

func (r *SessionRepo) TakeLastAction(ctx context.Context, tellerID string, ticketID queue.TicketID) (bool, error) {
	res, err := r.collection.UpdateOne(ctx,
		takeActionFilter(tellerID, ticketID),
		bson.M{"$unset": bson.M{"last_action": ""}})
	if err != nil {
		return false, fmt.Errorf("cannot take last action: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

// DeleteAll drops every session; used by the utils CLI reset.
func (r *SessionRepo) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("cannot delete sessions: %w", err)
	}
	return res.DeletedCount, nil
}

func claimDoc(s *queue.TellerSession) bson.M {
	return bson.M{
		"$set": bson.M{
			"queue_type":     s.QueueType,
			"status":         s.Status,
			"active":         true,
			"claimed_at":     s.ClaimedAt,
			"last_heartbeat": s.LastHeartbeat,
		},
	}
}

func takeActionFilter(tellerID string, ticketID queue.TicketID) bson.M {
	return bson.M{
		"_id":                   tellerID,
		"last_action.ticket_id": ticketID,
	}
}
