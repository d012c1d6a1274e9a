package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wence024/bankqueue-teller-webapp/pkg/enums/ticketstate"
	"github.com/Wence024/bankqueue-teller-webapp/services/teller/internal/queue"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const ticketsCollection = "tickets"

// serviceOrder is the index and sort key NextWaiting relies on.
var serviceOrder = bson.D{
	{Key: "priority_rank", Value: 1},
	{Key: "created_at", Value: 1},
	{Key: "_id", Value: 1},
}

type TicketRepo struct {
	collection *mongo.Collection
}

func NewTicketRepo(db *mongo.Database) *TicketRepo {
	return &TicketRepo{
		collection: db.Collection(ticketsCollection),
	}
}

func (r *TicketRepo) EnsureIndexes(ctx context.Context) error {
	keys := bson.D{{Key: "queue_type", Value: 1}, {Key: "state", Value: 1}}
	keys = append(keys, serviceOrder...)

	models := []mongo.IndexModel{
		{Keys: keys, Options: options.Index().SetName("queue_service_order")},
		{Keys: bson.D{{Key: "serviced_by", Value: 1}}},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("cannot create ticket indexes: %w", err)
	}
	return nil
}

func (r *TicketRepo) Create(ctx context.Context, t *queue.Ticket) error {
	if t == nil {
		return fmt.Errorf("ticket is nil")
	}
	if _, err := r.collection.InsertOne(ctx, t); err != nil {
		return fmt.Errorf("cannot insert ticket: %w", err)
	}
	return nil
}

func (r *TicketRepo) FindByID(ctx context.Context, id queue.TicketID) (*queue.Ticket, error) {
	var ticket queue.Ticket
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&ticket)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, queue.ErrTicketNotFound
		}
		return nil, fmt.Errorf("cannot find ticket: %w", err)
	}
	return &ticket, nil
}

func (r *TicketRepo) NextWaiting(ctx context.Context, queueType string) (*queue.Ticket, error) {
	opts := options.FindOne().SetSort(serviceOrder)

	var ticket queue.Ticket
	err := r.collection.FindOne(ctx, waitingFilter(queueType), opts).Decode(&ticket)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot find next waiting ticket: %w", err)
	}
	return &ticket, nil
}

// UpdateIf applies the transition with FindOneAndUpdate so the state check
// and the write are a single server-side operation.
func (r *TicketRepo) UpdateIf(ctx context.Context, id queue.TicketID, cond queue.TicketCondition, u queue.TicketUpdate) (*queue.Ticket, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var ticket queue.Ticket
	err := r.collection.FindOneAndUpdate(ctx, conditionFilter(id, cond), updateDoc(u), opts).Decode(&ticket)
	if err == nil {
		return &ticket, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("cannot update ticket: %w", err)
	}

	n, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, fmt.Errorf("cannot check ticket: %w", err)
	}
	if n == 0 {
		return nil, queue.ErrTicketNotFound
	}
	return nil, queue.ErrPreconditionFailed
}

func (r *TicketRepo) CountWaiting(ctx context.Context, queueType string) (int64, error) {
	n, err := r.collection.CountDocuments(ctx, waitingFilter(queueType))
	if err != nil {
		return 0, fmt.Errorf("cannot count waiting tickets: %w", err)
	}
	return n, nil
}

func (r *TicketRepo) List(ctx context.Context, filter queue.TicketFilter) ([]queue.Ticket, error) {
	query := bson.M{}
	if filter.QueueType != nil {
		query["queue_type"] = *filter.QueueType
	}
	if filter.State != nil {
		query["state"] = *filter.State
	}

	opts := options.Find().SetSort(serviceOrder)
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot list tickets: %w", err)
	}
	defer cursor.Close(ctx)

	tickets := []queue.Ticket{}
	if err := cursor.All(ctx, &tickets); err != nil {
		return nil, fmt.Errorf("cannot decode tickets: %w", err)
	}
	return tickets, nil
}

// DeleteByIDs removes tickets; used by the utils CLI to clear demo data.
func (r *TicketRepo) DeleteByIDs(ctx context.Context, ids []queue.TicketID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("cannot delete tickets: %w", err)
	}
	return res.DeletedCount, nil
}

func waitingFilter(queueType string) bson.M {
	return bson.M{
		"queue_type": queueType,
		"state":      ticketstate.States.Waiting.Code(),
	}
}

func conditionFilter(id queue.TicketID, cond queue.TicketCondition) bson.M {
	filter := bson.M{
		"_id":   id,
		"state": cond.State,
	}
	if cond.ServicedBy != "" {
		filter["serviced_by"] = cond.ServicedBy
	}
	return filter
}

func updateDoc(u queue.TicketUpdate) bson.M {
	return bson.M{
		"$set": bson.M{
			"state":              u.State,
			"serviced_by":        u.ServicedBy,
			"service_started_at": u.ServiceStartedAt,
			"completed_at":       u.CompletedAt,
			"skipped_at":         u.SkippedAt,
			"updated_at":         u.UpdatedAt,
		},
	}
}
