package repository

import (
	"context"
	"time"

	"github.com/example/ordershop/pkg/config"
	"github.com/example/ordershop/pkg/events"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository keeps the order audit trail. It implements events.Publisher
// so it can sit next to the broker publishers.
type MongoRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoRepository(cfg *config.MongoDBConfig) (*MongoRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}

	return NewMongoRepositoryFromCollection(client.Database(cfg.Database).Collection(cfg.Collection)), nil
}

// NewMongoRepositoryFromCollection wraps an existing collection; the client
// it belongs to is closed by Close.
func NewMongoRepositoryFromCollection(collection *mongo.Collection) *MongoRepository {
	return &MongoRepository{
		client:     collection.Database().Client(),
		collection: collection,
	}
}

func (m *MongoRepository) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoRepository) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// AuditLog represents an audit log entry
type AuditLog struct {
	ID        string    `bson:"_id,omitempty" json:"id,omitempty"`
	Service   string    `bson:"service" json:"service"`
	Action    string    `bson:"action" json:"action"`
	EntityID  string    `bson:"entity_id" json:"entityId"`
	ActorID   string    `bson:"actor_id,omitempty" json:"actorId,omitempty"`
	Data      bson.M    `bson:"data" json:"data,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

func (m *MongoRepository) CreateAuditLog(ctx context.Context, log *AuditLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	_, err := m.collection.InsertOne(ctx, log)
	return err
}

// GetAuditLogs returns the newest entries recorded for entityID.
func (m *MongoRepository) GetAuditLogs(ctx context.Context, entityID string, limit int64) ([]*AuditLog, error) {
	filter := bson.M{"entity_id": entityID}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var logs []*AuditLog
	if err = cursor.All(ctx, &logs); err != nil {
		return nil, err
	}

	return logs, nil
}

func (m *MongoRepository) PublishOrderEvent(ctx context.Context, event events.OrderEvent) error {
	return m.CreateAuditLog(ctx, auditLogFromEvent(event))
}

func auditLogFromEvent(event events.OrderEvent) *AuditLog {
	data := bson.M{
		"order_number": event.OrderNumber,
		"user_id":      event.UserID,
	}
	if event.PreviousStatus != "" || event.CurrentStatus != "" {
		data["previous_status"] = event.PreviousStatus
		data["current_status"] = event.CurrentStatus
	}
	if event.PaymentStatus != "" {
		data["previous_payment_status"] = event.PreviousPaymentStatus
		data["payment_status"] = event.PaymentStatus
	}
	for k, v := range event.Metadata {
		data[k] = v
	}
	return &AuditLog{
		Service:   "order-service",
		Action:    event.Type,
		EntityID:  event.OrderID,
		ActorID:   event.ActorID,
		Data:      data,
		CreatedAt: event.OccurredAt,
	}
}
