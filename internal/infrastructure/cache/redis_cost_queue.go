package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/farmerp/backend/internal/domain/inventory"
	"github.com/farmerp/backend/internal/domain/shared"
	"github.com/farmerp/backend/internal/infrastructure/config"
	"github.com/farmerp/backend/internal/infrastructure/event"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// queueClient is the subset of *redis.Client the cost queue uses.
type queueClient interface {
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisCostQueue hands cost recalculation requests to an external worker
// through a Redis list. A (location, item, date) already waiting in the
// list is not pushed again until a consumer pops it.
type RedisCostQueue struct {
	client     queueClient
	key        string
	pendingTTL time.Duration
	serializer *event.EventSerializer
	logger     *zap.Logger
}

// NewRedisCostQueue creates a queue writing to the list at key.
func NewRedisCostQueue(client queueClient, key string, logger *zap.Logger) *RedisCostQueue {
	return &RedisCostQueue{
		client:     client,
		key:        key,
		pendingTTL: 24 * time.Hour,
		serializer: event.NewEventSerializer(),
		logger:     logger,
	}
}

// EventTypes implements shared.EventHandler.
func (q *RedisCostQueue) EventTypes() []string {
	return []string{inventory.EventTypeCostRecalculationRequested}
}

// Handle implements shared.EventHandler.
func (q *RedisCostQueue) Handle(ctx context.Context, evt shared.DomainEvent) error {
	req, ok := evt.(*inventory.CostRecalculationRequestedEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T", evt)
	}
	return q.Enqueue(ctx, req)
}

// Enqueue pushes req unless an identical request is already pending.
func (q *RedisCostQueue) Enqueue(ctx context.Context, req *inventory.CostRecalculationRequestedEvent) error {
	fresh, err := q.client.SetNX(ctx, q.pendingKey(req), req.EventID().String(), q.pendingTTL).Result()
	if err != nil {
		return fmt.Errorf("mark cost request pending: %w", err)
	}
	if !fresh {
		q.logger.Debug("cost recalculation already pending",
			zap.String("location_id", req.LocationID.String()),
			zap.String("item_id", req.ItemID.String()),
		)
		return nil
	}

	payload, err := q.serializer.Serialize(req)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		_ = q.client.Del(ctx, q.pendingKey(req)).Err()
		return fmt.Errorf("push cost request: %w", err)
	}
	return nil
}

// Pop blocks up to timeout for the next request. It returns nil, nil when
// the wait times out.
func (q *RedisCostQueue) Pop(ctx context.Context, timeout time.Duration) (*inventory.CostRecalculationRequestedEvent, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop cost request: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("pop cost request: unexpected reply length %d", len(res))
	}

	decoded, err := q.serializer.Deserialize([]byte(res[1]))
	if err != nil {
		return nil, err
	}
	req, ok := decoded.(*inventory.CostRecalculationRequestedEvent)
	if !ok {
		return nil, fmt.Errorf("unexpected event %s on cost queue", decoded.EventType())
	}
	if err := q.client.Del(ctx, q.pendingKey(req)).Err(); err != nil {
		q.logger.Warn("failed to clear pending cost marker", zap.Error(err))
	}
	return req, nil
}

func (q *RedisCostQueue) pendingKey(req *inventory.CostRecalculationRequestedEvent) string {
	return fmt.Sprintf("%s:pending:%s:%s:%s", q.key, req.LocationID, req.ItemID, req.UsageDate.Format(time.DateOnly))
}

var _ shared.EventHandler = (*RedisCostQueue)(nil)
