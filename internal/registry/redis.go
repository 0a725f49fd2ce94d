package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	recipientKeyPrefix = "recipient:"
	recipientIndexKey  = "recipients"
)

// RedisRegistry persists recipients in redis so the broadcast list survives
// restarts. Each recipient is a JSON value keyed by id with a set index for
// listing.
type RedisRegistry struct {
	redis  *redis.Client
	tracer trace.Tracer
	now    func() time.Time
}

// NewRedisRegistry creates a redis-backed registry.
func NewRedisRegistry(client *redis.Client, tracer trace.Tracer) *RedisRegistry {
	if client == nil {
		panic("registry: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("juno.internal.registry")
	}
	return &RedisRegistry{
		redis:  client,
		tracer: tracer,
		now:    time.Now,
	}
}

var _ Registry = (*RedisRegistry)(nil)

// Upsert registers or refreshes a recipient, preserving FirstSeen.
func (r *RedisRegistry) Upsert(ctx context.Context, rec Recipient) error {
	ctx, span := r.tracer.Start(ctx, "registry.upsert")
	defer span.End()
	span.SetAttributes(attribute.String("juno.recipient_id", rec.ID))

	now := r.now()
	if existing, err := r.get(ctx, rec.ID); err == nil {
		rec.FirstSeen = existing.FirstSeen
	} else if rec.FirstSeen.IsZero() {
		rec.FirstSeen = now
	}
	if rec.LastActive.IsZero() {
		rec.LastActive = now
	}

	data, err := json.Marshal(rec)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("registry: failed to marshal recipient: %w", err)
	}

	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, recipientKeyPrefix+rec.ID, data, 0)
	pipe.SAdd(ctx, recipientIndexKey, rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("registry: failed to persist recipient: %w", err)
	}
	return nil
}

// ListRecipients snapshots the recipient set passing the filter.
func (r *RedisRegistry) ListRecipients(ctx context.Context, filter string) ([]Recipient, error) {
	ctx, span := r.tracer.Start(ctx, "registry.list")
	defer span.End()
	span.SetAttributes(attribute.String("juno.filter", filter))

	ids, err := r.redis.SMembers(ctx, recipientIndexKey).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("registry: failed to list recipients: %w", err)
	}

	out := make([]Recipient, 0, len(ids))
	for _, id := range ids {
		rec, err := r.get(ctx, id)
		if err != nil {
			// Index entry without a value: clean it up and move on.
			_ = r.redis.SRem(ctx, recipientIndexKey, id).Err()
			continue
		}
		if matchesFilter(rec.Kind, filter) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Remove drops a recipient from both value and index.
func (r *RedisRegistry) Remove(ctx context.Context, id string) error {
	ctx, span := r.tracer.Start(ctx, "registry.remove")
	defer span.End()
	span.SetAttributes(attribute.String("juno.recipient_id", id))

	pipe := r.redis.TxPipeline()
	pipe.Del(ctx, recipientKeyPrefix+id)
	pipe.SRem(ctx, recipientIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("registry: failed to remove recipient: %w", err)
	}
	return nil
}

// RecordActivity refreshes LastActive for a known recipient.
func (r *RedisRegistry) RecordActivity(ctx context.Context, id string) error {
	ctx, span := r.tracer.Start(ctx, "registry.record_activity")
	defer span.End()

	rec, err := r.get(ctx, id)
	if err != nil {
		return err
	}
	rec.LastActive = r.now()

	data, err := json.Marshal(rec)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("registry: failed to marshal recipient: %w", err)
	}
	if err := r.redis.Set(ctx, recipientKeyPrefix+id, data, 0).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("registry: failed to persist activity: %w", err)
	}
	return nil
}

// Stats counts recipients by kind.
func (r *RedisRegistry) Stats(ctx context.Context) (Stats, error) {
	recipients, err := r.ListRecipients(ctx, FilterAll)
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	for _, rec := range recipients {
		switch rec.Kind {
		case KindGroup:
			s.Groups++
		default:
			s.Users++
		}
	}
	return s, nil
}

func (r *RedisRegistry) get(ctx context.Context, id string) (Recipient, error) {
	data, err := r.redis.Get(ctx, recipientKeyPrefix+id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Recipient{}, ErrNotFound
		}
		return Recipient{}, fmt.Errorf("registry: failed to load recipient: %w", err)
	}
	var rec Recipient
	if err := json.Unmarshal(data, &rec); err != nil {
		return Recipient{}, fmt.Errorf("registry: failed to decode recipient: %w", err)
	}
	return rec, nil
}
