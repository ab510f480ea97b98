// Package eventlog implements the append-only per-topic Event Log (C3):
// Redis Streams when Redis is reachable, an in-process ring buffer when it
// is not. Both implementations share the Log interface so the rest of the
// system is oblivious to which backend is serving a given moment.
package eventlog

import (
	"context"
	"time"
)

// Event is one entry in a topic's log.
type Event struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Data      map[string]any    `json:"data"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp time.Time         `json:"timestamp"`
}

// TopicInfo summarizes a topic's current state. Backend names which
// implementation actually served the call ("redis" or "ring_buffer") so a
// caller hitting Fallback can tell whether Redis is currently reachable,
// per spec.md §4.3: "Callers are informed via the backend field of info."
type TopicInfo struct {
	Topic   string `json:"topic"`
	Length  int64  `json:"length"`
	Oldest  string `json:"oldest_id,omitempty"`
	Newest  string `json:"newest_id,omitempty"`
	Backend string `json:"backend"`
}

// Log is the Event Log contract. Implementations: *RedisLog (primary),
// *RingBufferLog (fallback when Redis is unreachable).
type Log interface {
	Append(ctx context.Context, topic string, data map[string]any, metadata map[string]string) (string, error)
	Read(ctx context.Context, topic, group, consumer string, count int64) ([]Event, error)
	CreateGroup(ctx context.Context, topic, group string) error
	Info(ctx context.Context, topic string) (TopicInfo, error)
}

// Fallback wraps a primary Log (Redis-backed) and a secondary Log
// (ring-buffer) and routes to the secondary whenever the primary's call
// returns an error — the event log must never lose an event because Redis
// is briefly down, per the append-only/no-loss invariant. The primary call
// runs to completion first, including any retries the Redis client itself
// performs, before the secondary is tried.
type Fallback struct {
	Primary   Log
	Secondary Log
}

func (f *Fallback) Append(ctx context.Context, topic string, data map[string]any, metadata map[string]string) (string, error) {
	id, err := f.Primary.Append(ctx, topic, data, metadata)
	if err == nil {
		return id, nil
	}
	return f.Secondary.Append(ctx, topic, data, metadata)
}

func (f *Fallback) Read(ctx context.Context, topic, group, consumer string, count int64) ([]Event, error) {
	events, err := f.Primary.Read(ctx, topic, group, consumer, count)
	if err == nil {
		return events, nil
	}
	return f.Secondary.Read(ctx, topic, group, consumer, count)
}

func (f *Fallback) CreateGroup(ctx context.Context, topic, group string) error {
	if err := f.Primary.CreateGroup(ctx, topic, group); err != nil {
		return f.Secondary.CreateGroup(ctx, topic, group)
	}
	return nil
}

func (f *Fallback) Info(ctx context.Context, topic string) (TopicInfo, error) {
	info, err := f.Primary.Info(ctx, topic)
	if err == nil {
		return info, nil
	}
	return f.Secondary.Info(ctx, topic)
}
