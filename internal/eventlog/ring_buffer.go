package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RingBufferLog is the in-process fallback Event Log used when Redis is
// unreachable. It keeps at most maxLength events per topic, trimming the
// oldest first — the in-process analogue of XTRIM — and tracks one cursor
// per (topic, group) so Read is still consumer-group shaped even without
// Redis backing it.
type RingBufferLog struct {
	mu        sync.Mutex
	maxLength int
	topics    map[string][]Event
	cursors   map[string]int // "topic|group" -> next index to deliver
}

func NewRingBufferLog(maxLength int) *RingBufferLog {
	return &RingBufferLog{
		maxLength: maxLength,
		topics:    make(map[string][]Event),
		cursors:   make(map[string]int),
	}
}

func (r *RingBufferLog) Append(_ context.Context, topic string, data map[string]any, metadata map[string]string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	id := fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
	event := Event{ID: id, Topic: topic, Data: data, Metadata: metadata, Timestamp: now}

	events := append(r.topics[topic], event)
	if len(events) > r.maxLength {
		dropped := len(events) - r.maxLength
		events = events[dropped:]
		// cursors indexed into the old slice are now stale; shift them by
		// the number of dropped events and clamp at 0 so a slow consumer
		// group resumes at the new oldest entry rather than panicking on
		// out-of-range access.
		prefix := topic + "|"
		for key, cursor := range r.cursors {
			if len(key) > len(prefix) && key[:len(prefix)] == prefix {
				cursor -= dropped
				if cursor < 0 {
					cursor = 0
				}
				r.cursors[key] = cursor
			}
		}
	}
	r.topics[topic] = events
	return id, nil
}

func (r *RingBufferLog) CreateGroup(_ context.Context, topic, group string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := cursorKey(topic, group)
	if _, ok := r.cursors[key]; !ok {
		r.cursors[key] = len(r.topics[topic])
	}
	return nil
}

func cursorKey(topic, group string) string { return topic + "|" + group }

func (r *RingBufferLog) Read(_ context.Context, topic, group, _ string, count int64) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := cursorKey(topic, group)
	start, ok := r.cursors[key]
	if !ok {
		start = 0
	}

	events := r.topics[topic]
	if start > len(events) {
		start = len(events)
	}
	end := start + int(count)
	if end > len(events) || count <= 0 {
		end = len(events)
	}

	out := make([]Event, end-start)
	copy(out, events[start:end])
	r.cursors[key] = end
	return out, nil
}

func (r *RingBufferLog) Info(_ context.Context, topic string) (TopicInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.topics[topic]
	info := TopicInfo{Topic: topic, Length: int64(len(events)), Backend: "ring_buffer"}
	if len(events) > 0 {
		info.Oldest = events[0].ID
		info.Newest = events[len(events)-1].ID
	}
	return info, nil
}
