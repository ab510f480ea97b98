package eventlog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLog implements Log on top of Redis Streams: XADD (with MAXLEN
// trimming)/XREADGROUP/XGROUP CREATE/XLEN/XRANGE/XREVRANGE, using the same
// client the L2 cache tier shares
// (spec.md's "single Redis instance, separate key namespace").
type RedisLog struct {
	client    *redis.Client
	maxLength int64
}

// NewRedisLog builds a RedisLog that trims each topic's stream to maxLength
// entries (oldest first) on every append.
func NewRedisLog(client *redis.Client, maxLength int64) *RedisLog {
	return &RedisLog{client: client, maxLength: maxLength}
}

func streamKey(topic string) string { return "cryptodash:stream:" + topic }

func (r *RedisLog) Append(ctx context.Context, topic string, data map[string]any, metadata map[string]string) (string, error) {
	values := make(map[string]any, len(data)+len(metadata))
	for k, v := range data {
		values["data."+k] = fmt.Sprintf("%v", v)
	}
	for k, v := range metadata {
		values["meta."+k] = v
	}

	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(topic),
		MaxLen: r.maxLength,
		Values: values,
	}).Result()
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *RedisLog) CreateGroup(ctx context.Context, topic, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, streamKey(topic), group, "0").Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		// BUSYGROUP means the group already exists; that is not an error
		// for our idempotent-setup callers.
		if isBusyGroup(err) {
			return nil
		}
		return err
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

func (r *RedisLog) Read(ctx context.Context, topic, group, consumer string, count int64) ([]Event, error) {
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{streamKey(topic), ">"},
		Count:    count,
		Block:    -1, // no BLOCK argument: return immediately when nothing is new
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			events = append(events, decodeMessage(topic, msg))
		}
	}
	return events, nil
}

func decodeMessage(topic string, msg redis.XMessage) Event {
	data := make(map[string]any)
	metadata := make(map[string]string)
	for k, v := range msg.Values {
		sv, _ := v.(string)
		switch {
		case len(k) > 5 && k[:5] == "data.":
			data[k[5:]] = sv
		case len(k) > 5 && k[:5] == "meta.":
			metadata[k[5:]] = sv
		}
	}
	return Event{
		ID:        msg.ID,
		Topic:     topic,
		Data:      data,
		Metadata:  metadata,
		Timestamp: idToTime(msg.ID),
	}
}

func idToTime(id string) time.Time {
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			ms, err := strconv.ParseInt(id[:i], 10, 64)
			if err != nil {
				return time.Time{}
			}
			return time.UnixMilli(ms)
		}
	}
	return time.Time{}
}

func (r *RedisLog) Info(ctx context.Context, topic string) (TopicInfo, error) {
	length, err := r.client.XLen(ctx, streamKey(topic)).Result()
	if err != nil {
		return TopicInfo{}, err
	}
	info := TopicInfo{Topic: topic, Length: length, Backend: "redis"}

	if oldest, err := r.client.XRangeN(ctx, streamKey(topic), "-", "+", 1).Result(); err == nil && len(oldest) > 0 {
		info.Oldest = oldest[0].ID
	}
	if newest, err := r.client.XRevRangeN(ctx, streamKey(topic), "+", "-", 1).Result(); err == nil && len(newest) > 0 {
		info.Newest = newest[0].ID
	}
	return info, nil
}
