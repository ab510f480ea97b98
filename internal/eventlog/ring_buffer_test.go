package eventlog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferLog_TrimsToMaxLength(t *testing.T) {
	log := NewRingBufferLog(3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := log.Append(ctx, "prices", map[string]any{"n": i}, nil)
		require.NoError(t, err)
	}

	info, err := log.Info(ctx, "prices")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Length)
}

func TestRingBufferLog_ConsumerGroupCursorAdvances(t *testing.T) {
	log := NewRingBufferLog(10)
	ctx := context.Background()
	require.NoError(t, log.CreateGroup(ctx, "prices", "sync-worker"))

	for i := 0; i < 4; i++ {
		_, err := log.Append(ctx, "prices", map[string]any{"n": i}, nil)
		require.NoError(t, err)
	}

	first, err := log.Read(ctx, "prices", "sync-worker", "c1", 2)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	second, err := log.Read(ctx, "prices", "sync-worker", "c1", 10)
	require.NoError(t, err)
	assert.Len(t, second, 2)
}

type alwaysFailLog struct{}

func (alwaysFailLog) Append(context.Context, string, map[string]any, map[string]string) (string, error) {
	return "", errors.New("backend unreachable")
}
func (alwaysFailLog) Read(context.Context, string, string, string, int64) ([]Event, error) {
	return nil, errors.New("backend unreachable")
}
func (alwaysFailLog) CreateGroup(context.Context, string, string) error {
	return errors.New("backend unreachable")
}
func (alwaysFailLog) Info(context.Context, string) (TopicInfo, error) {
	return TopicInfo{}, errors.New("backend unreachable")
}

func TestFallback_RoutesToSecondaryWhenPrimaryUnreachable(t *testing.T) {
	fb := &Fallback{Primary: alwaysFailLog{}, Secondary: NewRingBufferLog(10)}
	ctx := context.Background()

	id, err := fb.Append(ctx, "prices", map[string]any{"btc": 65000}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	info, err := fb.Info(ctx, "prices")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Length)
}
