package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockKV struct {
	mock.Mock
}

func (m *mockKV) Get(ctx context.Context, key string) (string, bool, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockKV) SetMany(ctx context.Context, values map[string]string) error {
	args := m.Called(ctx, values)
	return args.Error(0)
}

func (m *mockKV) Delete(ctx context.Context, keys ...string) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}

func (m *mockKV) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockKV) Close() error {
	return m.Called().Error(0)
}

func TestFailoverKVStore(t *testing.T) {
	primary := new(mockKV)
	fallback := NewMemoryKVStore()
	logger := zerolog.New(io.Discard)
	repo := NewFailoverKVStore(primary, fallback, &logger)
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Get", ctx, "active_queue").Return("[]", true, nil).Once()

		v, ok, err := repo.Get(ctx, "active_queue")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "[]", v)
		assert.False(t, repo.Degraded())
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackWrite", func(t *testing.T) {
		values := map[string]string{"active_queue": "[1]"}
		primary.On("SetMany", ctx, values).Return(errors.New("disk full")).Once()

		require.NoError(t, repo.SetMany(ctx, values))
		assert.True(t, repo.Degraded())

		v, ok, err := repo.Get(ctx, "active_queue")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "[1]", v)
		primary.AssertExpectations(t)
	})

	t.Run("NoRecoveryBeforeInterval", func(t *testing.T) {
		now = now.Add(30 * time.Second)
		_, _, err := repo.Get(ctx, "active_queue")
		require.NoError(t, err)
		assert.True(t, repo.Degraded())
		primary.AssertNotCalled(t, "Ping", ctx)
	})

	t.Run("RecoveryAttemptFail", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		primary.On("Ping", ctx).Return(errors.New("still down")).Once()

		v, _, err := repo.Get(ctx, "active_queue")
		require.NoError(t, err)
		assert.Equal(t, "[1]", v)
		assert.True(t, repo.Degraded())
		primary.AssertExpectations(t)
	})

	t.Run("RecoveryReplaysFallbackWrites", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		primary.On("Ping", ctx).Return(nil).Once()
		primary.On("SetMany", ctx, map[string]string{"active_queue": "[1]"}).Return(nil).Once()
		primary.On("Get", ctx, "active_queue").Return("[1]", true, nil).Once()

		v, ok, err := repo.Get(ctx, "active_queue")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "[1]", v)
		assert.False(t, repo.Degraded())
		assert.Empty(t, fallback.Snapshot())
		primary.AssertExpectations(t)
	})

	t.Run("DeleteFailover", func(t *testing.T) {
		primary.On("Delete", ctx, []string{"completed_queue"}).Return(errors.New("fail")).Once()

		assert.NoError(t, repo.Delete(ctx, "completed_queue"))
		assert.True(t, repo.Degraded())
		primary.AssertExpectations(t)
	})

	t.Run("PingAndCloseUsePrimary", func(t *testing.T) {
		primary.On("Ping", ctx).Return(nil).Once()
		primary.On("Close").Return(nil).Once()

		assert.NoError(t, repo.Ping(ctx))
		assert.NoError(t, repo.Close())
		primary.AssertExpectations(t)
	})
}
