package reader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulator_TouchDelivery(t *testing.T) {
	s := NewSimulator()
	now := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	require.True(t, s.Touch("0123456789ABCDEF"))

	touch := <-s.Touches()
	assert.Equal(t, "0123456789ABCDEF", touch.Idm)
	assert.Equal(t, now, touch.At)
}

func TestSimulator_DropsWhenSaturated(t *testing.T) {
	s := NewSimulator()
	for i := 0; i < 32; i++ {
		require.True(t, s.Touch("C1"))
	}
	assert.False(t, s.Touch("C1"), "a full buffer must drop, not block")
}

func TestSimulator_BrokenCard(t *testing.T) {
	ctx := context.Background()
	s := NewSimulator()
	s.SetBalance("C1", 1200)
	s.SetBroken("C1", true)

	_, err := s.ReadBalance(ctx, "C1")
	require.ErrorIs(t, err, ErrReadFailed)
	_, err = s.ReadHistory(ctx, "C1")
	require.ErrorIs(t, err, ErrReadFailed)

	s.SetBroken("C1", false)
	bal, err := s.ReadBalance(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), bal)
}

func TestSimulator_AddUsageTracksBalance(t *testing.T) {
	ctx := context.Background()
	s := NewSimulator()
	s.SetBalance("C1", 1500)
	s.AddUsage("C1", UsageEntry{Kind: KindTrain, Expense: 260, BalanceAfter: 1240})

	bal, err := s.ReadBalance(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, int64(1240), bal)

	hist, err := s.ReadHistory(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, hist, 1)

	// 返ってきたスライスを書き換えても内部の台本は壊れない
	hist[0].Expense = 9999
	hist2, err := s.ReadHistory(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, int64(260), hist2[0].Expense)
}

func TestSimulator_CloseStopsInjection(t *testing.T) {
	s := NewSimulator()
	s.Close()

	assert.False(t, s.Touch("C1"))
	_, open := <-s.Touches()
	assert.False(t, open)

	// 二重 Close も安全
	require.NotPanics(t, func() { s.Close() })
}

func TestSimulator_ReadHonorsContext(t *testing.T) {
	s := NewSimulator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ReadBalance(ctx, "C1")
	require.ErrorIs(t, err, context.Canceled)
}
