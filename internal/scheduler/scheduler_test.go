package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/rebroadcastr/internal/config"
)

type countingRestarter struct {
	calls atomic.Int32
	err   error
}

func (r *countingRestarter) RestartAll(context.Context) error {
	r.calls.Add(1)
	return r.err
}

type recordingPruner struct {
	cutoff atomic.Int64
}

func (p *recordingPruner) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	p.cutoff.Store(cutoff.Unix())
	return 3, nil
}

func TestScheduler_RunsRestartJob(t *testing.T) {
	r := &countingRestarter{}
	s := NewScheduler(config.SchedulerConfig{RestartCron: "@every 1s"}, r, nil)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool { return r.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestScheduler_RestartErrorKeepsRunning(t *testing.T) {
	r := &countingRestarter{err: errors.New("camera offline")}
	s := NewScheduler(config.SchedulerConfig{RestartCron: "@every 1s"}, r, nil)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool { return r.calls.Load() >= 2 }, 4*time.Second, 50*time.Millisecond)
}

func TestScheduler_PrunesAlerts(t *testing.T) {
	p := &recordingPruner{}
	s := NewScheduler(config.SchedulerConfig{
		AlertPruneCron: "@every 1s",
		AlertRetention: time.Hour,
	}, &countingRestarter{}, p)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool { return p.cutoff.Load() != 0 }, 3*time.Second, 50*time.Millisecond)
	assert.InDelta(t, time.Now().Add(-time.Hour).Unix(), p.cutoff.Load(), 5)
}

func TestScheduler_EmptyExpressionDisablesJob(t *testing.T) {
	s := NewScheduler(config.SchedulerConfig{}, &countingRestarter{}, &recordingPruner{})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.Empty(t, s.Entries())
}

func TestScheduler_DefaultRestartExpression(t *testing.T) {
	s := NewScheduler(config.SchedulerConfig{RestartCron: "0 0 2 * * *", Timezone: "UTC"}, &countingRestarter{}, nil)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	entries := s.Entries()
	require.Len(t, entries, 1)
	next := entries[0].UTC()
	assert.Equal(t, 2, next.Hour())
	assert.Equal(t, 0, next.Minute())
	assert.Equal(t, 0, next.Second())
}

func TestScheduler_InvalidExpression(t *testing.T) {
	s := NewScheduler(config.SchedulerConfig{RestartCron: "not a cron"}, &countingRestarter{}, nil)
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restart_pools")
}

func TestScheduler_InvalidTimezone(t *testing.T) {
	s := NewScheduler(config.SchedulerConfig{Timezone: "Mars/Olympus"}, &countingRestarter{}, nil)
	require.Error(t, s.Start(context.Background()))
}

func TestScheduler_StartTwice(t *testing.T) {
	s := NewScheduler(config.SchedulerConfig{}, &countingRestarter{}, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.Error(t, s.Start(context.Background()))
}

func TestScheduler_ValidateCron(t *testing.T) {
	s := NewScheduler(config.SchedulerConfig{}, &countingRestarter{}, nil)

	assert.NoError(t, s.ValidateCron("0 0 2 * * *"))
	assert.NoError(t, s.ValidateCron("@daily"))
	assert.Error(t, s.ValidateCron("0 2 * * *"))

	next, err := s.ParseCron("0 0 2 * * *")
	require.NoError(t, err)
	assert.True(t, next.After(time.Now()))
}
