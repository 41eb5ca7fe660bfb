package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/bensco/susu/internal/jobs"
	"github.com/bensco/susu/internal/shared"
)

type stubSweeper struct {
	closed int
	err    error
	calls  int
	during func()
}

func (s *stubSweeper) SweepExpiredCycles(context.Context) (int, error) {
	s.calls++
	if s.during != nil {
		s.during()
	}
	return s.closed, s.err
}

func newLocker(t *testing.T) (*shared.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return shared.NewLocker(client), mr
}

func sweepTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := NewCycleSweepTask(CycleSweepPayload{})
	require.NoError(t, err)
	return task
}

func TestNewCycleSweepTask(t *testing.T) {
	task := sweepTask(t)
	assert.Equal(t, TaskCycleSweep, task.Type())

	var payload CycleSweepPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "cron", payload.Trigger)
}

func TestCycleSweepJobRunsUnderLock(t *testing.T) {
	locker, mr := newLocker(t)
	sweeper := &stubSweeper{closed: 4}
	sweeper.during = func() {
		assert.True(t, mr.Exists(shared.SweepLockKey), "lock must be held while sweeping")
	}
	job := NewCycleSweepJob(sweeper, locker, time.Minute, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), sweepTask(t)))
	assert.Equal(t, 1, sweeper.calls)
	assert.False(t, mr.Exists(shared.SweepLockKey), "lock must be released after the sweep")
}

func TestCycleSweepJobSkipsWhenLockHeld(t *testing.T) {
	locker, _ := newLocker(t)
	lease, err := locker.Acquire(context.Background(), shared.SweepLockKey, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lease.Release(context.Background()) })

	sweeper := &stubSweeper{}
	job := NewCycleSweepJob(sweeper, locker, time.Minute, nil, nil)

	require.NoError(t, job.Handle(context.Background(), sweepTask(t)))
	assert.Zero(t, sweeper.calls)
}

func TestCycleSweepJobPropagatesFailure(t *testing.T) {
	locker, mr := newLocker(t)
	boom := errors.New("database unavailable")
	job := NewCycleSweepJob(&stubSweeper{closed: 1, err: boom}, locker, time.Minute, nil, nil)

	err := job.Handle(context.Background(), sweepTask(t))
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(shared.SweepLockKey))
}

func TestCycleSweepJobRejectsBadPayload(t *testing.T) {
	job := NewCycleSweepJob(&stubSweeper{}, nil, 0, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskCycleSweep, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0,"active":0,"scheduled":0,"retry":0}`, rec.Body.String())
}
