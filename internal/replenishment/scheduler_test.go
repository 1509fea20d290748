package replenishment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fulfillment/internal/platform/cache"
	"github.com/odyssey-erp/fulfillment/internal/shared"
	"github.com/odyssey-erp/fulfillment/jobs"
)

type fakeRunner struct {
	mu       sync.Mutex
	triggers []Trigger
	existing map[string]bool
	started  chan struct{}
	release  chan struct{}
	err      error
}

func (r *fakeRunner) RunSnapshot(ctx context.Context, trigger Trigger) (Snapshot, error) {
	r.mu.Lock()
	r.triggers = append(r.triggers, trigger)
	started, release := r.started, r.release
	r.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return Snapshot{Date: "2026-10-16", Trigger: trigger}, r.err
}

func (r *fakeRunner) HasSnapshotFor(ctx context.Context, date string) (bool, error) {
	return r.existing[date], nil
}

func (r *fakeRunner) calls() []Trigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Trigger(nil), r.triggers...)
}

func newScheduler(runner Runner, locker *cache.Locker, now time.Time) *Scheduler {
	s := NewScheduler(runner, locker, SchedulerConfig{Hour: 6, Minute: 30, Location: wib, CatchUp: true}, discardLogger())
	s.now = func() time.Time { return now }
	return s
}

func TestSchedulerSpec(t *testing.T) {
	s := newScheduler(&fakeRunner{}, nil, runTime)
	assert.Equal(t, "30 6 * * *", s.Spec())
}

func TestRunNowRejectsOverlap(t *testing.T) {
	runner := &fakeRunner{started: make(chan struct{}), release: make(chan struct{})}
	s := newScheduler(runner, nil, runTime)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunNow(context.Background(), TriggerManual)
		done <- err
	}()
	<-runner.started

	_, err := s.RunNow(context.Background(), TriggerManual)
	require.ErrorIs(t, err, ErrRunInProgress)

	close(runner.release)
	require.NoError(t, <-done)

	runner.mu.Lock()
	runner.started, runner.release = nil, nil
	runner.mu.Unlock()
	snap, err := s.RunNow(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, TriggerManual, snap.Trigger)
	assert.Len(t, runner.calls(), 2)
}

func TestRunNowHonoursRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	runner := &fakeRunner{}
	s := newScheduler(runner, cache.NewLocker(client), runTime)

	require.NoError(t, mr.Set(lockKey, "other-worker"))
	_, err := s.RunNow(context.Background(), TriggerManual)
	require.ErrorIs(t, err, ErrRunInProgress)
	assert.Empty(t, runner.calls())

	mr.Del(lockKey)
	_, err = s.RunNow(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Len(t, runner.calls(), 1)
	assert.False(t, mr.Exists(lockKey), "lock released after the run")
}

func TestCatchUp(t *testing.T) {
	cases := []struct {
		name     string
		now      time.Time
		existing bool
		want     bool
	}{
		// 06:00 WIB, before the 06:30 slot.
		{"before the slot", time.Date(2026, 10, 15, 23, 0, 0, 0, time.UTC), false, false},
		// 09:00 WIB, slot passed, nothing stored.
		{"slot missed", runTime, false, true},
		{"already ran today", runTime, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &fakeRunner{existing: map[string]bool{"2026-10-16": tc.existing}}
			s := newScheduler(runner, nil, tc.now)
			ran, err := s.CatchUp(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.want, ran)
			if tc.want {
				assert.Equal(t, []Trigger{TriggerCatchUp}, runner.calls())
			} else {
				assert.Empty(t, runner.calls())
			}
		})
	}
}

func TestStartRunsCatchUpAndStops(t *testing.T) {
	runner := &fakeRunner{started: make(chan struct{}, 1)}
	s := newScheduler(runner, nil, runTime)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx))
	require.Error(t, s.Start(ctx))

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("catch-up run did not start")
	}
	s.Stop()
	assert.Equal(t, []Trigger{TriggerCatchUp}, runner.calls())
	s.Stop()
}

func TestSnapshotJob(t *testing.T) {
	var got []Trigger
	job := NewSnapshotJob(func(ctx context.Context, trigger Trigger) (Snapshot, error) {
		got = append(got, trigger)
		if len(got) == 2 {
			return Snapshot{}, ErrRunInProgress
		}
		if len(got) == 3 {
			return Snapshot{}, errors.New("database down")
		}
		return Snapshot{Date: "2026-10-16"}, nil
	}, discardLogger())

	task, err := jobs.NewReplenishmentSnapshotTask(jobs.ReplenishmentPayload{RequestedBy: 14})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.NoError(t, job.Handle(context.Background(), task))
	require.Error(t, job.Handle(context.Background(), task))
	assert.Equal(t, []Trigger{TriggerQueued, TriggerQueued, TriggerQueued}, got)

	bad := asynq.NewTask(jobs.TaskReplenishmentSnapshot, []byte("{"))
	require.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)
}

func TestHandlerRunRequiresElevatedRole(t *testing.T) {
	f := newFixture(t, seedStore(), nil)
	s := newScheduler(f.svc, nil, runTime)
	h := NewHandler(discardLogger(), f.svc, s.RunNow)
	r := chi.NewRouter()
	h.MountRoutes(r)

	call := func(method, path string, actor *shared.Actor) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		if actor != nil {
			req = req.WithContext(shared.ContextWithActor(req.Context(), *actor))
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, call(http.MethodPost, "/snapshots", nil).Code)
	assert.Equal(t, http.StatusForbidden, call(http.MethodPost, "/snapshots", &shared.Actor{ID: 11, Role: shared.RoleStaff}).Code)
	assert.Equal(t, http.StatusNotFound, call(http.MethodGet, "/snapshots/latest", nil).Code)

	rec := call(http.MethodPost, "/snapshots", &shared.Actor{ID: 14, Role: shared.RoleManager})
	require.Equal(t, http.StatusOK, rec.Code)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, TriggerManual, snap.Trigger)
	assert.Equal(t, 2, snap.Summary.Total)

	rec = call(http.MethodGet, "/snapshots/2026-10-16", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusBadRequest, call(http.MethodGet, "/snapshots/yesterday", nil).Code)
}
