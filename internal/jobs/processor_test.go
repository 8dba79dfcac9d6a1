package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quinnhq/dispatch/internal/model"
	"github.com/quinnhq/dispatch/internal/store"
)

func newJobsStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "jobs_test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seedRequest(t *testing.T, s store.Store) *model.ServiceRequest {
	t.Helper()
	req := &model.ServiceRequest{
		CallerPhone:   "+15550001111",
		ServiceType:   "plumbing",
		ZipCode:       "90210",
		TrackingToken: "jobsjobsjobstok1",
	}
	require.NoError(t, s.CreateServiceRequest(context.Background(), req))
	return req
}

func enqueue(t *testing.T, s store.Store, jobType model.JobType, requestID string) *model.Job {
	t.Helper()
	job := &model.Job{
		Type:             jobType,
		ServiceRequestID: requestID,
		MaxAttempts:      model.DefaultMaxAttempts,
		ScheduledFor:     time.Now().UTC(),
	}
	require.NoError(t, s.EnqueueJob(context.Background(), job))
	return job
}

func TestTick_EmptyQueue(t *testing.T) {
	t.Parallel()
	s := newJobsStore(t)
	p := NewProcessor(s, Config{})

	ran, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestTick_CompletesJobWithResult(t *testing.T) {
	t.Parallel()
	s := newJobsStore(t)
	ctx := context.Background()
	req := seedRequest(t, s)
	job := enqueue(t, s, model.JobBusinessDiscovery, req.ID)

	p := NewProcessor(s, Config{})
	p.Register(model.JobBusinessDiscovery, func(_ context.Context, j *model.Job) (map[string]any, error) {
		assert.Equal(t, req.ID, j.ServiceRequestID)
		return map[string]any{"businesses": 12}, nil
	})

	ran, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, got.Status)
	assert.EqualValues(t, 12, got.Result["businesses"])
	assert.NotNil(t, got.CompletedAt)
}

func TestTick_ReschedulesOnError(t *testing.T) {
	t.Parallel()
	s := newJobsStore(t)
	ctx := context.Background()
	req := seedRequest(t, s)
	job := enqueue(t, s, model.JobBusinessDiscovery, req.ID)

	p := NewProcessor(s, Config{RetryDelay: time.Minute})
	p.Register(model.JobBusinessDiscovery, func(context.Context, *model.Job) (map[string]any, error) {
		return nil, eris.New("upstream down")
	})

	ran, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.LastError, "upstream down")
	assert.True(t, got.ScheduledFor.After(time.Now().UTC().Add(30*time.Second)))

	// Not due yet, so the queue looks empty.
	ran, err = p.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestTick_FailsPermanentlyAtAttemptCap(t *testing.T) {
	t.Parallel()
	s := newJobsStore(t)
	ctx := context.Background()
	req := seedRequest(t, s)
	job := enqueue(t, s, model.JobBusinessDiscovery, req.ID)

	calls := 0
	p := NewProcessor(s, Config{RetryDelay: time.Nanosecond})
	p.Register(model.JobBusinessDiscovery, func(context.Context, *model.Job) (map[string]any, error) {
		calls++
		return nil, eris.New("always broken")
	})

	for i := 0; i < model.DefaultMaxAttempts; i++ {
		ran, err := p.Tick(ctx)
		require.NoError(t, err)
		assert.True(t, ran)
	}
	assert.Equal(t, model.DefaultMaxAttempts, calls)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, got.Status)
	assert.Contains(t, got.LastError, "always broken")

	ran, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, ran, "a failed job is never retried")
}

func TestTick_HandlerPanicIsRetried(t *testing.T) {
	t.Parallel()
	s := newJobsStore(t)
	ctx := context.Background()
	req := seedRequest(t, s)
	job := enqueue(t, s, model.JobBusinessDiscovery, req.ID)

	p := NewProcessor(s, Config{RetryDelay: time.Nanosecond})
	p.Register(model.JobBusinessDiscovery, func(context.Context, *model.Job) (map[string]any, error) {
		panic("nil map write")
	})

	var tickErr error
	require.NotPanics(t, func() {
		_, tickErr = p.Tick(ctx)
	})
	require.NoError(t, tickErr)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, got.Status, "a panic takes the same retry path as an error")
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.LastError, "panic")
	assert.Contains(t, got.LastError, "nil map write")

	// The panic keeps recurring, so the attempt cap still applies.
	for i := 1; i < model.DefaultMaxAttempts; i++ {
		_, err := p.Tick(ctx)
		require.NoError(t, err)
	}
	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, got.Status)
}

func TestTick_NoHandlerFailsJob(t *testing.T) {
	t.Parallel()
	s := newJobsStore(t)
	ctx := context.Background()
	req := seedRequest(t, s)
	job := enqueue(t, s, model.JobSMSConfirmation, req.ID)

	p := NewProcessor(s, Config{})

	ran, err := p.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, ran)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, got.Status)
	assert.Contains(t, got.LastError, "no handler")
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()
	s := newJobsStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	p := NewProcessor(s, Config{PollInterval: 10 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
