package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-remote-jobs/pkg/core"
	"github.com/jdziat/simple-remote-jobs/pkg/handlers"
)

// mockStorage implements core.Storage for testing
type mockStorage struct {
	mu         sync.Mutex
	jobs       map[string]*core.Job
	cancelled  []string
	enqueueErr error
	cancelErr  error
}

func newMockStorage() *mockStorage {
	return &mockStorage{jobs: make(map[string]*core.Job)}
}

func (m *mockStorage) Migrate(context.Context) error { return nil }

func (m *mockStorage) Enqueue(_ context.Context, job *core.Job) error {
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *mockStorage) Dequeue(context.Context, string, string) (*core.Job, error) {
	return nil, nil
}

func (m *mockStorage) Complete(context.Context, string, string, int) error { return nil }

func (m *mockStorage) Fail(context.Context, string, string, string, *time.Time) error { return nil }

func (m *mockStorage) ClaimJobs(context.Context, string, []string, int) (int64, error) {
	return 0, nil
}

func (m *mockStorage) AssignHandler(context.Context, string, string) error { return nil }

func (m *mockStorage) SetExternalID(context.Context, string, string, string) error { return nil }

func (m *mockStorage) SetWorkingDirectory(context.Context, string, string, string) error {
	return nil
}

func (m *mockStorage) Cancel(_ context.Context, jobID string) error {
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, jobID)
	return nil
}

func (m *mockStorage) Heartbeat(context.Context, string, string) error { return nil }

func (m *mockStorage) ReleaseStaleLocks(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func (m *mockStorage) GetJob(_ context.Context, jobID string) (*core.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, core.ErrJobNotFound
	}
	return j, nil
}

func (m *mockStorage) GetJobsByState(context.Context, core.JobState, int) ([]*core.Job, error) {
	return nil, nil
}

func (m *mockStorage) GetJobsByHandler(context.Context, string, int) ([]*core.Job, error) {
	return nil, nil
}

type mockStarter struct{}

func (mockStarter) Start(context.Context) error { return nil }

// newRegistry builds h0 (tag handlers), h1 (tags handlers, batch) and h2
// (tag batch) with default "handlers".
func newRegistry(t *testing.T, method handlers.AssignMethod) *handlers.Registry {
	t.Helper()
	r := handlers.NewRegistry(handlers.WithAssignMethod(method))
	require.NoError(t, r.Register("h0", []string{"handlers"}))
	require.NoError(t, r.Register("h1", []string{"handlers", "batch"}))
	require.NoError(t, r.Register("h2", []string{"batch"}))
	_, err := r.ResolveDefault("handlers")
	require.NoError(t, err)
	return r
}

func TestQueue_Enqueue_Preassign(t *testing.T) {
	store := newMockStorage()
	q := New(store, newRegistry(t, handlers.AssignPreassign))

	id, err := q.Enqueue(context.Background(), "cat1", "cat in > out",
		Handler("batch"),
		HandlerIndex(1),
		Destination("local"),
		Input("input1", "/data/1.dat", 1),
		Output("out_file1", "/data/2.dat", 2),
	)
	require.NoError(t, err)

	job := store.jobs[id]
	require.NotNil(t, job)
	assert.Equal(t, "h2", job.Handler, "index 1 of pool [h1 h2]")
	assert.Equal(t, core.StateQueued, job.State)
	assert.Equal(t, "cat1", job.ToolID)
	assert.Equal(t, "local", job.Destination)
	assert.Len(t, job.Datasets, 2)
}

func TestQueue_Enqueue_PreassignDeterministic(t *testing.T) {
	store := newMockStorage()
	q := New(store, newRegistry(t, handlers.AssignPreassign))
	ctx := context.Background()

	a, err := q.Enqueue(ctx, "cat1", "true", Handler("batch"), HandlerIndex(4))
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, "cat1", "true", Handler("batch"), HandlerIndex(4))
	require.NoError(t, err)

	assert.Equal(t, store.jobs[a].Handler, store.jobs[b].Handler)
}

func TestQueue_Enqueue_PreassignDefaultPool(t *testing.T) {
	store := newMockStorage()
	q := New(store, newRegistry(t, handlers.AssignPreassign))

	id, err := q.Enqueue(context.Background(), "cat1", "true")
	require.NoError(t, err)
	assert.Contains(t, []string{"h0", "h1"}, store.jobs[id].Handler)
}

func TestQueue_Enqueue_SkipLocked(t *testing.T) {
	store := newMockStorage()
	q := New(store, newRegistry(t, handlers.AssignSkipLocked))
	ctx := context.Background()

	tagged, err := q.Enqueue(ctx, "cat1", "true", Handler("batch"))
	require.NoError(t, err)
	assert.Equal(t, "batch", store.jobs[tagged].Handler)
	assert.Equal(t, core.StateNew, store.jobs[tagged].State)

	direct, err := q.Enqueue(ctx, "cat1", "true", Handler("h2"))
	require.NoError(t, err)
	assert.Equal(t, "h2", store.jobs[direct].Handler)
	assert.Equal(t, core.StateQueued, store.jobs[direct].State)

	def, err := q.Enqueue(ctx, "cat1", "true")
	require.NoError(t, err)
	assert.Equal(t, "handlers", store.jobs[def].Handler)
}

func TestQueue_Enqueue_Self(t *testing.T) {
	store := newMockStorage()
	q := New(store, newRegistry(t, handlers.AssignSelf), WithSelfHandler("h1"))

	id, err := q.Enqueue(context.Background(), "cat1", "true", Handler("batch"))
	require.NoError(t, err)
	assert.Equal(t, "h1", store.jobs[id].Handler)
	assert.Equal(t, core.StateQueued, store.jobs[id].State)

	noSelf := New(store, newRegistry(t, handlers.AssignSelf))
	_, err = noSelf.Enqueue(context.Background(), "cat1", "true")
	assert.ErrorIs(t, err, core.ErrUnknownHandler)
}

func TestQueue_Enqueue_UnknownHandler(t *testing.T) {
	for _, method := range []handlers.AssignMethod{handlers.AssignPreassign, handlers.AssignSkipLocked} {
		t.Run(string(method), func(t *testing.T) {
			store := newMockStorage()
			q := New(store, newRegistry(t, method))

			_, err := q.Enqueue(context.Background(), "cat1", "true", Handler("gpu"))
			assert.ErrorIs(t, err, core.ErrUnknownHandler)
			assert.Empty(t, store.jobs)
		})
	}
}

func TestQueue_Enqueue_Validation(t *testing.T) {
	q := New(newMockStorage(), newRegistry(t, handlers.AssignPreassign))
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "", "true")
	assert.ErrorIs(t, err, core.ErrInvalidToolID)

	_, err = q.Enqueue(ctx, "bad tool", "true")
	assert.ErrorIs(t, err, core.ErrInvalidToolID)

	_, err = q.Enqueue(ctx, "cat1", strings.Repeat("x", 1<<20+1))
	assert.ErrorIs(t, err, core.ErrCommandLineTooLarge)
}

func TestQueue_Enqueue_Schedule(t *testing.T) {
	store := newMockStorage()
	q := New(store, newRegistry(t, handlers.AssignPreassign))
	ctx := context.Background()

	before := time.Now()
	id, err := q.Enqueue(ctx, "cat1", "true", Delay(time.Hour), Retries(3))
	require.NoError(t, err)
	job := store.jobs[id]
	require.NotNil(t, job.RunAt)
	assert.True(t, job.RunAt.After(before.Add(59*time.Minute)))
	assert.Equal(t, 3, job.MaxRetries)

	at := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	id, err = q.Enqueue(ctx, "cat1", "true", Delay(time.Hour), At(at))
	require.NoError(t, err)
	assert.Equal(t, at, *store.jobs[id].RunAt)
}

func TestQueue_Enqueue_StorageError(t *testing.T) {
	store := newMockStorage()
	store.enqueueErr = errors.New("disk full")
	q := New(store, newRegistry(t, handlers.AssignPreassign))

	_, err := q.Enqueue(context.Background(), "cat1", "true")
	assert.ErrorContains(t, err, "disk full")
}

func TestQueue_Enqueue_EmitsEvent(t *testing.T) {
	q := New(newMockStorage(), newRegistry(t, handlers.AssignPreassign))
	events := q.Events()
	defer q.Unsubscribe(events)

	id, err := q.Enqueue(context.Background(), "cat1", "true")
	require.NoError(t, err)

	select {
	case e := <-events:
		enq, ok := e.(*core.JobEnqueued)
		require.True(t, ok)
		assert.Equal(t, id, enq.Job.ID)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}

func TestQueue_Cancel(t *testing.T) {
	store := newMockStorage()
	q := New(store, newRegistry(t, handlers.AssignPreassign))

	var cancelled bool
	q.RegisterRunningJob("job-1", func() { cancelled = true })

	events := q.Events()
	defer q.Unsubscribe(events)

	require.NoError(t, q.Cancel(context.Background(), "job-1"))
	assert.True(t, cancelled)
	assert.Equal(t, []string{"job-1"}, store.cancelled)

	e := <-events
	c, ok := e.(*core.JobCancelled)
	require.True(t, ok)
	assert.Equal(t, "job-1", c.JobID)
}

func TestQueue_Cancel_StorageError(t *testing.T) {
	store := newMockStorage()
	store.cancelErr = core.ErrJobNotFound
	q := New(store, newRegistry(t, handlers.AssignPreassign))

	var cancelled bool
	q.RegisterRunningJob("job-1", func() { cancelled = true })

	err := q.Cancel(context.Background(), "job-1")
	assert.ErrorIs(t, err, core.ErrJobNotFound)
	assert.False(t, cancelled)
}

func TestQueue_UnregisterRunningJob(t *testing.T) {
	q := New(newMockStorage(), newRegistry(t, handlers.AssignPreassign))

	var cancelled bool
	q.RegisterRunningJob("job-1", func() { cancelled = true })
	q.UnregisterRunningJob("job-1")
	q.UnregisterRunningJob("never-registered")

	require.NoError(t, q.Cancel(context.Background(), "job-1"))
	assert.False(t, cancelled)
}

func TestQueue_Hooks(t *testing.T) {
	q := New(newMockStorage(), newRegistry(t, handlers.AssignPreassign))
	ctx := context.Background()
	job := &core.Job{ID: "job-1"}

	var calls []string
	q.OnJobStart(func(context.Context, *core.Job) { calls = append(calls, "start") })
	q.OnJobComplete(func(context.Context, *core.Job) { calls = append(calls, "complete") })
	q.OnJobFail(func(context.Context, *core.Job, error) { calls = append(calls, "fail") })
	q.OnRetry(func(_ context.Context, _ *core.Job, attempt int, _ error) {
		calls = append(calls, "retry")
		assert.Equal(t, 2, attempt)
	})

	q.CallStartHooks(ctx, job)
	q.CallCompleteHooks(ctx, job)
	q.CallFailHooks(ctx, job, errors.New("x"))
	q.CallRetryHooks(ctx, job, 2, errors.New("x"))

	assert.Equal(t, []string{"start", "complete", "fail", "retry"}, calls)
}

func TestQueue_Emit_DropsWhenFull(t *testing.T) {
	q := New(newMockStorage(), newRegistry(t, handlers.AssignPreassign))
	events := q.Events()
	defer q.Unsubscribe(events)

	for range 150 {
		q.Emit(&core.JobClaimed{HandlerID: "h0", Count: 1, Timestamp: time.Now()})
	}
	assert.Len(t, events, 100)
}

func TestQueue_Unsubscribe_StopsDelivery(t *testing.T) {
	q := New(newMockStorage(), newRegistry(t, handlers.AssignPreassign))
	events := q.Events()
	q.Unsubscribe(events)

	q.Emit(&core.JobClaimed{HandlerID: "h0"})
	assert.Empty(t, events)

	// Unknown channels are ignored.
	q.Unsubscribe(make(chan core.Event))
}

func TestQueue_Accessors(t *testing.T) {
	store := newMockStorage()
	r := newRegistry(t, handlers.AssignPreassign)
	q := New(store, r)

	assert.Same(t, store, q.Storage())
	assert.Same(t, r, q.Registry())
	assert.NotNil(t, q.Logger())
}

func TestWorkerFactory_NotInitialized(t *testing.T) {
	q := New(newMockStorage(), newRegistry(t, handlers.AssignPreassign))

	saved := WorkerFactory
	WorkerFactory = nil
	defer func() { WorkerFactory = saved }()

	assert.Panics(t, func() {
		q.NewWorker("h0")
	})
}

func TestWorkerFactory_Initialized(t *testing.T) {
	q := New(newMockStorage(), newRegistry(t, handlers.AssignPreassign))

	saved := WorkerFactory
	defer func() { WorkerFactory = saved }()

	var (
		gotQueue   *Queue
		gotHandler string
		gotOpts    []any
	)
	WorkerFactory = func(queue *Queue, handlerID string, opts ...any) core.Starter {
		gotQueue = queue
		gotHandler = handlerID
		gotOpts = opts
		return mockStarter{}
	}

	result := q.NewWorker("h1", "opt1", "opt2")
	assert.NotNil(t, result)
	assert.Same(t, q, gotQueue)
	assert.Equal(t, "h1", gotHandler)
	assert.Equal(t, []any{"opt1", "opt2"}, gotOpts)
}
