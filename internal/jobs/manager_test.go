package jobs_test

import (
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exatta/encerramento/internal/config"
	"github.com/exatta/encerramento/internal/encerramento"
	"github.com/exatta/encerramento/internal/jobs"
	"github.com/exatta/encerramento/internal/websocket"
)

type fakeJobContext struct {
	db     *sql.DB
	cfg    *config.Config
	ws     *websocket.Hub
	jobMgr *jobs.JobManager
}

func (f *fakeJobContext) DB() *sql.DB                          { return f.db }
func (f *fakeJobContext) Config() *config.Config               { return f.cfg }
func (f *fakeJobContext) WsHub() *websocket.Hub                { return f.ws }
func (f *fakeJobContext) JobManager() *jobs.JobManager         { return f.jobMgr }
func (f *fakeJobContext) Encerramentos() *encerramento.Service { return nil }

func newFakeContext() *fakeJobContext {
	ctx := &fakeJobContext{cfg: &config.Config{}, ws: websocket.NewHub()}
	ctx.jobMgr = jobs.NewManager(ctx)
	return ctx
}

func statusOf(t *testing.T, mgr *jobs.JobManager, id string) *jobs.JobStatus {
	t.Helper()
	for _, s := range mgr.GetStatus() {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("job %s not registered", id)
	return nil
}

func waitForStatus(t *testing.T, mgr *jobs.JobManager, id, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return statusOf(t, mgr, id).Status == want
	}, 2*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
}

func TestManager_NewManager(t *testing.T) {
	ctx := newFakeContext()
	assert.NotNil(t, ctx.jobMgr)
	assert.Empty(t, ctx.jobMgr.GetStatus())
}

func TestManager_RegisterAndGetStatus(t *testing.T) {
	mgr := newFakeContext().jobMgr
	mgr.Register("jobB", "Job B", func(ctx jobs.JobContext) {})
	mgr.Register("jobA", "Job A", func(ctx jobs.JobContext) {})

	statuses := mgr.GetStatus()
	require.Len(t, statuses, 2)
	assert.Equal(t, "jobA", statuses[0].ID, "statuses are ordered by id")
	assert.Equal(t, "Job A", statuses[0].Name)
	assert.Equal(t, "idle", statuses[0].Status)
	assert.Equal(t, "jobB", statuses[1].ID)
}

func TestManager_RunJob_SuccessAndStatus(t *testing.T) {
	ctx := newFakeContext()
	mgr := ctx.jobMgr
	called := make(chan struct{})
	mgr.Register("jobX", "Job X", func(ctx jobs.JobContext) { close(called) })

	require.NoError(t, mgr.RunJob("jobX", ctx))
	<-called
	waitForStatus(t, mgr, "jobX", "success")

	s := statusOf(t, mgr, "jobX")
	assert.False(t, s.EndTime.IsZero())
	assert.False(t, s.EndTime.Before(s.StartTime))
}

func TestManager_RunJob_UsesAppContextWhenNil(t *testing.T) {
	ctx := newFakeContext()
	mgr := ctx.jobMgr
	got := make(chan jobs.JobContext, 1)
	mgr.Register("jobN", "Job N", func(c jobs.JobContext) { got <- c })

	require.NoError(t, mgr.RunJob("jobN", nil))
	assert.Same(t, ctx, <-got)
}

func TestManager_RunJob_AlreadyRunning(t *testing.T) {
	ctx := newFakeContext()
	mgr := ctx.jobMgr
	block := make(chan struct{})
	mgr.Register("jobY", "Job Y", func(ctx jobs.JobContext) { <-block })
	mgr.Register("jobZ", "Job Z", func(ctx jobs.JobContext) {})

	require.NoError(t, mgr.RunJob("jobY", ctx))
	assert.Error(t, mgr.RunJob("jobY", ctx))
	assert.Error(t, mgr.RunJob("jobZ", ctx), "only one job runs at a time")

	close(block)
	waitForStatus(t, mgr, "jobY", "success")
	assert.NoError(t, mgr.RunJob("jobZ", ctx))
}

func TestManager_RunJob_NotFound(t *testing.T) {
	ctx := newFakeContext()
	assert.Error(t, ctx.jobMgr.RunJob("nojob", ctx))
}

func TestManager_RunJob_Panic(t *testing.T) {
	ctx := newFakeContext()
	mgr := ctx.jobMgr
	mgr.Register("panicJob", "Panic Job", func(ctx jobs.JobContext) { panic("fail") })

	require.NoError(t, mgr.RunJob("panicJob", ctx))
	waitForStatus(t, mgr, "panicJob", "failed")
	assert.Contains(t, statusOf(t, mgr, "panicJob").Message, "panicked")
}

func TestManager_Concurrency(t *testing.T) {
	ctx := newFakeContext()
	mgr := ctx.jobMgr
	var mu sync.Mutex
	var count int
	release := make(chan struct{})
	mgr.Register("jobC", "Job C", func(ctx jobs.JobContext) {
		mu.Lock()
		count++
		mu.Unlock()
		<-release
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = mgr.RunJob("jobC", ctx)
		}()
	}
	wg.Wait()
	close(release)
	waitForStatus(t, mgr, "jobC", "success")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count, "job should only run once concurrently")
}
