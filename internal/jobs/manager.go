package jobs

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/exatta/encerramento/internal/config"
	"github.com/exatta/encerramento/internal/encerramento"
	"github.com/exatta/encerramento/internal/log"
	"github.com/exatta/encerramento/internal/websocket"
)

// JobContext is an interface that provides the necessary dependencies for a job to run.
// The core.App struct will implement this interface.
type JobContext interface {
	DB() *sql.DB
	Config() *config.Config
	WsHub() *websocket.Hub
	JobManager() *JobManager
	Encerramentos() *encerramento.Service
}

type jobTask func(ctx JobContext)

type JobStatus struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"` // "idle", "running", "success", "failed"
	Message   string    `json:"message"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

type job struct {
	name string
	task jobTask
}

type JobManager struct {
	mu      sync.Mutex
	jobs    map[string]job
	status  map[string]*JobStatus
	running bool
	appCtx  JobContext // used by scheduled runs
}

func NewManager(appCtx JobContext) *JobManager {
	return &JobManager{
		jobs:   make(map[string]job),
		status: make(map[string]*JobStatus),
		appCtx: appCtx,
	}
}

// Register adds a job under id with a display name.
func (jm *JobManager) Register(id, name string, task jobTask) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.jobs[id] = job{name: name, task: task}
	jm.status[id] = &JobStatus{ID: id, Name: name, Status: "idle"}
}

// RunJob starts a job in the background. Only one job runs at a time.
func (jm *JobManager) RunJob(id string, ctx JobContext) error {
	jm.mu.Lock()
	if jm.running {
		jm.mu.Unlock()
		return fmt.Errorf("a job is already running")
	}

	j, ok := jm.jobs[id]
	if !ok {
		jm.mu.Unlock()
		return fmt.Errorf("job '%s' not found", id)
	}
	if ctx == nil {
		ctx = jm.appCtx
	}

	jm.running = true
	status := jm.status[id]
	status.Status = "running"
	status.StartTime = time.Now()
	status.EndTime = time.Time{}
	status.Message = "Job started..."
	jm.mu.Unlock()

	log.Info().Str("job", id).Msg("Starting job")
	go func() {
		defer func() {
			r := recover()

			jm.mu.Lock()
			if r != nil {
				log.Error().Str("job", id).Msgf("Job panicked: %v", r)
				status.Status = "failed"
				status.Message = fmt.Sprintf("Job panicked: %v", r)
			}
			status.EndTime = time.Now()
			if status.Status == "running" {
				status.Status = "success"
				status.Message = "Job completed successfully."
			}
			final := status.Status
			jm.running = false
			jm.mu.Unlock()
			log.Info().Str("job", id).Str("status", final).Msg("Finished job")
		}()

		j.task(ctx)
	}()
	return nil
}

// fail marks a running job as failed; the deferred bookkeeping in RunJob
// keeps that status.
func (jm *JobManager) fail(id, message string) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	if s, ok := jm.status[id]; ok {
		s.Status = "failed"
		s.Message = message
	}
}

// GetStatus returns a snapshot of every registered job, ordered by id.
func (jm *JobManager) GetStatus() []*JobStatus {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	statuses := make([]*JobStatus, 0, len(jm.status))
	for _, s := range jm.status {
		copied := *s
		statuses = append(statuses, &copied)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}
