package jobs

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/exatta/encerramento/internal/log"
	"github.com/exatta/encerramento/internal/models"
)

const (
	JobResetStale = "reset-stale-runs"
	JobPruneRuns  = "prune-runs"
)

// staleGrace is added to the bot timeout before a run counts as stale.
const staleGrace = 15 * time.Minute

// RegisterDefaults registers the maintenance jobs.
func RegisterDefaults(jm *JobManager) {
	jm.Register(JobResetStale, "Reset Stale Runs", RunResetStale)
	jm.Register(JobPruneRuns, "Prune Old Runs", RunPruneRuns)
}

func sendProgress(app JobContext, jobID, message string, progress float64, done bool) {
	status := "in_progress"
	if done {
		status = "completed"
	}
	app.WsHub().Emit(models.EventJobProgress, models.ProgressUpdate{
		JobID:    jobID,
		Message:  message,
		Progress: progress,
		Status:   status,
		Done:     done,
	})
}

func sendFailure(app JobContext, jobID string, err error) {
	msg := fmt.Sprintf("Job failed: %v", err)
	if jm := app.JobManager(); jm != nil {
		jm.fail(jobID, msg)
	}
	app.WsHub().Emit(models.EventJobProgress, models.ProgressUpdate{
		JobID: jobID, Message: msg, Status: "failed", Done: true,
	})
}

// RunResetStale fails runs that have been em_processo longer than the bot
// timeout plus a grace period.
func RunResetStale(app JobContext) {
	timeout := app.Config().Bots.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}
	sendProgress(app, JobResetStale, "Looking for stale runs...", 0, false)

	n, err := app.Encerramentos().ResetStale(timeout + staleGrace)
	if err != nil {
		log.Error().Err(err).Msg("Failed to reset stale runs")
		sendFailure(app, JobResetStale, err)
		return
	}
	if n > 0 {
		log.Warn().Int("count", n).Msg("Reset stale runs")
	}
	sendProgress(app, JobResetStale, fmt.Sprintf("Reset %d stale runs.", n), 100, true)
}

// RunPruneRuns deletes finished runs older than jobs.retention_days together
// with their work directories.
func RunPruneRuns(app JobContext) {
	days := app.Config().Jobs.RetentionDays
	if days <= 0 {
		sendProgress(app, JobPruneRuns, "Retention is disabled, nothing to prune.", 100, true)
		return
	}
	sendProgress(app, JobPruneRuns, "Pruning old runs...", 0, false)

	maxAge := time.Duration(days) * 24 * time.Hour
	n, err := app.Encerramentos().PruneRuns(maxAge, func(done, total int) {
		sendProgress(app, JobPruneRuns, fmt.Sprintf("Pruning run %d of %d", done, total),
			float64(done)/float64(total)*100, false)
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to prune runs")
		sendFailure(app, JobPruneRuns, err)
		return
	}
	sendProgress(app, JobPruneRuns, fmt.Sprintf("Removed %d old runs.", n), 100, true)
}

// StartJobs starts the background job scheduler. The returned scheduler must
// be stopped on shutdown.
func StartJobs(app JobContext) *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	scheduleStaleCheck(s, app)
	schedulePrune(s, app)

	log.Info().Int("jobs", len(s.Jobs())).Msg("Starting background job scheduler")
	s.StartAsync()
	return s
}

func submit(app JobContext, jobID string) {
	log.Debug().Str("job", jobID).Msg("Scheduler is triggering job")
	// Going through the manager keeps scheduled runs exclusive with manual ones.
	if err := app.JobManager().RunJob(jobID, app); err != nil {
		log.Warn().Err(err).Str("job", jobID).Msg("Scheduled job could not start")
	}
}

func scheduleStaleCheck(s *gocron.Scheduler, app JobContext) {
	interval := app.Config().Jobs.StaleCheckInterval
	if interval <= 0 {
		log.Info().Msg("Stale check interval is 0, scheduled check is disabled.")
		return
	}

	log.Info().Str("job", JobResetStale).Int("minutes", interval).Msg("Scheduling job")
	_, err := s.Every(interval).Minutes().WaitForSchedule().Do(func() { submit(app, JobResetStale) })
	if err != nil {
		log.Error().Err(err).Str("job", JobResetStale).Msg("Error scheduling job")
	}
}

func schedulePrune(s *gocron.Scheduler, app JobContext) {
	if app.Config().Jobs.RetentionDays <= 0 {
		log.Info().Msg("Run retention is 0, scheduled pruning is disabled.")
		return
	}

	log.Info().Str("job", JobPruneRuns).Msg("Scheduling daily job")
	_, err := s.Every(1).Day().At("03:00").Do(func() { submit(app, JobPruneRuns) })
	if err != nil {
		log.Error().Err(err).Str("job", JobPruneRuns).Msg("Error scheduling job")
	}
}
