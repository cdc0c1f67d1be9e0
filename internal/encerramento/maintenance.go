package encerramento

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/exatta/encerramento/internal/log"
	"github.com/exatta/encerramento/internal/models"
)

// RecoverInterrupted fails every run a previous process left em_processo.
// Call it before StartWorkers.
func (s *Service) RecoverInterrupted() (int, error) {
	runs, err := s.store.ListActiveRuns()
	if err != nil {
		return 0, err
	}
	for _, run := range runs {
		if err := s.fail(run, run.Progresso, "Erro ao encerrar movimento: interrompido"); err != nil {
			return 0, fmt.Errorf("failed to recover run %s: %w", run.ID, err)
		}
		log.Warn().Str("run_id", run.ID).Str("cnpj", run.CNPJ).Msg("Marked interrupted run as failed")
	}
	return len(runs), nil
}

// ResetStale fails runs that have been em_processo for longer than maxAge.
// Runs owned by this process are cancelled and finish through their worker.
func (s *Service) ResetStale(maxAge time.Duration) (int, error) {
	runs, err := s.store.ListStaleRuns(time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	for _, run := range runs {
		s.mu.Lock()
		t, owned := s.byRun[run.ID]
		s.mu.Unlock()
		if owned {
			t.cancel()
			continue
		}
		if err := s.fail(run, run.Progresso, "Erro ao encerrar movimento: tempo limite excedido"); err != nil {
			return 0, err
		}
	}
	return len(runs), nil
}

// PruneRuns deletes finished runs older than maxAge together with their work
// directories. onProgress, if set, is called after each run.
func (s *Service) PruneRuns(maxAge time.Duration, onProgress func(done, total int)) (int, error) {
	runs, err := s.store.ListFinishedRunsBefore(time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	for i, run := range runs {
		if err := s.removeWorkDir(run); err != nil {
			log.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to remove run directory")
		}
		if err := s.store.DeleteRun(run.ID); err != nil {
			return i, err
		}
		if onProgress != nil {
			onProgress(i+1, len(runs))
		}
	}
	return len(runs), nil
}

// removeWorkDir deletes a run directory if it lives under the configured
// work directory.
func (s *Service) removeWorkDir(run *models.Encerramento) error {
	if run.WorkDir == "" {
		return nil
	}
	base, err := filepath.Abs(s.cfg.WorkDir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(base, run.WorkDir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("refusing to remove %s outside %s", run.WorkDir, base)
	}
	return os.RemoveAll(run.WorkDir)
}
