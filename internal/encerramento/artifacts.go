package encerramento

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mholt/archives"

	"github.com/exatta/encerramento/internal/models"
	"github.com/exatta/encerramento/internal/store"
	"github.com/exatta/encerramento/internal/util"
)

// ArtifactName is the download file name of a run's artifacts.
func ArtifactName(run *models.Encerramento) string {
	short := run.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return util.SanitizeFileName(fmt.Sprintf("encerramento-%s-%s", run.CNPJ, short)) + ".zip"
}

// Artifacts returns the run whose work directory can be downloaded.
func (s *Service) Artifacts(runID string) (*models.Encerramento, error) {
	run, err := s.store.GetRun(runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	if run.WorkDir == "" {
		return nil, ErrNoArtifacts
	}
	if info, err := os.Stat(run.WorkDir); err != nil || !info.IsDir() {
		return nil, ErrNoArtifacts
	}
	return run, nil
}

// WriteArtifacts streams a zip of the run's work directory (bot output log
// and any files the bot saved) to w.
func WriteArtifacts(ctx context.Context, run *models.Encerramento, w io.Writer) error {
	files, err := archives.FilesFromDisk(ctx, nil, map[string]string{
		run.WorkDir: "",
	})
	if err != nil {
		return fmt.Errorf("failed to collect run files: %w", err)
	}

	zip := archives.Zip{}
	if err := zip.Archive(ctx, w, files); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	return nil
}
