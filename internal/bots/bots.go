// Package bots discovers closure bots on disk and runs them.
//
// A bot is either an external script run through a configured interpreter
// (exec bots) or a JavaScript file run in an embedded goja VM (script bots).
package bots

import (
	"context"
	"errors"
	"fmt"

	"github.com/exatta/encerramento/internal/models"
	"github.com/exatta/encerramento/internal/period"
)

// Bot kinds.
const (
	KindExec   = "exec"
	KindScript = "js"
)

var (
	ErrInvalidPath = errors.New("invalid bot path")
	ErrNotFound    = errors.New("bot not found")
	ErrDisabled    = errors.New("bot disabled")
)

// Job is the input of one closure run.
type Job struct {
	RunID    string
	CNPJ     string
	Inicial  period.Period
	Final    period.Period
	Periodos []period.Period
	WorkDir  string
}

// NewJob builds a Job covering every month from inicial to final.
func NewJob(runID, cnpj string, inicial, final period.Period, workDir string) (Job, error) {
	periodos, err := period.Range(inicial, final)
	if err != nil {
		return Job{}, err
	}
	return Job{
		RunID:    runID,
		CNPJ:     cnpj,
		Inicial:  inicial,
		Final:    final,
		Periodos: periodos,
		WorkDir:  workDir,
	}, nil
}

// Reporter receives progress from a running bot. Percent may fall outside
// [0,100]; implementations clamp it.
type Reporter interface {
	Progress(percent int, etapa string)
}

// Bot runs the closure for a job. Run blocks until the bot finishes or ctx
// is done.
type Bot interface {
	Info() models.BotInfo
	Run(ctx context.Context, job Job, r Reporter) error
}

// BotError wraps a failure reported by a bot.
type BotError struct {
	Bot     string
	Message string
	Cause   error
}

func (e *BotError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("bot %s: %s: %v", e.Bot, e.Message, e.Cause)
	}
	return fmt.Sprintf("bot %s: %s", e.Bot, e.Message)
}

func (e *BotError) Unwrap() error {
	return e.Cause
}
