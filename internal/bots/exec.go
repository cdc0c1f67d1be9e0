package bots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/exatta/encerramento/internal/log"
	"github.com/exatta/encerramento/internal/models"
	"github.com/exatta/encerramento/internal/store"
)

// ExecBot runs a script through an external interpreter:
//
//	<interpreter> <file> <cnpj> <MMYYYY inicial> <MMYYYY final>
//
// Stdout lines holding a JSON object with "progresso" (and optionally
// "etapa") are progress reports. Every line lands in the run's output.log.
type ExecBot struct {
	info        models.BotInfo
	file        string
	interpreter string
}

// NewExecBot creates an exec bot for file.
func NewExecBot(info models.BotInfo, file, interpreter string) *ExecBot {
	info.Kind = KindExec
	return &ExecBot{info: info, file: file, interpreter: interpreter}
}

func (b *ExecBot) Info() models.BotInfo {
	return b.info
}

type progressLine struct {
	Progresso *float64 `json:"progresso"`
	Etapa     string   `json:"etapa"`
}

// parseProgress extracts a progress report from a stdout line.
func parseProgress(line string) (int, string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return 0, "", false
	}
	var p progressLine
	if err := json.Unmarshal([]byte(line), &p); err != nil || p.Progresso == nil {
		return 0, "", false
	}
	return store.ClampProgressFloat(*p.Progresso), p.Etapa, true
}

func (b *ExecBot) Run(ctx context.Context, job Job, r Reporter) error {
	out, err := openOutputLog(job.WorkDir)
	if err != nil {
		return err
	}
	defer out.Close()

	cmd := exec.CommandContext(ctx, b.interpreter, b.file, job.CNPJ, job.Inicial.String(), job.Final.String())
	cmd.Dir = job.WorkDir
	cmd.Env = append(os.Environ(),
		"ENCERRAMENTO_RUN_ID="+job.RunID,
		"ENCERRAMENTO_WORK_DIR="+job.WorkDir,
	)
	// Grandchildren may keep the pipes open after the interpreter is killed.
	cmd.WaitDelay = 5 * time.Second

	stdout := &lineWriter{out: out, stream: "stdout", onLine: func(line string) {
		if pct, etapa, ok := parseProgress(line); ok {
			r.Progress(pct, etapa)
		}
	}}
	stderr := &lineWriter{out: out, stream: "stderr", keep: 10}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger := log.With("bot").With().Str("bot", b.info.Path).Str("run_id", job.RunID).Logger()
	logger.Info().Str("interpreter", b.interpreter).Msg("Starting bot process")

	err = cmd.Run()
	stdout.Tail()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		msg := "process failed"
		if errors.As(err, &exitErr) {
			msg = fmt.Sprintf("exited with code %d", exitErr.ExitCode())
		}
		if tail := stderr.Tail(); tail != "" {
			msg += ": " + tail
		}
		return &BotError{Bot: b.info.Path, Message: msg, Cause: err}
	}

	logger.Info().Msg("Bot process finished")
	return nil
}
