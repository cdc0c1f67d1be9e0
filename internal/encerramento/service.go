// Package encerramento orchestrates closure runs: it validates requests,
// queues runs on a bounded worker pool, executes the selected bot and keeps
// the database and connected browsers up to date.
package encerramento

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/exatta/encerramento/internal/bots"
	"github.com/exatta/encerramento/internal/cnpj"
	"github.com/exatta/encerramento/internal/config"
	"github.com/exatta/encerramento/internal/log"
	"github.com/exatta/encerramento/internal/models"
	"github.com/exatta/encerramento/internal/period"
	"github.com/exatta/encerramento/internal/store"
)

// Emitter pushes named events to connected clients.
type Emitter interface {
	Emit(event string, data any)
}

// BotResolver looks a bot up by its path relative to the bots directory.
type BotResolver interface {
	Resolve(botPath string) (bots.Bot, error)
}

// Request is the input of Start, as submitted by the browser.
type Request struct {
	CNPJ           string `json:"cnpj"`
	PeriodoInicial string `json:"periodo_inicial"`
	PeriodoFinal   string `json:"periodo_final"`
	BotPath        string `json:"bot_path"`
}

type task struct {
	run    *models.Encerramento
	bot    bots.Bot
	job    bots.Job
	ctx    context.Context
	cancel context.CancelFunc
}

// Service runs closures.
type Service struct {
	store  *store.Store
	bots   BotResolver
	events Emitter
	cfg    config.BotsConfig

	queue chan *task
	wg    sync.WaitGroup

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	active  map[string]*task // by CNPJ
	byRun   map[string]*task // by run ID
	closed  bool
	started bool
}

// NewService creates the service. Call StartWorkers before submitting runs.
func NewService(st *store.Store, resolver BotResolver, events Emitter, cfg config.BotsConfig) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 5
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:      st,
		bots:       resolver,
		events:     events,
		cfg:        cfg,
		queue:      make(chan *task, cfg.QueueSize),
		baseCtx:    ctx,
		baseCancel: cancel,
		active:     make(map[string]*task),
		byRun:      make(map[string]*task),
	}
}

// StartWorkers launches the configured number of workers.
func (s *Service) StartWorkers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	log.Info().Int("workers", s.cfg.MaxWorkers).Int("queue", s.cfg.QueueSize).Msg("Starting closure workers")
	for i := 1; i <= s.cfg.MaxWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Shutdown stops accepting runs, cancels running ones and waits for the
// workers to exit or ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	s.baseCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start validates req and queues a closure run for it. On success the
// company is em_processo at 0% and the queued run is returned.
func (s *Service) Start(ctx context.Context, req Request) (*models.Encerramento, error) {
	if strings.TrimSpace(req.CNPJ) == "" || req.PeriodoInicial == "" || req.PeriodoFinal == "" || req.BotPath == "" {
		return nil, ErrMissingParams
	}

	doc := cnpj.Normalize(req.CNPJ)
	if !cnpj.Valid(doc) {
		return nil, ErrInvalidCNPJ
	}

	if !period.Valid(req.PeriodoInicial) || !period.Valid(req.PeriodoFinal) {
		return nil, ErrInvalidPeriod
	}
	inicial, err := period.Parse(req.PeriodoInicial)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeriod, err)
	}
	final, err := period.Parse(req.PeriodoFinal)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeriod, err)
	}
	if final.Before(inicial) {
		return nil, ErrInvertedRange
	}

	bot, err := s.bots.Resolve(req.BotPath)
	switch {
	case errors.Is(err, bots.ErrInvalidPath):
		return nil, fmt.Errorf("%w: %v", ErrInvalidBotPath, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrBotNotFound, err)
	}

	empresa, err := s.store.GetEmpresa(doc)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrEmpresaNotFound
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrShuttingDown
	}
	if _, busy := s.active[doc]; busy {
		return nil, ErrAlreadyRunning
	}
	if running, err := s.store.ActiveRun(doc); err != nil {
		return nil, err
	} else if running != nil {
		return nil, ErrAlreadyRunning
	}

	runID := uuid.NewString()
	workDir, err := filepath.Abs(filepath.Join(s.cfg.WorkDir, runID))
	if err != nil {
		return nil, err
	}
	job, err := bots.NewJob(runID, doc, inicial, final, workDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvertedRange, err)
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	run := &models.Encerramento{
		ID:             runID,
		CNPJ:           doc,
		Bot:            bot.Info().Path,
		PeriodoInicial: inicial.String(),
		PeriodoFinal:   final.String(),
		Status:         models.StatusEmProcesso,
		WorkDir:        workDir,
		IniciadoEm:     time.Now(),
	}
	if err := s.store.CreateRun(run); err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	if err := s.store.UpdateEmpresaStatus(doc, models.StatusEmProcesso, 0, ""); err != nil {
		s.store.DeleteRun(runID)
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("failed to update company status: %w", err)
	}

	taskCtx, cancel := context.WithCancel(s.baseCtx)
	t := &task{run: run, bot: bot, job: job, ctx: taskCtx, cancel: cancel}

	select {
	case s.queue <- t:
	default:
		cancel()
		s.store.DeleteRun(runID)
		s.store.UpdateEmpresaStatus(doc, empresa.Status, empresa.Progresso, empresa.Etapa)
		os.RemoveAll(workDir)
		return nil, ErrQueueFull
	}
	s.active[doc] = t
	s.byRun[runID] = t

	s.events.Emit(models.EventStatusUpdate, models.StatusUpdate{
		CNPJ:      doc,
		Status:    models.StatusEmProcesso,
		Progresso: 0,
		RunID:     runID,
	})
	log.Info().Str("cnpj", doc).Str("run_id", runID).Str("bot", run.Bot).
		Str("periodo_inicial", run.PeriodoInicial).Str("periodo_final", run.PeriodoFinal).
		Msg("Closure queued")
	return run, nil
}

// Cancel stops a queued or running closure. Runs orphaned by a previous
// process are marked as failed directly.
func (s *Service) Cancel(runID string) error {
	s.mu.Lock()
	t, ok := s.byRun[runID]
	s.mu.Unlock()
	if ok {
		t.cancel()
		return nil
	}

	run, err := s.store.GetRun(runID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrRunNotFound
	}
	if err != nil {
		return err
	}
	if run.Finished() {
		return ErrRunFinished
	}
	return s.fail(run, run.Progresso, "Erro ao encerrar movimento: cancelado")
}

// Complete records an externally reported outcome for a company, as posted
// to the completion webhook. Empty status means concluido; nil progress
// means 100.
func (s *Service) Complete(cnpjStr, status string, progresso *int) error {
	doc := cnpj.Normalize(cnpjStr)
	if doc == "" {
		return ErrMissingParams
	}
	if status == "" {
		status = models.StatusConcluido
	}
	if !models.ValidStatus(status) {
		return ErrInvalidStatus
	}
	pct := 100
	if progresso != nil {
		pct = store.ClampProgress(*progresso)
	}

	err := s.store.UpdateEmpresaStatus(doc, status, pct, "")
	if errors.Is(err, store.ErrNotFound) {
		return ErrEmpresaNotFound
	}
	if err != nil {
		return err
	}

	s.events.Emit(models.EventStatusUpdate, models.StatusUpdate{CNPJ: doc, Status: status, Progresso: pct})
	switch status {
	case models.StatusConcluido:
		s.events.Emit(models.EventConcluido, models.Conclusion{CNPJ: doc, Message: successMessage(doc)})
	case models.StatusErro:
		s.events.Emit(models.EventErro, models.ProcessError{CNPJ: doc, Message: "Erro ao encerrar movimento: informado pelo bot"})
	}
	return nil
}

// IsActive reports whether a closure is queued or running for the company.
func (s *Service) IsActive(cnpjStr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[cnpj.Normalize(cnpjStr)]
	return ok
}

func successMessage(doc string) string {
	return fmt.Sprintf("Movimento para %s encerrado com sucesso!", doc)
}

func errorMessage(err error) string {
	var botErr *bots.BotError
	if errors.As(err, &botErr) {
		return fmt.Sprintf("Erro ao encerrar movimento: %v", err)
	}
	return fmt.Sprintf("Erro ao executar processo: %v", err)
}

func (s *Service) worker(id int) {
	defer s.wg.Done()
	logger := log.With("encerramento").With().Int("worker", id).Logger()
	logger.Debug().Msg("Worker started")
	for t := range s.queue {
		s.execute(t)
	}
	logger.Debug().Msg("Worker stopped")
}

func (s *Service) execute(t *task) {
	defer func() {
		t.cancel()
		s.mu.Lock()
		delete(s.active, t.run.CNPJ)
		delete(s.byRun, t.run.ID)
		s.mu.Unlock()
	}()

	reporter := newProgressReporter(s, t.run, s.cfg.ProgressRate)

	err := t.ctx.Err()
	if err == nil {
		err = s.runBot(t, reporter)
	}

	if err != nil {
		var msg string
		switch {
		case s.baseCtx.Err() != nil:
			msg = "Erro ao encerrar movimento: interrompido pelo desligamento do servidor"
		case errors.Is(err, context.Canceled):
			msg = "Erro ao encerrar movimento: cancelado"
		case errors.Is(err, context.DeadlineExceeded):
			msg = fmt.Sprintf("Erro ao encerrar movimento: tempo limite de %s excedido", s.cfg.Timeout)
		default:
			msg = errorMessage(err)
		}
		log.Error().Err(err).Str("cnpj", t.run.CNPJ).Str("run_id", t.run.ID).Msg("Closure failed")
		if ferr := s.fail(t.run, reporter.Last(), msg); ferr != nil {
			log.Error().Err(ferr).Str("run_id", t.run.ID).Msg("Failed to record closure failure")
		}
		return
	}

	s.succeed(t.run)
}

// runBot executes the bot, turning panics into errors.
func (s *Service) runBot(t *task, r bots.Reporter) (err error) {
	ctx := t.ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("run_id", t.run.ID).Bytes("stack", debug.Stack()).Msgf("Bot panicked: %v", p)
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	log.Info().Str("cnpj", t.run.CNPJ).Str("run_id", t.run.ID).Str("bot", t.run.Bot).Msg("Closure started")
	err = t.bot.Run(ctx, t.job, r)
	// Bots may report the timeout as any error; the derived context knows.
	if err != nil && ctx.Err() != nil && t.ctx.Err() == nil {
		return context.DeadlineExceeded
	}
	return err
}

func (s *Service) succeed(run *models.Encerramento) {
	msg := successMessage(run.CNPJ)
	if err := s.store.FinishRun(run.ID, models.StatusConcluido, 100, msg); err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to finish run")
	}
	if err := s.store.UpdateEmpresaStatus(run.CNPJ, models.StatusConcluido, 100, ""); err != nil {
		log.Error().Err(err).Str("cnpj", run.CNPJ).Msg("Failed to update company status")
	}
	s.events.Emit(models.EventStatusUpdate, models.StatusUpdate{
		CNPJ: run.CNPJ, Status: models.StatusConcluido, Progresso: 100, RunID: run.ID,
	})
	s.events.Emit(models.EventConcluido, models.Conclusion{CNPJ: run.CNPJ, Message: msg, RunID: run.ID})
	log.Info().Str("cnpj", run.CNPJ).Str("run_id", run.ID).Msg("Closure finished")
}

// fail records a failed run. The company drops back to erro at 0%; the run
// keeps the last progress it reached.
func (s *Service) fail(run *models.Encerramento, lastProgress int, msg string) error {
	if err := s.store.FinishRun(run.ID, models.StatusErro, lastProgress, msg); err != nil {
		return err
	}
	if err := s.store.UpdateEmpresaStatus(run.CNPJ, models.StatusErro, 0, ""); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	s.events.Emit(models.EventStatusUpdate, models.StatusUpdate{
		CNPJ: run.CNPJ, Status: models.StatusErro, Progresso: 0, RunID: run.ID,
	})
	s.events.Emit(models.EventErro, models.ProcessError{CNPJ: run.CNPJ, Message: msg, RunID: run.ID})
	return nil
}
