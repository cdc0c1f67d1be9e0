package encerramento

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/exatta/encerramento/internal/log"
	"github.com/exatta/encerramento/internal/models"
	"github.com/exatta/encerramento/internal/store"
)

// progressReporter persists and broadcasts bot progress. Updates are
// throttled to perSecond, except the first one and 100%, which always go
// through.
type progressReporter struct {
	svc     *Service
	run     *models.Encerramento
	limiter *rate.Limiter

	mu   sync.Mutex
	sent bool
	last int
}

func newProgressReporter(svc *Service, run *models.Encerramento, perSecond float64) *progressReporter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &progressReporter{svc: svc, run: run, limiter: rate.NewLimiter(limit, 1)}
}

func (p *progressReporter) Progress(percent int, etapa string) {
	percent = store.ClampProgress(percent)

	p.mu.Lock()
	p.last = percent
	allowed := p.limiter.Allow()
	if p.sent && percent < 100 && !allowed {
		p.mu.Unlock()
		return
	}
	p.sent = true
	p.mu.Unlock()

	if err := p.svc.store.UpdateRunProgress(p.run.ID, percent, etapa); err != nil {
		log.Warn().Err(err).Str("run_id", p.run.ID).Msg("Failed to store run progress")
	}
	if err := p.svc.store.UpdateEmpresaStatus(p.run.CNPJ, models.StatusEmProcesso, percent, etapa); err != nil {
		log.Warn().Err(err).Str("cnpj", p.run.CNPJ).Msg("Failed to store company progress")
	}
	p.svc.events.Emit(models.EventStatusUpdate, models.StatusUpdate{
		CNPJ:      p.run.CNPJ,
		Status:    models.StatusEmProcesso,
		Progresso: percent,
		Etapa:     etapa,
		RunID:     p.run.ID,
	})
}

// Last returns the most recent reported percentage, throttled or not.
func (p *progressReporter) Last() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
