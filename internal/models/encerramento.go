package models

import "time"

// Encerramento is one closure run of a bot for a company over a period range.
type Encerramento struct {
	ID             string     `json:"id"`
	CNPJ           string     `json:"cnpj"`
	Bot            string     `json:"bot"`
	PeriodoInicial string     `json:"periodo_inicial"` // MMYYYY
	PeriodoFinal   string     `json:"periodo_final"`   // MMYYYY
	Status         string     `json:"status"`
	Progresso      int        `json:"progresso"`
	Etapa          string     `json:"etapa,omitempty"`
	Mensagem       string     `json:"mensagem,omitempty"`
	WorkDir        string     `json:"-"`
	IniciadoEm     time.Time  `json:"iniciado_em"`
	FinalizadoEm   *time.Time `json:"finalizado_em,omitempty"`
}

// Finished reports whether the run reached a terminal status.
func (e *Encerramento) Finished() bool {
	return e.Status == StatusConcluido || e.Status == StatusErro
}
