package models

import "time"

// Processing status labels shared by companies and closure runs.
const (
	StatusPendente   = "pendente"
	StatusEmProcesso = "em_processo"
	StatusConcluido  = "concluido"
	StatusErro       = "erro"
)

// ValidStatus reports whether s is one of the known status labels.
func ValidStatus(s string) bool {
	switch s {
	case StatusPendente, StatusEmProcesso, StatusConcluido, StatusErro:
		return true
	}
	return false
}

// Empresa is a company from the accountant's client portfolio.
type Empresa struct {
	IM                string    `json:"im"`
	CNPJ              string    `json:"cnpj"`
	Nome              string    `json:"nome"`
	Omisso            string    `json:"omisso"`
	Debito            string    `json:"debito"`
	Status            string    `json:"status"`
	Progresso         int       `json:"progresso"` // 0-100
	Etapa             string    `json:"etapa,omitempty"`
	UltimaAtualizacao time.Time `json:"ultima_atualizacao"`
}

// EmpresaFilter narrows the company listing. Empty fields match everything.
type EmpresaFilter struct {
	Nome   string
	Omisso string
	Debito string
}
