package models

// Names of the events pushed to browsers over the websocket.
const (
	EventStatusUpdate = "atualizacao_status"
	EventConcluido    = "encerramento_concluido"
	EventErro         = "erro_processo"
	EventJobProgress  = "job_progress"
	// EventClientStatus is sent by clients (or bots) and relayed to everyone
	// as EventStatusUpdate.
	EventClientStatus = "atualizar_status"
)

// Event is the websocket envelope.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// StatusUpdate is the payload of atualizacao_status.
type StatusUpdate struct {
	CNPJ      string `json:"cnpj"`
	Status    string `json:"status"`
	Progresso int    `json:"progresso"`
	Etapa     string `json:"etapa,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}

// Conclusion is the payload of encerramento_concluido.
type Conclusion struct {
	CNPJ    string `json:"cnpj"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
}

// ProcessError is the payload of erro_processo.
type ProcessError struct {
	CNPJ    string `json:"cnpj"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
}

// ProgressUpdate reports maintenance job progress.
type ProgressUpdate struct {
	JobID    string  `json:"jobId"`
	Message  string  `json:"message"`
	Progress float64 `json:"progress"`
	Status   string  `json:"status"` // e.g. "in_progress", "completed", "failed"
	Done     bool    `json:"done"`
}
