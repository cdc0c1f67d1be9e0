package encerramento

import "errors"

// Request validation and lifecycle errors. The API maps each one to an HTTP
// status and a user-facing message.
var (
	ErrMissingParams   = errors.New("missing parameters")
	ErrInvalidCNPJ     = errors.New("invalid CNPJ")
	ErrInvalidPeriod   = errors.New("invalid period")
	ErrInvertedRange   = errors.New("initial period after final period")
	ErrInvalidBotPath  = errors.New("invalid bot path")
	ErrBotNotFound     = errors.New("bot not found")
	ErrEmpresaNotFound = errors.New("company not found")
	ErrAlreadyRunning  = errors.New("closure already running for company")
	ErrQueueFull       = errors.New("closure queue is full")
	ErrShuttingDown    = errors.New("service is shutting down")
	ErrInvalidStatus   = errors.New("invalid status")
	ErrRunNotFound     = errors.New("run not found")
	ErrRunFinished     = errors.New("run already finished")
	ErrNoArtifacts     = errors.New("run has no artifacts")
)
