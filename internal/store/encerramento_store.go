package store

import (
	"database/sql"
	"time"

	"github.com/exatta/encerramento/internal/models"
)

const runColumns = `id, cnpj, bot, periodo_inicial, periodo_final, status, progresso,
	etapa, mensagem, work_dir, iniciado_em, finalizado_em`

func scanRun(row interface{ Scan(...any) error }) (*models.Encerramento, error) {
	var (
		r         models.Encerramento
		finalizou sql.NullTime
	)
	err := row.Scan(&r.ID, &r.CNPJ, &r.Bot, &r.PeriodoInicial, &r.PeriodoFinal,
		&r.Status, &r.Progresso, &r.Etapa, &r.Mensagem, &r.WorkDir, &r.IniciadoEm, &finalizou)
	if err != nil {
		return nil, err
	}
	if finalizou.Valid {
		t := finalizou.Time
		r.FinalizadoEm = &t
	}
	return &r, nil
}

func (s *Store) queryRuns(query string, args ...any) ([]*models.Encerramento, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []*models.Encerramento{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CreateRun inserts a new closure run.
func (s *Store) CreateRun(r *models.Encerramento) error {
	if r.IniciadoEm.IsZero() {
		r.IniciadoEm = time.Now()
	}
	if r.Status == "" {
		r.Status = models.StatusEmProcesso
	}
	_, err := s.db.Exec(`
		INSERT INTO encerramentos (id, cnpj, bot, periodo_inicial, periodo_final, status,
			progresso, etapa, mensagem, work_dir, iniciado_em)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.CNPJ, r.Bot, r.PeriodoInicial, r.PeriodoFinal, r.Status,
		ClampProgress(r.Progresso), r.Etapa, r.Mensagem, r.WorkDir, r.IniciadoEm)
	return err
}

// GetRun fetches a run by id.
func (s *Store) GetRun(id string) (*models.Encerramento, error) {
	r, err := scanRun(s.db.QueryRow("SELECT "+runColumns+" FROM encerramentos WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

// ListRuns returns the most recent runs, optionally for one company.
func (s *Store) ListRuns(cnpj string, limit int) ([]*models.Encerramento, error) {
	if limit <= 0 {
		limit = 50
	}
	if cnpj == "" {
		return s.queryRuns("SELECT "+runColumns+" FROM encerramentos ORDER BY iniciado_em DESC LIMIT ?", limit)
	}
	return s.queryRuns("SELECT "+runColumns+" FROM encerramentos WHERE cnpj = ? ORDER BY iniciado_em DESC LIMIT ?", cnpj, limit)
}

// ActiveRun returns the running closure of a company, or nil if none.
func (s *Store) ActiveRun(cnpj string) (*models.Encerramento, error) {
	r, err := scanRun(s.db.QueryRow(
		"SELECT "+runColumns+" FROM encerramentos WHERE cnpj = ? AND status = ? ORDER BY iniciado_em DESC LIMIT 1",
		cnpj, models.StatusEmProcesso))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// ListActiveRuns returns every run still marked em_processo.
func (s *Store) ListActiveRuns() ([]*models.Encerramento, error) {
	return s.queryRuns("SELECT "+runColumns+" FROM encerramentos WHERE status = ? ORDER BY iniciado_em", models.StatusEmProcesso)
}

// ListStaleRuns returns runs still em_processo that started before cutoff.
func (s *Store) ListStaleRuns(cutoff time.Time) ([]*models.Encerramento, error) {
	return s.queryRuns("SELECT "+runColumns+" FROM encerramentos WHERE status = ? AND iniciado_em < ? ORDER BY iniciado_em",
		models.StatusEmProcesso, cutoff)
}

// ListFinishedRunsBefore returns terminal runs that finished before cutoff.
func (s *Store) ListFinishedRunsBefore(cutoff time.Time) ([]*models.Encerramento, error) {
	return s.queryRuns("SELECT "+runColumns+" FROM encerramentos WHERE status IN (?, ?) AND finalizado_em < ? ORDER BY finalizado_em",
		models.StatusConcluido, models.StatusErro, cutoff)
}

// UpdateRunProgress records intermediate progress of a run.
func (s *Store) UpdateRunProgress(id string, progresso int, etapa string) error {
	res, err := s.db.Exec("UPDATE encerramentos SET progresso = ?, etapa = ? WHERE id = ?",
		ClampProgress(progresso), etapa, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishRun moves a run to a terminal status.
func (s *Store) FinishRun(id, status string, progresso int, mensagem string) error {
	res, err := s.db.Exec(`
		UPDATE encerramentos
		SET status = ?, progresso = ?, mensagem = ?, finalizado_em = ?
		WHERE id = ?
	`, status, ClampProgress(progresso), mensagem, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRun removes a run record.
func (s *Store) DeleteRun(id string) error {
	_, err := s.db.Exec("DELETE FROM encerramentos WHERE id = ?", id)
	return err
}
