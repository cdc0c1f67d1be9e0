package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/exatta/encerramento/internal/models"
)

const empresaColumns = "cnpj, im, nome, omisso, debito, status, progresso, etapa, ultima_atualizacao"

func scanEmpresa(row interface{ Scan(...any) error }) (*models.Empresa, error) {
	var e models.Empresa
	err := row.Scan(&e.CNPJ, &e.IM, &e.Nome, &e.Omisso, &e.Debito,
		&e.Status, &e.Progresso, &e.Etapa, &e.UltimaAtualizacao)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// UpsertEmpresas inserts companies or refreshes their portfolio columns.
// Status and progress of existing companies are left untouched so an import
// never hides a running closure.
func (s *Store) UpsertEmpresas(empresas []models.Empresa) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO empresas (cnpj, im, nome, omisso, debito, ultima_atualizacao)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(cnpj) DO UPDATE SET
			im = excluded.im,
			nome = excluded.nome,
			omisso = excluded.omisso,
			debito = excluded.debito,
			ultima_atualizacao = excluded.ultima_atualizacao
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := time.Now()
	for _, e := range empresas {
		if _, err := stmt.Exec(e.CNPJ, e.IM, e.Nome, e.Omisso, e.Debito, now); err != nil {
			return 0, fmt.Errorf("failed to upsert company %s: %w", e.CNPJ, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(empresas), nil
}

// ListEmpresas returns the companies matching filter, ordered by name.
func (s *Store) ListEmpresas(filter models.EmpresaFilter) ([]*models.Empresa, error) {
	var (
		where []string
		args  []any
	)
	if filter.Nome != "" {
		where = append(where, "nome = ?")
		args = append(args, filter.Nome)
	}
	if filter.Omisso != "" {
		where = append(where, "LOWER(omisso) = LOWER(?)")
		args = append(args, filter.Omisso)
	}
	if filter.Debito != "" {
		where = append(where, "LOWER(debito) = LOWER(?)")
		args = append(args, filter.Debito)
	}

	query := "SELECT " + empresaColumns + " FROM empresas"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY nome, cnpj"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	empresas := []*models.Empresa{}
	for rows.Next() {
		e, err := scanEmpresa(rows)
		if err != nil {
			return nil, err
		}
		empresas = append(empresas, e)
	}
	return empresas, rows.Err()
}

// ListNomes returns the distinct company names for the filter dropdown.
func (s *Store) ListNomes() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT nome FROM empresas WHERE nome != '' ORDER BY nome")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nomes := []string{}
	for rows.Next() {
		var nome string
		if err := rows.Scan(&nome); err != nil {
			return nil, err
		}
		nomes = append(nomes, nome)
	}
	return nomes, rows.Err()
}

// GetEmpresa looks a company up by its normalized CNPJ.
func (s *Store) GetEmpresa(cnpj string) (*models.Empresa, error) {
	row := s.db.QueryRow("SELECT "+empresaColumns+" FROM empresas WHERE cnpj = ?", cnpj)
	e, err := scanEmpresa(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return e, err
}

// UpdateEmpresaStatus overwrites the processing status of a company.
// Progress is clamped to [0,100].
func (s *Store) UpdateEmpresaStatus(cnpj, status string, progresso int, etapa string) error {
	if !models.ValidStatus(status) {
		return fmt.Errorf("invalid status %q", status)
	}
	res, err := s.db.Exec(`
		UPDATE empresas
		SET status = ?, progresso = ?, etapa = ?, ultima_atualizacao = ?
		WHERE cnpj = ?
	`, status, ClampProgress(progresso), etapa, time.Now(), cnpj)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
