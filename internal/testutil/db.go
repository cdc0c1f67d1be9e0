package testutil

import (
	"database/sql"
	"testing"

	"github.com/exatta/encerramento/internal/assets"
	"github.com/exatta/encerramento/internal/db"
)

// SetupTestDB creates an in-memory SQLite database and applies all migrations.
// It returns the database connection, ready for use in tests.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := db.InitDB(db.MemoryPath)
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}

	// Attach a cleanup function to automatically close the DB when the test completes.
	t.Cleanup(func() {
		database.Close()
	})

	if err := db.RunMigrations(database, assets.MigrationsFS); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	return database
}

// SeedEmpresa inserts a company with the given CNPJ and name.
func SeedEmpresa(t *testing.T, database *sql.DB, cnpj, nome string) {
	t.Helper()
	_, err := database.Exec("INSERT INTO empresas (cnpj, nome, omisso, debito) VALUES (?, ?, 'Não', 'Não')", cnpj, nome)
	if err != nil {
		t.Fatalf("Failed to seed company %s: %v", cnpj, err)
	}
}
