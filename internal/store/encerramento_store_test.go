package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exatta/encerramento/internal/models"
	"github.com/exatta/encerramento/internal/store"
	"github.com/exatta/encerramento/internal/testutil"
)

func newRun(id, cnpj string, iniciado time.Time) *models.Encerramento {
	return &models.Encerramento{
		ID:             id,
		CNPJ:           cnpj,
		Bot:            "servicos_tomados.py",
		PeriodoInicial: "012024",
		PeriodoFinal:   "032024",
		WorkDir:        "/tmp/runs/" + id,
		IniciadoEm:     iniciado,
	}
}

func TestRunLifecycle(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.SeedEmpresa(t, db, "11111111000111", "Beta Ltda")
	s := store.New(db)

	run := newRun("run-1", "11111111000111", time.Time{})
	require.NoError(t, s.CreateRun(run))
	assert.False(t, run.IniciadoEm.IsZero(), "start time should be filled in")
	assert.Equal(t, models.StatusEmProcesso, run.Status)

	active, err := s.ActiveRun("11111111000111")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "run-1", active.ID)
	assert.Nil(t, active.FinalizadoEm)

	require.NoError(t, s.UpdateRunProgress("run-1", 33, "022024"))
	got, err := s.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, 33, got.Progresso)
	assert.Equal(t, "022024", got.Etapa)
	assert.Equal(t, "/tmp/runs/run-1", got.WorkDir)

	require.NoError(t, s.FinishRun("run-1", models.StatusConcluido, 100, "ok"))
	got, err = s.GetRun("run-1")
	require.NoError(t, err)
	assert.True(t, got.Finished())
	assert.Equal(t, "ok", got.Mensagem)
	require.NotNil(t, got.FinalizadoEm)

	active, err = s.ActiveRun("11111111000111")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestRunNotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := store.New(db)

	_, err := s.GetRun("missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.UpdateRunProgress("missing", 1, ""), store.ErrNotFound)
	assert.ErrorIs(t, s.FinishRun("missing", models.StatusErro, 0, ""), store.ErrNotFound)
}

func TestListRunsAndMaintenanceQueries(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.SeedEmpresa(t, db, "11111111000111", "Beta Ltda")
	testutil.SeedEmpresa(t, db, "22222222000122", "Alfa SA")
	s := store.New(db)

	now := time.Now()
	require.NoError(t, s.CreateRun(newRun("old", "11111111000111", now.Add(-5*time.Hour))))
	require.NoError(t, s.CreateRun(newRun("new", "11111111000111", now.Add(-time.Minute))))
	require.NoError(t, s.CreateRun(newRun("other", "22222222000122", now.Add(-2*time.Minute))))
	require.NoError(t, s.FinishRun("other", models.StatusErro, 0, "falhou"))

	t.Run("list by company newest first", func(t *testing.T) {
		runs, err := s.ListRuns("11111111000111", 0)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "new", runs[0].ID)
		assert.Equal(t, "old", runs[1].ID)
	})

	t.Run("list all with limit", func(t *testing.T) {
		runs, err := s.ListRuns("", 1)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "new", runs[0].ID)
	})

	t.Run("active runs", func(t *testing.T) {
		runs, err := s.ListActiveRuns()
		require.NoError(t, err)
		assert.Len(t, runs, 2)
	})

	t.Run("stale runs", func(t *testing.T) {
		runs, err := s.ListStaleRuns(now.Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "old", runs[0].ID)
	})

	t.Run("finished before", func(t *testing.T) {
		runs, err := s.ListFinishedRunsBefore(now.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "other", runs[0].ID)

		runs, err = s.ListFinishedRunsBefore(now.Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, runs)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.DeleteRun("other"))
		_, err := s.GetRun("other")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
