package api_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exatta/encerramento/internal/jobs"
	"github.com/exatta/encerramento/internal/models"
	"github.com/exatta/encerramento/internal/testutil"
)

func TestAdminHandlers(t *testing.T) {
	server, app := testutil.SetupTestServer(t)
	router := server.Router()

	t.Run("Get Version", func(t *testing.T) {
		rr := doRequest(t, router, "GET", "/api/version", "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "test", decodeBody(t, rr)["version"])
	})

	t.Run("Jobs Status", func(t *testing.T) {
		rr := doRequest(t, router, "GET", "/api/admin/jobs/status", "")
		require.Equal(t, http.StatusOK, rr.Code)
		var statuses []jobs.JobStatus
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &statuses))
		require.Len(t, statuses, 2)
		assert.Equal(t, jobs.JobPruneRuns, statuses[0].ID)
		assert.Equal(t, "idle", statuses[0].Status)
	})

	t.Run("Run Job", func(t *testing.T) {
		rr := doRequest(t, router, "POST", "/api/admin/jobs/run", `{"job_id":"reset-stale-runs"}`)
		assert.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

		require.Eventually(t, func() bool {
			for _, s := range app.JobManager().GetStatus() {
				if s.ID == jobs.JobResetStale {
					return s.Status == "success"
				}
			}
			return false
		}, testTimeout, testTick)
	})

	t.Run("Run Unknown Job", func(t *testing.T) {
		rr := doRequest(t, router, "POST", "/api/admin/jobs/run", `{"job_id":"scan-library"}`)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("Run Job Bad Payload", func(t *testing.T) {
		rr := doRequest(t, router, "POST", "/api/admin/jobs/run", `{}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestBotHandlers(t *testing.T) {
	server, app := testutil.SetupTestServer(t)
	router := server.Router()
	installBot(t, app, "ok.js", okBot)

	rr := doRequest(t, router, "GET", "/api/bots", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []models.BotInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "ok.js", list[0].Path)
	assert.True(t, list[0].Enabled)

	// Reload rescans the directory on demand.
	installBot(t, app, "prestados/bot2.sh", "echo ok\n")
	rr = doRequest(t, router, "POST", "/api/admin/bots/reload", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list, 2)
}

func TestHealthAndFrontend(t *testing.T) {
	server, _ := testutil.SetupTestServer(t)
	router := server.Router()

	rr := doRequest(t, router, "GET", "/api/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decodeBody(t, rr)["status"])

	rr = doRequest(t, router, "GET", "/", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `id="encerramentoModal"`)
	assert.Contains(t, rr.Body.String(), `id="periodoInicial"`)

	rr = doRequest(t, router, "GET", "/static/app.js", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "function abrirModal")
}
