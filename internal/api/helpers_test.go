package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/exatta/encerramento/internal/core"
)

const (
	testTimeout = 3 * time.Second
	testTick    = 10 * time.Millisecond
)

const (
	okBot = `exports.encerrar = function(job, enc) {
	enc.progress(50, job.periodos[0]);
	enc.saveFile("recibo.txt", job.cnpj);
};`
	blockingBot = `exports.encerrar = function(job, enc) {
	while (true) { enc.sleep(10); }
};`
)

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not a JSON object: %v (%s)", err, rr.Body.String())
	}
	return out
}

// installBot writes a bot into the app's bots directory and reloads the registry.
func installBot(t *testing.T, app *core.App, name, source string) {
	t.Helper()
	path := filepath.Join(app.Bots().Dir(), name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(source), 0644); err != nil {
		t.Fatal(err)
	}
	if err := app.Bots().Load(); err != nil {
		t.Fatalf("failed to reload bots: %v", err)
	}
}
