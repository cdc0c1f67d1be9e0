package bots

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exatta/encerramento/internal/config"
	"github.com/exatta/encerramento/internal/models"
	"github.com/exatta/encerramento/internal/period"
)

type report struct {
	pct   int
	etapa string
}

type recorder struct {
	mu      sync.Mutex
	reports []report
}

func (r *recorder) Progress(pct int, etapa string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{pct, etapa})
}

func (r *recorder) all() []report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]report(nil), r.reports...)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func testJob(t *testing.T) Job {
	t.Helper()
	inicial, err := period.Parse("012024")
	require.NoError(t, err)
	final, err := period.Parse("03/2024")
	require.NoError(t, err)
	job, err := NewJob("run-1", "11111111000111", inicial, final, t.TempDir())
	require.NoError(t, err)
	return job
}

func botsConfig(dir string) config.BotsConfig {
	return config.BotsConfig{
		Path:         dir,
		Interpreters: map[string]string{"sh": "sh"},
	}
}

func TestNewJobExpandsPeriods(t *testing.T) {
	job := testJob(t)
	require.Len(t, job.Periodos, 3)
	assert.Equal(t, "012024", job.Periodos[0].String())
	assert.Equal(t, "032024", job.Periodos[2].String())

	_, err := NewJob("x", "1", job.Final, job.Inicial, "")
	assert.Error(t, err)
}

func TestRegistryLoadAndResolve(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tomados.sh"), "exit 0\n")
	writeFile(t, filepath.Join(dir, "prestados.js"), "exports.encerrar = function() {};\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(dir, "futuro.sh"), "exit 0\n")
	writeFile(t, filepath.Join(dir, "futuro.sh.json"), `{"name":"Futuro","version":"2.0.0","min_server_version":"9.0.0"}`)
	writeFile(t, filepath.Join(dir, "quebrado.sh"), "exit 0\n")
	writeFile(t, filepath.Join(dir, "quebrado.sh.json"), `{not json`)
	writeFile(t, filepath.Join(dir, "tomados.sh.json"), `{"name":"Serviços Tomados","description":"Encerra tomados","version":"1.2.0","min_server_version":"1.0.0"}`)
	writeFile(t, filepath.Join(dir, "sub", "extra.sh"), "exit 0\n")
	writeFile(t, filepath.Join(dir, ".hidden", "secret.sh"), "exit 0\n")
	writeFile(t, filepath.Join(dir, "__pycache__", "cached.sh"), "exit 0\n")

	reg := NewRegistry(botsConfig(dir), "1.5.0")
	require.NoError(t, reg.Load())

	list := reg.List()
	paths := make([]string, len(list))
	for i, b := range list {
		paths[i] = b.Path
	}
	assert.Equal(t, []string{"futuro.sh", "prestados.js", "quebrado.sh", "sub/extra.sh", "tomados.sh"}, paths)

	byPath := map[string]models.BotInfo{}
	for _, b := range list {
		byPath[b.Path] = b
	}
	assert.Equal(t, "Serviços Tomados", byPath["tomados.sh"].Name)
	assert.Equal(t, KindExec, byPath["tomados.sh"].Kind)
	assert.True(t, byPath["tomados.sh"].Enabled)
	assert.Equal(t, KindScript, byPath["prestados.js"].Kind)
	assert.False(t, byPath["futuro.sh"].Enabled)
	assert.Contains(t, byPath["futuro.sh"].Reason, "9.0.0")
	assert.False(t, byPath["quebrado.sh"].Enabled)

	t.Run("resolve", func(t *testing.T) {
		for _, p := range []string{"tomados.sh", "bots/tomados.sh", "./tomados.sh", "sub/../tomados.sh"} {
			bot, err := reg.Resolve(p)
			require.NoError(t, err, p)
			assert.Equal(t, "tomados.sh", bot.Info().Path)
		}
		bot, err := reg.Resolve("sub/extra.sh")
		require.NoError(t, err)
		assert.Equal(t, "sub/extra.sh", bot.Info().Path)
		exec, ok := bot.(*ExecBot)
		require.True(t, ok)
		assert.Equal(t, "sh", exec.interpreter)

		bot, err = reg.Resolve("prestados.js")
		require.NoError(t, err)
		script, ok := bot.(*ScriptBot)
		require.True(t, ok)
		assert.Same(t, reg.client, script.client)
	})

	t.Run("containment", func(t *testing.T) {
		for _, p := range []string{"../tomados.sh", "/etc/passwd", "bots/../../x.sh", ""} {
			_, err := reg.Resolve(p)
			assert.ErrorIs(t, err, ErrInvalidPath, p)
		}
	})

	t.Run("unknown and disabled", func(t *testing.T) {
		_, err := reg.Resolve("nada.sh")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = reg.Resolve("notes.txt")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = reg.Resolve("futuro.sh")
		assert.ErrorIs(t, err, ErrDisabled)
	})
}

func TestRegistryDevVersionAcceptsEverything(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "futuro.sh"), "exit 0\n")
	writeFile(t, filepath.Join(dir, "futuro.sh.json"), `{"min_server_version":"9.0.0"}`)

	reg := NewRegistry(botsConfig(dir), "dev")
	require.NoError(t, reg.Load())
	_, err := reg.Resolve("futuro.sh")
	assert.NoError(t, err)
}

func TestRegistryWatchReloads(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(botsConfig(dir), "1.0.0")
	reg.debounceDelay = 20 * time.Millisecond
	require.NoError(t, reg.Load())
	require.NoError(t, reg.Watch())
	t.Cleanup(func() { reg.Close() })

	assert.Empty(t, reg.List())
	writeFile(t, filepath.Join(dir, "novo.sh"), "exit 0\n")

	require.Eventually(t, func() bool {
		_, err := reg.Resolve("novo.sh")
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "novo.sh")))
	require.Eventually(t, func() bool {
		return len(reg.List()) == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestCompatible(t *testing.T) {
	tests := []struct {
		min, app string
		want     bool
		wantErr  bool
	}{
		{"", "1.0.0", true, false},
		{"1.0.0", "1.0.0", true, false},
		{"v1.2.0", "1.10.0", true, false},
		{"2.0.0", "1.9.9", false, false},
		{"2.0.0", "dev", true, false},
		{"not-a-version", "1.0.0", false, true},
	}
	for _, tt := range tests {
		got, err := Compatible(tt.min, tt.app)
		if tt.wantErr {
			assert.Error(t, err, tt.min)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s vs %s", tt.min, tt.app)
	}

	cmp, err := CompareVersions("v1.0.0", "1.0.1")
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)
}

func TestParseProgress(t *testing.T) {
	pct, etapa, ok := parseProgress(`{"progresso": 33.9, "etapa": "022024"}`)
	assert.True(t, ok)
	assert.Equal(t, 33, pct)
	assert.Equal(t, "022024", etapa)

	pct, _, ok = parseProgress(`{"progresso": 1e20}`)
	assert.True(t, ok)
	assert.Equal(t, 100, pct)
	pct, _, ok = parseProgress(`{"progresso": -1e20}`)
	assert.True(t, ok)
	assert.Equal(t, 0, pct)

	_, _, ok = parseProgress(`{"etapa": "sem progresso"}`)
	assert.False(t, ok)
	_, _, ok = parseProgress(`Encerrando 01/2024`)
	assert.False(t, ok)
}

func TestExecBotRun(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "bot.sh")
	writeFile(t, script, `echo "start $1 $2 $3"
echo "run=$ENCERRAMENTO_RUN_ID"
echo '{"progresso": 50, "etapa": "012024"}'
echo "aviso" >&2
echo '{"progresso": 100}'
pwd > cwd.txt
`)
	bot := NewExecBot(models.BotInfo{Path: "bot.sh", Name: "bot", Enabled: true}, script, "sh")
	job := testJob(t)
	rec := &recorder{}

	require.NoError(t, bot.Run(context.Background(), job, rec))

	assert.Equal(t, []report{{50, "012024"}, {100, ""}}, rec.all())

	logData, err := os.ReadFile(filepath.Join(job.WorkDir, OutputFile))
	require.NoError(t, err)
	logText := string(logData)
	assert.Contains(t, logText, "[stdout] start 11111111000111 012024 032024")
	assert.Contains(t, logText, "[stdout] run=run-1")
	assert.Contains(t, logText, "[stderr] aviso")

	cwd, err := os.ReadFile(filepath.Join(job.WorkDir, "cwd.txt"))
	require.NoError(t, err)
	want, _ := filepath.EvalSymlinks(job.WorkDir)
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(string(cwd)))
	assert.Equal(t, want, got)
}

func TestExecBotFailure(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "bot.sh")
	writeFile(t, script, "echo 'login recusado' >&2\nexit 3\n")
	bot := NewExecBot(models.BotInfo{Path: "bot.sh"}, script, "sh")

	err := bot.Run(context.Background(), testJob(t), &recorder{})
	require.Error(t, err)

	var botErr *BotError
	require.True(t, errors.As(err, &botErr))
	assert.Contains(t, err.Error(), "exited with code 3")
	assert.Contains(t, err.Error(), "login recusado")
}

func TestExecBotCancel(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "bot.sh")
	writeFile(t, script, "exec sleep 10\n")
	bot := NewExecBot(models.BotInfo{Path: "bot.sh"}, script, "sh")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := bot.Run(ctx, testJob(t), &recorder{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestScriptBotRun(t *testing.T) {
	portal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fechamento/012024":
			w.Write([]byte(`<a href="../fechamento/tomado.php">A Escrituração já foi Encerrada</a>`))
		case "/encerrar":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"ok": true}`))
		default:
			w.Write([]byte(`<form><span class="cnpj">11.111.111/0001-11</span></form>`))
		}
	}))
	defer portal.Close()

	dir := t.TempDir()
	script := filepath.Join(dir, "bot.js")
	writeFile(t, script, `
exports.encerrar = function(job, enc) {
	var base = "`+portal.URL+`";
	var total = job.periodos.length;
	for (var i = 0; i < total; i++) {
		var p = job.periodos[i];
		var page = enc.http.get(base + "/fechamento/" + p);
		if (enc.utils.encerrada(page.text())) {
			enc.log.info("periodo", p, "ja encerrado");
		} else {
			var doc = enc.utils.parseHTML(page.text());
			var cnpj = doc.querySelector("span.cnpj").textContent;
			var res = enc.http.post(base + "/encerrar", {cnpj: cnpj, periodo: p});
			if (!res.data.ok) { throw new Error("falha ao encerrar " + p); }
		}
		enc.progress(enc.progressFor(i + 1, total), p);
	}
	enc.saveFile("resumo.txt", job.cnpj + ":" + total);
};
`)
	bot := NewScriptBot(models.BotInfo{Path: "bot.js"}, script, portal.Client())
	job := testJob(t)
	rec := &recorder{}

	require.NoError(t, bot.Run(context.Background(), job, rec))

	assert.Equal(t, []report{{33, "012024"}, {66, "022024"}, {100, "032024"}}, rec.all())

	resumo, err := os.ReadFile(filepath.Join(job.WorkDir, "resumo.txt"))
	require.NoError(t, err)
	assert.Equal(t, "11111111000111:3", string(resumo))

	logData, err := os.ReadFile(filepath.Join(job.WorkDir, OutputFile))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "periodo 012024 ja encerrado")
}

func TestScriptBotXPath(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "bot.js")
	writeFile(t, script, `
exports.encerrar = function(job, enc) {
	var doc = enc.utils.parseHTML('<table><tr class="line"><td>1</td><td>2</td></tr></table>');
	var cells = enc.utils.xpath(doc, '//tr[@class="line"]/td');
	if (cells.length !== 2 || cells[1].textContent !== "2") {
		throw new Error("xpath mismatch: " + cells.length);
	}
	enc.progress(100);
};
`)
	bot := NewScriptBot(models.BotInfo{Path: "bot.js"}, script, nil)
	rec := &recorder{}
	require.NoError(t, bot.Run(context.Background(), testJob(t), rec))
	assert.Equal(t, []report{{100, ""}}, rec.all())
}

func TestScriptBotProgressIsClamped(t *testing.T) {
	script := filepath.Join(t.TempDir(), "bot.js")
	writeFile(t, script, `
exports.encerrar = function(job, enc) {
	enc.progress(1e20, "alto");
	enc.progress(-1e20, "baixo");
	enc.progress(NaN);
};
`)
	bot := NewScriptBot(models.BotInfo{Path: "bot.js"}, script, nil)
	rec := &recorder{}
	require.NoError(t, bot.Run(context.Background(), testJob(t), rec))
	assert.Equal(t, []report{{100, "alto"}, {0, "baixo"}, {0, ""}}, rec.all())
}

func TestScriptBotErrors(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		wantMsg string
	}{
		{"throws", `exports.encerrar = function() { throw new Error("portal fora do ar"); };`, "portal fora do ar"},
		{"rejects", `exports.encerrar = async function() { throw new Error("rejeitado"); };`, "rejeitado"},
		{"missing export", `exports.outra = function() {};`, "does not export"},
		{"syntax error", `exports.encerrar = function( {`, "failed to load script"},
		{"escaping saveFile", `exports.encerrar = function(job, enc) { enc.saveFile("../fora.txt", "x"); };`, "saveFile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := filepath.Join(t.TempDir(), "bot.js")
			writeFile(t, script, tt.source)
			bot := NewScriptBot(models.BotInfo{Path: "bot.js"}, script, nil)

			err := bot.Run(context.Background(), testJob(t), &recorder{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestScriptBotCancel(t *testing.T) {
	script := filepath.Join(t.TempDir(), "bot.js")
	writeFile(t, script, `exports.encerrar = function(job, enc) { while (true) { enc.sleep(5); } };`)
	bot := NewScriptBot(models.BotInfo{Path: "bot.js"}, script, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := bot.Run(ctx, testJob(t), &recorder{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
