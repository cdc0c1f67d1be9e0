package bots

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"github.com/exatta/encerramento/internal/carteira"
	"github.com/exatta/encerramento/internal/period"
	"github.com/exatta/encerramento/internal/scrape"
	"github.com/exatta/encerramento/internal/store"
	"github.com/exatta/encerramento/internal/util"
)

const defaultHTTPTimeout = 30 * time.Second

// scriptAPI is the "encerramento" object handed to script bots.
type scriptAPI struct {
	ctx    context.Context
	vm     *goja.Runtime
	job    Job
	rep    Reporter
	out    *outputLog
	client *http.Client
	logger zerolog.Logger
}

func (a *scriptAPI) object() *goja.Object {
	vm := a.vm
	obj := vm.NewObject()

	obj.Set("progress", a.progress)
	obj.Set("progressFor", period.ProgressFor)
	obj.Set("sleep", a.sleep)
	obj.Set("cancelled", func() bool { return a.ctx.Err() != nil })
	obj.Set("saveFile", a.saveFile)

	logObj := vm.NewObject()
	logObj.Set("debug", a.logAt(zerolog.DebugLevel))
	logObj.Set("info", a.logAt(zerolog.InfoLevel))
	logObj.Set("warn", a.logAt(zerolog.WarnLevel))
	logObj.Set("error", a.logAt(zerolog.ErrorLevel))
	obj.Set("log", logObj)

	httpObj := vm.NewObject()
	httpObj.Set("get", a.httpGet)
	httpObj.Set("post", a.httpPost)
	obj.Set("http", httpObj)

	utilsObj := vm.NewObject()
	utilsObj.Set("parseHTML", a.parseHTML)
	utilsObj.Set("xpath", a.xpathQuery)
	utilsObj.Set("encerrada", a.encerrada)
	obj.Set("utils", utilsObj)

	return obj
}

func (a *scriptAPI) jobValue() goja.Value {
	vm := a.vm
	periodos := make([]any, len(a.job.Periodos))
	for i, p := range a.job.Periodos {
		periodos[i] = p.String()
	}
	job := vm.NewObject()
	job.Set("run_id", a.job.RunID)
	job.Set("cnpj", a.job.CNPJ)
	job.Set("periodo_inicial", a.job.Inicial.String())
	job.Set("periodo_final", a.job.Final.String())
	job.Set("periodos", vm.NewArray(periodos...))
	job.Set("work_dir", a.job.WorkDir)
	return job
}

// throw raises err as a JavaScript exception.
func (a *scriptAPI) throw(format string, args ...any) {
	panic(a.vm.NewGoError(fmt.Errorf(format, args...)))
}

func isMissing(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

func (a *scriptAPI) progress(call goja.FunctionCall) goja.Value {
	pct := store.ClampProgressFloat(call.Argument(0).ToFloat())
	etapa := ""
	if arg := call.Argument(1); !isMissing(arg) {
		etapa = arg.String()
	}
	a.rep.Progress(pct, etapa)
	return goja.Undefined()
}

func (a *scriptAPI) sleep(ms int64) {
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
	case <-a.ctx.Done():
	}
}

// saveFile writes content under the run's work directory and returns the
// relative path.
func (a *scriptAPI) saveFile(name, content string) string {
	full, err := util.ResolveWithin(a.job.WorkDir, name)
	if err != nil {
		a.throw("saveFile: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		a.throw("saveFile: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		a.throw("saveFile: %v", err)
	}
	rel, _ := filepath.Rel(a.job.WorkDir, full)
	return filepath.ToSlash(rel)
}

func (a *scriptAPI) logAt(level zerolog.Level) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = fmt.Sprint(arg.Export())
		}
		msg := strings.Join(parts, " ")
		a.logger.WithLevel(level).Msg(msg)
		a.out.Line(level.String(), msg)
		return goja.Undefined()
	}
}

type requestOptions struct {
	headers map[string]string
	timeout time.Duration
}

func (a *scriptAPI) options(v goja.Value) requestOptions {
	opts := requestOptions{headers: map[string]string{}, timeout: defaultHTTPTimeout}
	if isMissing(v) {
		return opts
	}
	raw, ok := v.Export().(map[string]any)
	if !ok {
		return opts
	}
	if headers, ok := raw["headers"].(map[string]any); ok {
		for k, val := range headers {
			opts.headers[k] = fmt.Sprint(val)
		}
	}
	switch t := raw["timeout"].(type) {
	case int64:
		opts.timeout = time.Duration(t) * time.Second
	case float64:
		opts.timeout = time.Duration(t * float64(time.Second))
	}
	return opts
}

func (a *scriptAPI) do(method, url string, body io.Reader, contentType string, opts requestOptions) goja.Value {
	ctx, cancel := context.WithTimeout(a.ctx, opts.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		a.throw("HTTP %s error: failed to create request for URL '%s': %v", method, url, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range opts.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		a.throw("HTTP %s error: request to '%s' failed: %v", method, url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		a.throw("HTTP %s error: failed to read response body from '%s': %v", method, url, err)
	}

	var data any
	if err := json.Unmarshal(respBody, &data); err != nil {
		data = string(respBody)
	}

	headers := make(map[string]any, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	vm := a.vm
	respObj := vm.NewObject()
	respObj.Set("status", resp.StatusCode)
	respObj.Set("statusText", resp.Status)
	respObj.Set("headers", vm.ToValue(headers))
	respObj.Set("data", vm.ToValue(data))
	respObj.Set("text", func() string { return string(respBody) })
	return respObj
}

func (a *scriptAPI) httpGet(call goja.FunctionCall) goja.Value {
	url := call.Argument(0).String()
	if isMissing(call.Argument(0)) || url == "" {
		a.throw("HTTP GET error: URL is required")
	}
	return a.do(http.MethodGet, url, nil, "", a.options(call.Argument(1)))
}

func (a *scriptAPI) httpPost(call goja.FunctionCall) goja.Value {
	url := call.Argument(0).String()
	if isMissing(call.Argument(0)) || url == "" {
		a.throw("HTTP POST error: URL is required")
	}

	var (
		body        io.Reader
		contentType string
	)
	if arg := call.Argument(1); !isMissing(arg) {
		switch v := arg.Export().(type) {
		case string:
			body = strings.NewReader(v)
			contentType = "text/plain"
		default:
			data, err := json.Marshal(v)
			if err != nil {
				a.throw("HTTP POST error: failed to marshal request body for '%s': %v", url, err)
			}
			body = strings.NewReader(string(data))
			contentType = "application/json"
		}
	}
	return a.do(http.MethodPost, url, body, contentType, a.options(call.Argument(2)))
}

// htmlSource accepts either a document returned by parseHTML or a raw HTML
// string.
func (a *scriptAPI) htmlSource(v goja.Value) string {
	if isMissing(v) {
		return ""
	}
	if obj, ok := v.(*goja.Object); ok {
		if h := obj.Get("_html"); !isMissing(h) {
			return h.String()
		}
	}
	return v.String()
}

func (a *scriptAPI) parseHTML(call goja.FunctionCall) goja.Value {
	htmlStr := a.htmlSource(call.Argument(0))
	doc, err := scrape.Parse(htmlStr)
	if err != nil {
		a.throw("parseHTML error: %v", err)
	}

	docObj := a.vm.NewObject()
	docObj.Set("querySelector", func(selector string) goja.Value {
		return a.firstToJS(doc.Find(selector))
	})
	docObj.Set("querySelectorAll", func(selector string) goja.Value {
		return a.selectionToJS(doc.Find(selector))
	})
	docObj.Set("text", func() string { return scrape.CleanText(doc.Text()) })
	docObj.Set("_html", htmlStr)
	return docObj
}

func (a *scriptAPI) xpathQuery(call goja.FunctionCall) goja.Value {
	htmlStr := a.htmlSource(call.Argument(0))
	expr := call.Argument(1).String()
	if htmlStr == "" || isMissing(call.Argument(1)) {
		a.throw("xpath error: HTML and XPath expression are required")
	}

	nodes, err := scrape.XPath(htmlStr, expr)
	if err != nil {
		a.throw("xpath error: %v", err)
	}
	elements := make([]any, len(nodes))
	for i, n := range nodes {
		elements[i] = a.elementToJS(scrape.Selection(n))
	}
	return a.vm.NewArray(elements...)
}

func (a *scriptAPI) encerrada(call goja.FunctionCall) goja.Value {
	closed, err := carteira.EscrituracaoEncerrada(a.htmlSource(call.Argument(0)))
	if err != nil {
		a.throw("encerrada error: %v", err)
	}
	return a.vm.ToValue(closed)
}

func (a *scriptAPI) firstToJS(sel *goquery.Selection) goja.Value {
	if sel.Length() == 0 {
		return goja.Null()
	}
	return a.elementToJS(sel.First())
}

func (a *scriptAPI) elementToJS(sel *goquery.Selection) goja.Value {
	el := a.vm.NewObject()
	el.Set("textContent", sel.Text())
	inner, _ := sel.Html()
	el.Set("innerHTML", inner)
	el.Set("getAttribute", func(name string) goja.Value {
		val, ok := sel.Attr(name)
		if !ok {
			return goja.Null()
		}
		return a.vm.ToValue(val)
	})
	el.Set("querySelector", func(selector string) goja.Value {
		return a.firstToJS(sel.Find(selector))
	})
	el.Set("querySelectorAll", func(selector string) goja.Value {
		return a.selectionToJS(sel.Find(selector))
	})
	return el
}

func (a *scriptAPI) selectionToJS(sel *goquery.Selection) goja.Value {
	elements := make([]any, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		elements = append(elements, a.elementToJS(s))
	})
	return a.vm.NewArray(elements...)
}
