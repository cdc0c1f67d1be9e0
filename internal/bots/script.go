package bots

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/dop251/goja"

	"github.com/exatta/encerramento/internal/log"
	"github.com/exatta/encerramento/internal/models"
)

// ScriptBot runs a JavaScript closure bot in an embedded goja VM. The script
// must export a function:
//
//	exports.encerrar = function(job, encerramento) { ... }
//
// where encerramento is the API built by scriptAPI. Async functions are
// supported; a rejected promise fails the run.
type ScriptBot struct {
	info   models.BotInfo
	file   string
	client *http.Client
}

// NewScriptBot creates a script bot for file. A nil client uses
// http.DefaultClient.
func NewScriptBot(info models.BotInfo, file string, client *http.Client) *ScriptBot {
	if client == nil {
		client = http.DefaultClient
	}
	info.Kind = KindScript
	return &ScriptBot{info: info, file: file, client: client}
}

func (b *ScriptBot) Info() models.BotInfo {
	return b.info
}

func (b *ScriptBot) Run(ctx context.Context, job Job, r Reporter) (err error) {
	src, err := os.ReadFile(b.file)
	if err != nil {
		return &BotError{Bot: b.info.Path, Message: "failed to read script", Cause: err}
	}

	out, err := openOutputLog(job.WorkDir)
	if err != nil {
		return err
	}
	defer out.Close()

	vm := goja.New()
	api := &scriptAPI{
		ctx:    ctx,
		vm:     vm,
		job:    job,
		rep:    r,
		out:    out,
		client: b.client,
		logger: log.With("script").With().Str("bot", b.info.Path).Str("run_id", job.RunID).Logger(),
	}

	exports := vm.NewObject()
	vm.Set("exports", exports)

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	defer func() {
		if p := recover(); p != nil {
			err = &BotError{Bot: b.info.Path, Message: fmt.Sprintf("panic: %v", p)}
		}
	}()

	module := fmt.Sprintf("(function(exports) {\n%s\n})(exports);", src)
	if _, err := vm.RunScript(b.info.Path, module); err != nil {
		return b.wrapError(ctx, "failed to load script", err)
	}

	encerrar, ok := goja.AssertFunction(exports.Get("encerrar"))
	if !ok {
		return &BotError{Bot: b.info.Path, Message: "script does not export an encerrar function"}
	}

	val, err := encerrar(goja.Undefined(), api.jobValue(), api.object())
	if err != nil {
		return b.wrapError(ctx, "script failed", err)
	}

	if promise, ok := val.Export().(*goja.Promise); ok {
		switch promise.State() {
		case goja.PromiseStateRejected:
			return &BotError{Bot: b.info.Path, Message: "script failed: " + promise.Result().String()}
		case goja.PromiseStatePending:
			return &BotError{Bot: b.info.Path, Message: "script returned a promise that never settled"}
		}
	}
	return nil
}

func (b *ScriptBot) wrapError(ctx context.Context, msg string, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) && ctx.Err() != nil {
		return ctx.Err()
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return &BotError{Bot: b.info.Path, Message: msg + ": " + exc.Value().String()}
	}
	return &BotError{Bot: b.info.Path, Message: msg, Cause: err}
}
