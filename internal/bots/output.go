package bots

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// OutputFile is the name of the log each run writes into its work directory.
const OutputFile = "output.log"

// outputLog appends timestamped lines to WorkDir/output.log. Safe for
// concurrent use.
type outputLog struct {
	mu sync.Mutex
	f  *os.File
}

func openOutputLog(workDir string) (*outputLog, error) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(workDir, OutputFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output log: %w", err)
	}
	return &outputLog{f: f}, nil
}

func (o *outputLog) Line(stream, line string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.f, "%s [%s] %s\n", time.Now().Format(time.RFC3339), stream, line)
}

func (o *outputLog) Close() error {
	return o.f.Close()
}

// lineWriter splits written bytes into lines, logs each one, hands it to
// onLine and keeps the last few for error messages.
type lineWriter struct {
	out    *outputLog
	stream string
	keep   int
	onLine func(line string)

	mu      sync.Mutex
	partial strings.Builder
	tail    []string
}

var _ io.Writer = (*lineWriter)(nil)

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range p {
		if b == '\n' {
			w.flushLocked()
			continue
		}
		w.partial.WriteByte(b)
	}
	return len(p), nil
}

func (w *lineWriter) flushLocked() {
	line := strings.TrimRight(w.partial.String(), "\r")
	w.partial.Reset()
	if line == "" {
		return
	}
	w.out.Line(w.stream, line)
	if w.onLine != nil {
		w.onLine(line)
	}
	if w.keep == 0 {
		return
	}
	w.tail = append(w.tail, line)
	if len(w.tail) > w.keep {
		w.tail = w.tail[len(w.tail)-w.keep:]
	}
}

// Tail flushes any pending partial line and returns the kept lines.
func (w *lineWriter) Tail() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked()
	return strings.Join(w.tail, "\n")
}
