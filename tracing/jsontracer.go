package tracing

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// JSONTracer writes one newline-delimited JSON object per finished task
// to a file named after a fresh xid. Unlike CSVTracer and SQLiteTracer,
// whose flat rows have no place to put a task's intermediate steps,
// JSONTracer accumulates the steps reported between StartTask and
// EndTask and writes them out as part of the task's record — it is the
// tracer to reach for when the steps a task passed through, not just
// its span, are what a run needs to explain.
type JSONTracer struct {
	mu       sync.Mutex
	w        *bufio.Writer
	f        *os.File
	inflight map[string]*Task
}

// NewJSONTracer creates a JSONTracer writing to a freshly named file in
// the current directory.
func NewJSONTracer() *JSONTracer {
	filename := xid.New().String() + ".jsonl"
	f, err := os.Create(filename)
	if err != nil {
		panic(err)
	}
	fmt.Printf("recording tasks in %s\n", filename)

	t := &JSONTracer{
		w:        bufio.NewWriter(f),
		f:        f,
		inflight: make(map[string]*Task),
	}

	atexit.Register(t.finish)

	return t
}

// StartTask implements Tracer.
func (t *JSONTracer) StartTask(task Task) {
	t.mu.Lock()
	t.inflight[task.ID] = &task
	t.mu.Unlock()
}

// StepTask implements Tracer, recording the reported step against the
// task it belongs to instead of discarding it.
func (t *JSONTracer) StepTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	original, ok := t.inflight[task.ID]
	if !ok {
		return
	}
	original.Steps = append(original.Steps, task.Steps...)
}

// EndTask implements Tracer.
func (t *JSONTracer) EndTask(task Task) {
	t.mu.Lock()
	original, ok := t.inflight[task.ID]
	if !ok {
		t.mu.Unlock()
		return
	}
	original.EndTime = task.EndTime
	delete(t.inflight, task.ID)
	t.mu.Unlock()

	b, err := json.Marshal(original)
	if err != nil {
		panic(err)
	}

	t.mu.Lock()
	if _, err := t.w.Write(b); err != nil {
		t.mu.Unlock()
		panic(err)
	}
	if err := t.w.WriteByte('\n'); err != nil {
		t.mu.Unlock()
		panic(err)
	}
	t.mu.Unlock()
}

func (t *JSONTracer) finish() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.w.Flush(); err != nil {
		panic(err)
	}
	if err := t.f.Close(); err != nil {
		panic(err)
	}
}
