package tracing

import (
	"fmt"
	"os"

	"github.com/tebeka/atexit"
)

// CSVTracer is a Tracer that accumulates tasks in memory and writes one
// row per finished task to a CSV file, flushing in batches and on exit.
// Grounded on the teacher's csv.go/csvtracewriter.go, which duplicated
// the same writer under two names (CSVTracerBackend, CSVTraceWriter);
// this repo keeps one and makes it a self-contained Tracer, the same
// shape as JSONTracer, instead of a bare writer something else wraps.
type CSVTracer struct {
	file *os.File

	inflight map[string]Task
	buffered []Task
	batch    int
}

// NewCSVTracer creates a CSVTracer writing to path, overwriting it if it
// already exists.
func NewCSVTracer(path string) *CSVTracer {
	file, err := os.Create(path)
	if err != nil {
		panic(err)
	}

	fmt.Fprintf(file, "id,parent_id,kind,what,where,start,end\n")

	t := &CSVTracer{
		file:     file,
		inflight: make(map[string]Task),
		batch:    1000,
	}

	atexit.Register(func() {
		t.Flush()
		if err := t.file.Close(); err != nil {
			panic(err)
		}
	})

	return t
}

// StartTask implements Tracer.
func (t *CSVTracer) StartTask(task Task) {
	t.inflight[task.ID] = task
}

// StepTask implements Tracer. The CSV format has no column for
// intermediate steps, so this is a no-op.
func (t *CSVTracer) StepTask(task Task) {}

// EndTask implements Tracer.
func (t *CSVTracer) EndTask(task Task) {
	original, ok := t.inflight[task.ID]
	if !ok {
		return
	}
	delete(t.inflight, task.ID)

	original.EndTime = task.EndTime
	t.buffered = append(t.buffered, original)
	if len(t.buffered) >= t.batch {
		t.Flush()
	}
}

// Flush writes every buffered task to the CSV file.
func (t *CSVTracer) Flush() {
	for _, task := range t.buffered {
		fmt.Fprintf(t.file, "%s,%s,%s,%s,%s,%s,%s\n",
			task.ID, task.ParentID, task.Kind, task.What, task.Where,
			task.StartTime, task.EndTime)
	}
	t.buffered = nil
}
