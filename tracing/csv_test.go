package tracing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quantasim/quanta"
	"github.com/stretchr/testify/require"
)

func TestCSVTracerWritesFinishedTasksOnFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.csv")
	tracer := NewCSVTracer(path)

	tracer.StartTask(Task{ID: "1", Kind: "work", What: "do-thing", Where: "widget", StartTime: quanta.NewSimTime(1, 0)})
	tracer.EndTask(Task{ID: "1", EndTime: quanta.NewSimTime(2, 0)})
	tracer.Flush()

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(contents), "1,,work,do-thing,widget"))
}

func TestCSVTracerIgnoresUnknownEndTask(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.csv")
	tracer := NewCSVTracer(path)

	tracer.EndTask(Task{ID: "never-started"})
	tracer.Flush()

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "id,parent_id,kind,what,where,start,end\n", string(contents))
}
