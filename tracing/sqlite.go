package tracing

import (
	"database/sql"
	"fmt"
	"sync"

	// Pure-Go SQLite driver; no cgo, unlike the teacher's mattn/go-sqlite3.
	_ "modernc.org/sqlite"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// SQLiteTracer is a Tracer that batches finished tasks and writes them
// to a SQLite file, grounded on the teacher's sqlite.go (prepared
// statement, batch buffer, atexit-registered flush) but writing through
// modernc.org/sqlite rather than a cgo driver, and dropping the
// delay/progress/dependency tables the teacher's version referenced
// without ever defining their event types.
type SQLiteTracer struct {
	mu   sync.Mutex
	db   *sql.DB
	stmt *sql.Stmt

	inflight map[string]Task
	buffered []Task
	batch    int
}

// NewSQLiteTracer opens (creating if necessary) a SQLite database at
// path and prepares it to receive task rows. An empty path gets a fresh
// xid-derived filename.
func NewSQLiteTracer(path string) *SQLiteTracer {
	if path == "" {
		path = "quanta-trace-" + xid.New().String() + ".sqlite3"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		panic(err)
	}

	t := &SQLiteTracer{
		db:       db,
		inflight: make(map[string]Task),
		batch:    10000,
	}

	t.createTable()
	t.prepareStatement()

	atexit.Register(func() {
		t.Flush()
		if err := t.db.Close(); err != nil {
			panic(err)
		}
	})

	return t
}

func (t *SQLiteTracer) createTable() {
	_, err := t.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			parent_id TEXT,
			kind TEXT,
			what TEXT,
			location TEXT,
			start_time REAL,
			end_time REAL
		)
	`)
	if err != nil {
		panic(err)
	}
}

func (t *SQLiteTracer) prepareStatement() {
	stmt, err := t.db.Prepare(`
		INSERT INTO tasks (id, parent_id, kind, what, location, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		panic(err)
	}
	t.stmt = stmt
}

// StartTask implements Tracer.
func (t *SQLiteTracer) StartTask(task Task) {
	t.mu.Lock()
	t.inflight[task.ID] = task
	t.mu.Unlock()
}

// StepTask implements Tracer.
func (t *SQLiteTracer) StepTask(task Task) {}

// EndTask implements Tracer.
func (t *SQLiteTracer) EndTask(task Task) {
	t.mu.Lock()
	original, ok := t.inflight[task.ID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.inflight, task.ID)

	original.EndTime = task.EndTime
	t.buffered = append(t.buffered, original)
	needFlush := len(t.buffered) >= t.batch
	t.mu.Unlock()

	if needFlush {
		t.Flush()
	}
}

// Flush writes every buffered task inside a single transaction.
func (t *SQLiteTracer) Flush() {
	t.mu.Lock()
	tasks := t.buffered
	t.buffered = nil
	t.mu.Unlock()

	if len(tasks) == 0 {
		return
	}

	tx, err := t.db.Begin()
	if err != nil {
		panic(err)
	}

	stmt := tx.Stmt(t.stmt)
	for _, task := range tasks {
		_, err := stmt.Exec(
			task.ID, task.ParentID, task.Kind, task.What, task.Where,
			task.StartTime.Seconds(), task.EndTime.Seconds(),
		)
		if err != nil {
			panic(fmt.Errorf("tracing: insert task %s: %w", task.ID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		panic(err)
	}
}
