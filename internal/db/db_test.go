package db

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// captureHandler records log records for assertion in tests.
type captureHandler struct {
	mu      sync.Mutex
	records []map[string]slog.Value
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := map[string]slog.Value{"msg": slog.StringValue(r.Message)}
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value
		return true
	})
	h.records = append(h.records, m)
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) last(t *testing.T) map[string]slog.Value {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.records) - 1; i >= 0; i-- {
		if h.records[i]["msg"].String() == "sql" {
			return h.records[i]
		}
	}
	t.Fatal("no sql record logged")
	return nil
}

func (h *captureHandler) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = nil
}

func openMemory(t *testing.T, h *captureHandler) *sql.DB {
	t.Helper()
	db, err := Open(memory, slog.New(h))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_LogsExecAndQuery(t *testing.T) {
	h := &captureHandler{}
	db := openMemory(t, h)

	if _, err := db.Exec(`CREATE TABLE bonds (peer TEXT PRIMARY KEY, blob BLOB)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	got := h.last(t)
	if got["op"].String() != "exec" {
		t.Errorf("op = %q, want exec", got["op"].String())
	}
	if got["sql"].String() != `CREATE TABLE bonds (peer TEXT PRIMARY KEY, blob BLOB)` {
		t.Errorf("sql = %q", got["sql"].String())
	}

	h.reset()
	if _, err := db.Exec(`INSERT INTO bonds (peer, blob) VALUES (?, ?)`, "AA:BB", []byte{0xD1, 0x01}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	args, ok := h.last(t)["args"].Any().([]string)
	if !ok {
		t.Fatalf("args = %#v, want []string", h.last(t)["args"].Any())
	}
	if len(args) != 2 || args[0] != "AA:BB" || args[1] != "x'd101'" {
		t.Errorf("args = %q, want [AA:BB x'd101']", args)
	}

	h.reset()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM bonds`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	got = h.last(t)
	if got["op"].String() != "query" {
		t.Errorf("op = %q, want query", got["op"].String())
	}
}

func TestOpen_LogsStatementError(t *testing.T) {
	h := &captureHandler{}
	db := openMemory(t, h)

	if _, err := db.Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO t (id) VALUES (1)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	h.reset()
	if _, err := db.Exec(`INSERT INTO t (id) VALUES (?)`, 1); err == nil {
		t.Fatal("duplicate insert error = nil, want constraint error")
	}
	if _, ok := h.last(t)["err"]; !ok {
		t.Error("expected err attribute on failed exec")
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "bonds.db")
	db, err := Open(path, slog.New(&captureHandler{}))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("directory not created: %v", err)
	}
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		prefix  string
		wantErr bool
	}{
		{name: "memory", path: ":memory:", prefix: "file::memory:?_foreign_keys=on"},
		{name: "file uri", path: "file:/tmp/x.db", prefix: "file:/tmp/x.db?_foreign_keys=on"},
		{name: "file uri with query", path: "file:/tmp/x.db?mode=ro", prefix: "file:/tmp/x.db?mode=ro&_foreign_keys=on"},
		{name: "blank", path: "  ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildDSN(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("buildDSN(%q) = %q, want prefix %q", tt.path, got, tt.prefix)
			}
			if !strings.Contains(got, "_journal_mode=WAL") {
				t.Errorf("buildDSN(%q) = %q, missing journal mode", tt.path, got)
			}
		})
	}
}

func TestLoggingDriver_OpenRefused(t *testing.T) {
	c, _ := NewLoggingConnector(memory, nil)
	if _, err := c.Driver().Open(memory); err == nil {
		t.Fatal("Driver().Open error = nil, want non-nil")
	}
}
