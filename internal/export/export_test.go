package export

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/riskinsure/fileretrieval/internal/domain"
)

// readTable reads a whole Parquet document back as an Arrow table.
func readTable(t *testing.T, data []byte) arrow.Table {
	t.Helper()
	pf, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("opening parquet reader: %v", err)
	}
	t.Cleanup(func() { pf.Close() })

	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: 1024}, memory.DefaultAllocator)
	if err != nil {
		t.Fatalf("creating arrow reader: %v", err)
	}
	table, err := reader.ReadTable(context.Background())
	if err != nil {
		t.Fatalf("reading table: %v", err)
	}
	t.Cleanup(table.Release)
	return table
}

func firstChunk[T arrow.Array](t *testing.T, table arrow.Table, name string) T {
	t.Helper()
	idx := table.Schema().FieldIndices(name)
	if len(idx) != 1 {
		t.Fatalf("column %q not found", name)
	}
	return table.Column(idx[0]).Data().Chunk(0).(T)
}

func TestExecutions(t *testing.T) {
	started := time.Date(2024, 3, 1, 10, 5, 1, 0, time.UTC)
	completed := started.Add(3 * time.Second)
	execs := []domain.Execution{
		{
			ID: "e1", ClientID: "acme", ConfigurationID: "orders",
			ScheduledTime: started.Truncate(time.Minute), StartedAt: started, CompletedAt: &completed,
			Status: domain.ExecutionStatusCompletedWithErrors, DiscoveredCount: 3, DispatchedCount: 2,
			FailureReason: "1 file(s) failed", TriggeredBy: domain.TriggeredByScheduler,
		},
		{
			ID: "e2", ClientID: "acme", ConfigurationID: "orders",
			ScheduledTime: started, StartedAt: started,
			Status: domain.ExecutionStatusRunning, IsManualTrigger: true, TriggeredBy: "user-42",
		},
	}

	var buf bytes.Buffer
	if err := Executions(&buf, execs); err != nil {
		t.Fatalf("Executions() error: %v", err)
	}
	table := readTable(t, buf.Bytes())

	if table.NumRows() != 2 {
		t.Fatalf("rows = %d, want 2", table.NumRows())
	}
	if table.Schema().NumFields() != ExecutionSchema.NumFields() {
		t.Errorf("fields = %d, want %d", table.Schema().NumFields(), ExecutionSchema.NumFields())
	}

	status := firstChunk[*array.String](t, table, "status")
	if status.Value(0) != "CompletedWithErrors" || status.Value(1) != "Running" {
		t.Errorf("status = %q, %q", status.Value(0), status.Value(1))
	}
	done := firstChunk[*array.Timestamp](t, table, "completed_at")
	if done.IsNull(0) || !done.IsNull(1) {
		t.Errorf("completed_at nulls = %v, %v, want false, true", done.IsNull(0), done.IsNull(1))
	}
	if got := done.Value(0).ToTime(arrow.Microsecond); !got.Equal(completed) {
		t.Errorf("completed_at[0] = %v, want %v", got, completed)
	}
	reason := firstChunk[*array.String](t, table, "failure_reason")
	if !reason.IsNull(1) {
		t.Error("failure_reason[1] should be null")
	}
	manual := firstChunk[*array.Boolean](t, table, "is_manual_trigger")
	if manual.Value(0) || !manual.Value(1) {
		t.Errorf("is_manual_trigger = %v, %v", manual.Value(0), manual.Value(1))
	}
	discovered := firstChunk[*array.Int64](t, table, "discovered_count")
	if discovered.Value(0) != 3 {
		t.Errorf("discovered_count[0] = %d, want 3", discovered.Value(0))
	}
}

func TestLedger_ToFile(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 5, 2, 0, time.UTC)
	files := []domain.DiscoveredFile{
		{ConfigurationID: "acme/orders", DedupKey: "k1", FileURI: "ftp://h/in/a.csv", Size: 10, LastModified: at.Add(-time.Hour), DiscoveredAt: at, ExecutionID: "e1"},
		{ConfigurationID: "acme/orders", DedupKey: "k2", FileURI: "ftp://h/in/b.csv", Size: 20, LastModified: at.Add(-time.Hour), DiscoveredAt: at, ExecutionID: "e1"},
	}

	path := filepath.Join(t.TempDir(), "ledger.parquet")
	err := ToFile(path, func(w io.Writer) error { return Ledger(w, files) })
	if err != nil {
		t.Fatalf("ToFile() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	table := readTable(t, data)
	if table.NumRows() != 2 {
		t.Fatalf("rows = %d, want 2", table.NumRows())
	}
	size := firstChunk[*array.Int64](t, table, "size")
	if size.Value(1) != 20 {
		t.Errorf("size[1] = %d, want 20", size.Value(1))
	}
	uri := firstChunk[*array.String](t, table, "file_uri")
	if uri.Value(0) != "ftp://h/in/a.csv" {
		t.Errorf("file_uri[0] = %q", uri.Value(0))
	}
}

func TestLedger_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := Ledger(&buf, nil); err != nil {
		t.Fatalf("Ledger() error: %v", err)
	}
	if table := readTable(t, buf.Bytes()); table.NumRows() != 0 {
		t.Errorf("rows = %d, want 0", table.NumRows())
	}
}

func TestToFile_RemovesPartialOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.parquet")
	err := ToFile(path, func(w io.Writer) error { return io.ErrShortWrite })
	if err == nil {
		t.Fatal("ToFile() returned nil error")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Errorf("partial file left behind: %v", statErr)
	}
}
