// Package export writes execution history and the discovery ledger as Parquet
// for offline analysis.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/riskinsure/fileretrieval/internal/domain"
)

var timestamp = arrow.FixedWidthTypes.Timestamp_us

// ExecutionSchema is the column layout of an executions export.
var ExecutionSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.BinaryTypes.String},
	{Name: "client_id", Type: arrow.BinaryTypes.String},
	{Name: "configuration_id", Type: arrow.BinaryTypes.String},
	{Name: "scheduled_time", Type: timestamp},
	{Name: "started_at", Type: timestamp},
	{Name: "completed_at", Type: timestamp, Nullable: true},
	{Name: "status", Type: arrow.BinaryTypes.String},
	{Name: "discovered_count", Type: arrow.PrimitiveTypes.Int64},
	{Name: "dispatched_count", Type: arrow.PrimitiveTypes.Int64},
	{Name: "failure_reason", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "is_manual_trigger", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "triggered_by", Type: arrow.BinaryTypes.String},
}, nil)

// LedgerSchema is the column layout of a ledger export.
var LedgerSchema = arrow.NewSchema([]arrow.Field{
	{Name: "configuration_id", Type: arrow.BinaryTypes.String},
	{Name: "dedup_key", Type: arrow.BinaryTypes.String},
	{Name: "file_uri", Type: arrow.BinaryTypes.String},
	{Name: "size", Type: arrow.PrimitiveTypes.Int64},
	{Name: "last_modified", Type: timestamp},
	{Name: "discovered_at", Type: timestamp},
	{Name: "execution_id", Type: arrow.BinaryTypes.String},
}, nil)

// Executions writes execs to w as a single Parquet row group.
func Executions(w io.Writer, execs []domain.Execution) error {
	b := array.NewRecordBuilder(memory.DefaultAllocator, ExecutionSchema)
	defer b.Release()

	for _, e := range execs {
		b.Field(0).(*array.StringBuilder).Append(e.ID)
		b.Field(1).(*array.StringBuilder).Append(e.ClientID)
		b.Field(2).(*array.StringBuilder).Append(e.ConfigurationID)
		b.Field(3).(*array.TimestampBuilder).Append(micros(e.ScheduledTime))
		b.Field(4).(*array.TimestampBuilder).Append(micros(e.StartedAt))
		if e.CompletedAt != nil {
			b.Field(5).(*array.TimestampBuilder).Append(micros(*e.CompletedAt))
		} else {
			b.Field(5).AppendNull()
		}
		b.Field(6).(*array.StringBuilder).Append(string(e.Status))
		b.Field(7).(*array.Int64Builder).Append(int64(e.DiscoveredCount))
		b.Field(8).(*array.Int64Builder).Append(int64(e.DispatchedCount))
		if e.FailureReason != "" {
			b.Field(9).(*array.StringBuilder).Append(e.FailureReason)
		} else {
			b.Field(9).AppendNull()
		}
		b.Field(10).(*array.BooleanBuilder).Append(e.IsManualTrigger)
		b.Field(11).(*array.StringBuilder).Append(e.TriggeredBy)
	}

	rec := b.NewRecord()
	defer rec.Release()
	return writeParquet(w, ExecutionSchema, rec)
}

// Ledger writes discovered files to w as a single Parquet row group.
func Ledger(w io.Writer, files []domain.DiscoveredFile) error {
	b := array.NewRecordBuilder(memory.DefaultAllocator, LedgerSchema)
	defer b.Release()

	for _, f := range files {
		b.Field(0).(*array.StringBuilder).Append(f.ConfigurationID)
		b.Field(1).(*array.StringBuilder).Append(f.DedupKey)
		b.Field(2).(*array.StringBuilder).Append(f.FileURI)
		b.Field(3).(*array.Int64Builder).Append(f.Size)
		b.Field(4).(*array.TimestampBuilder).Append(micros(f.LastModified))
		b.Field(5).(*array.TimestampBuilder).Append(micros(f.DiscoveredAt))
		b.Field(6).(*array.StringBuilder).Append(f.ExecutionID)
	}

	rec := b.NewRecord()
	defer rec.Release()
	return writeParquet(w, LedgerSchema, rec)
}

// ToFile creates path and streams write into it.
func ToFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %q: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	// The parquet writer closes its sink.
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("closing %q: %w", path, err)
	}
	return nil
}

func writeParquet(w io.Writer, schema *arrow.Schema, rec arrow.Record) error {
	writerProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())
	writer, err := pqarrow.NewFileWriter(schema, w, nil, writerProps)
	if err != nil {
		return fmt.Errorf("creating parquet writer: %w", err)
	}

	if err := writer.Write(rec); err != nil {
		writer.Close()
		return fmt.Errorf("writing record: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing parquet writer: %w", err)
	}
	return nil
}

func micros(t time.Time) arrow.Timestamp {
	return arrow.Timestamp(t.UnixMicro())
}
