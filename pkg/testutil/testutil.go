// Package testutil provides testing utilities for batchexport
package testutil

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/datapulse-io/batchexport/pkg/batch"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// RequireNoError fails the test immediately if err is not nil.
// The msg parameter provides additional context in the failure message.
func RequireNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// EventSchema returns the schema used by event batches in tests: a team
// identifier, an event name, a serialized properties column, and the
// synchronization timestamp appended by the reader.
func EventSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "team_id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "event", Type: arrow.BinaryTypes.String},
		{Name: "properties", Type: arrow.BinaryTypes.String},
		{Name: batch.SyncColumn, Type: arrow.FixedWidthTypes.Timestamp_us},
	}, nil)
}

// EventBatch builds a batch of n synthetic events over EventSchema. The
// properties column holds serialized JSON so tests can exercise JSON column
// re-expansion.
func EventBatch(t *testing.T, n int) *batch.Batch {
	t.Helper()

	bld := array.NewRecordBuilder(memory.DefaultAllocator, EventSchema())
	defer bld.Release()

	for i := 0; i < n; i++ {
		bld.Field(0).(*array.Int64Builder).Append(int64(i % 3))
		bld.Field(1).(*array.StringBuilder).Append("$pageview")
		bld.Field(2).(*array.StringBuilder).Append(`{"$browser":"Firefox","index":` + strconv.Itoa(i) + `}`)
		bld.Field(3).(*array.TimestampBuilder).Append(arrow.Timestamp(1700000000000000 + int64(i)))
	}

	return batch.New(bld.NewRecord())
}
