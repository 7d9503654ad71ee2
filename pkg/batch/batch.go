// Package batch provides the columnar batch model for batchexport.
// A Batch wraps an Apache Arrow record and adds the column selection,
// row materialization, and transport fixups the export transformer needs.
package batch

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	gojson "github.com/goccy/go-json"
)

// SyncColumn is the default name of the synchronization column appended by
// the upstream batch producer. It is dropped from the output unless the
// transformer is configured to retain it.
const SyncColumn = "_inserted_at"

// Batch is an immutable, fixed-schema columnar record set. Column storage is
// shared between batches derived through Select and Drop; Release must be
// called once per Batch to drop its column references.
type Batch struct {
	rec      arrow.Record
	jsonCols map[string]struct{}
}

// New wraps an Arrow record. The batch takes over the caller's reference;
// call Retain on the record first if the caller still needs it.
func New(rec arrow.Record) *Batch {
	return &Batch{rec: rec}
}

// Record returns the underlying Arrow record.
func (b *Batch) Record() arrow.Record {
	return b.rec
}

// Schema returns the batch schema.
func (b *Batch) Schema() *arrow.Schema {
	return b.rec.Schema()
}

// NumRows returns the number of rows in the batch.
func (b *Batch) NumRows() int64 {
	return b.rec.NumRows()
}

// Retain increments the reference count of the underlying columns.
func (b *Batch) Retain() {
	b.rec.Retain()
}

// Release decrements the reference count of the underlying columns.
func (b *Batch) Release() {
	b.rec.Release()
}

// ColumnNames returns the schema's column names in order.
func (b *Batch) ColumnNames() []string {
	fields := b.rec.Schema().Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// Select returns a batch containing only the named columns, in the given
// order. Column storage is shared with the receiver, not copied.
func (b *Batch) Select(names []string) (*Batch, error) {
	schema := b.rec.Schema()
	fields := make([]arrow.Field, 0, len(names))
	cols := make([]arrow.Array, 0, len(names))

	for _, name := range names {
		indices := schema.FieldIndices(name)
		if len(indices) == 0 {
			return nil, fmt.Errorf("column %q not found in batch schema", name)
		}
		idx := indices[0]
		fields = append(fields, schema.Field(idx))
		cols = append(cols, b.rec.Column(idx))
	}

	for _, col := range cols {
		col.Retain()
	}

	sub := array.NewRecord(arrow.NewSchema(fields, nil), cols, b.rec.NumRows())
	for _, col := range cols {
		col.Release()
	}

	return &Batch{rec: sub, jsonCols: b.jsonCols}, nil
}

// Drop returns a batch without the named column. If the column is absent the
// receiver is retained and returned unchanged.
func (b *Batch) Drop(name string) *Batch {
	schema := b.rec.Schema()
	if len(schema.FieldIndices(name)) == 0 {
		b.Retain()
		return b
	}

	names := make([]string, 0, schema.NumFields()-1)
	for _, f := range schema.Fields() {
		if f.Name != name {
			names = append(names, f.Name)
		}
	}

	sub, err := b.Select(names)
	if err != nil {
		// All names came from the schema itself.
		panic(err)
	}
	return sub
}

// WithJSONColumns marks the named string columns as containing serialized
// JSON. Rows materialized through Rows re-expand those cells into structured
// values. Batches round-tripped through the shared-memory transport lose
// this marking and must be re-marked by the reader side.
func (b *Batch) WithJSONColumns(names ...string) *Batch {
	cols := make(map[string]struct{}, len(names))
	for _, n := range names {
		cols[n] = struct{}{}
	}
	b.jsonCols = cols
	return b
}

// Rows materializes the batch as one map per row for row-oriented encoding.
// Cells in JSON-marked columns are decoded into structured values; cells
// that fail to decode keep their raw string form.
func (b *Batch) Rows() []map[string]interface{} {
	n := int(b.rec.NumRows())
	rows := make([]map[string]interface{}, n)

	schema := b.rec.Schema()
	for i := 0; i < n; i++ {
		rows[i] = make(map[string]interface{}, schema.NumFields())
	}

	for c := 0; c < int(b.rec.NumCols()); c++ {
		name := schema.Field(c).Name
		col := b.rec.Column(c)
		_, isJSON := b.jsonCols[name]

		for i := 0; i < n; i++ {
			v := columnValue(col, i)
			if isJSON {
				if s, ok := v.(string); ok && s != "" {
					var decoded interface{}
					if err := gojson.Unmarshal([]byte(s), &decoded); err == nil {
						v = decoded
					}
				}
			}
			rows[i][name] = v
		}
	}

	return rows
}

// columnValue extracts one cell as a Go value.
func columnValue(col arrow.Array, rowIdx int) interface{} {
	if col.IsNull(rowIdx) {
		return nil
	}

	switch c := col.(type) {
	case *array.Boolean:
		return c.Value(rowIdx)
	case *array.Int8:
		return int64(c.Value(rowIdx))
	case *array.Int16:
		return int64(c.Value(rowIdx))
	case *array.Int32:
		return int64(c.Value(rowIdx))
	case *array.Int64:
		return c.Value(rowIdx)
	case *array.Uint8:
		return int64(c.Value(rowIdx))
	case *array.Uint16:
		return int64(c.Value(rowIdx))
	case *array.Uint32:
		return int64(c.Value(rowIdx))
	case *array.Uint64:
		return c.Value(rowIdx)
	case *array.Float32:
		return float64(c.Value(rowIdx))
	case *array.Float64:
		return c.Value(rowIdx)
	case *array.String:
		return c.Value(rowIdx)
	case *array.LargeString:
		return c.Value(rowIdx)
	case *array.Binary:
		return c.Value(rowIdx)
	case *array.Timestamp:
		unit := c.DataType().(*arrow.TimestampType).Unit
		return c.Value(rowIdx).ToTime(unit)
	case *array.Date32:
		return c.Value(rowIdx).ToTime()
	default:
		return col.ValueStr(rowIdx)
	}
}
