package shm

import (
	"testing"

	"github.com/datapulse-io/batchexport/pkg/testutil"
)

func TestBatchHandoffRoundTrip(t *testing.T) {
	b := testutil.EventBatch(t, 5)

	region, err := WriteBatch(b)
	if err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}
	b.Release()
	defer region.Unlink()

	got, err := ReadBatch(region.Name(), []string{"properties"})
	if err != nil {
		t.Fatalf("ReadBatch failed: %v", err)
	}
	defer got.Release()

	if got.NumRows() != 5 {
		t.Errorf("expected 5 rows, got %d", got.NumRows())
	}

	rows := got.Rows()
	props, ok := rows[0]["properties"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected JSON column re-expanded, got %T", rows[0]["properties"])
	}
	if props["$browser"] != "Firefox" {
		t.Errorf("unexpected browser: %v", props["$browser"])
	}
}

// The region is sized by an exact measurement pass, so the handoff must fit
// without slack and a second read of the same name still succeeds before
// unlink.
func TestBatchHandoffMultipleReaders(t *testing.T) {
	b := testutil.EventBatch(t, 3)

	region, err := WriteBatch(b)
	if err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}
	b.Release()
	defer region.Unlink()

	for i := 0; i < 2; i++ {
		got, err := ReadBatch(region.Name(), nil)
		if err != nil {
			t.Fatalf("read %d: ReadBatch failed: %v", i, err)
		}
		if got.NumRows() != 3 {
			t.Errorf("read %d: expected 3 rows, got %d", i, got.NumRows())
		}
		got.Release()
	}
}

func TestReadBatchMissingRegion(t *testing.T) {
	if _, err := ReadBatch("batchexport-missing-region", nil); err == nil {
		t.Fatal("expected error for missing region")
	}
}
