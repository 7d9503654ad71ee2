package shm

import (
	"bytes"
	"os"
	"testing"

	"github.com/datapulse-io/batchexport/pkg/exporterrors"
)

func TestCreateOpenRoundTrip(t *testing.T) {
	region, err := Create(64)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer region.Unlink()
	defer region.Close()

	if !region.Owner() {
		t.Error("creator should own the region")
	}
	if region.Size() != 64 {
		t.Errorf("expected size 64, got %d", region.Size())
	}

	payload := []byte("shared region payload")
	copy(region.Bytes(), payload)

	other, err := Open(region.Name())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer other.Close()

	if other.Owner() {
		t.Error("opener must not own the region")
	}
	if other.Size() != 64 {
		t.Errorf("expected size 64, got %d", other.Size())
	}
	if !bytes.Equal(other.Bytes()[:len(payload)], payload) {
		t.Errorf("expected payload %q, got %q", payload, other.Bytes()[:len(payload)])
	}
}

func TestCreateInvalidSize(t *testing.T) {
	if _, err := Create(0); err == nil {
		t.Error("expected error for zero size")
	}
	if _, err := Create(-1); err == nil {
		t.Error("expected error for negative size")
	}
}

func TestOpenMissingRegion(t *testing.T) {
	_, err := Open("batchexport-missing-region")
	if err == nil {
		t.Fatal("expected error for missing region")
	}
	if !exporterrors.IsType(err, exporterrors.ErrorTypeTransfer) {
		t.Errorf("expected transfer error, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	region, err := Create(16)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer region.Unlink()

	if err := region.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := region.Close(); err != nil {
		t.Errorf("repeat Close failed: %v", err)
	}
}

func TestUnlinkOnlyByOwner(t *testing.T) {
	region, err := Create(16)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer region.Close()

	other, err := Open(region.Name())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer other.Close()

	if err := other.Unlink(); err == nil {
		t.Error("expected error when a non-owner unlinks")
	}

	if err := region.Unlink(); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}
	// The name is gone; repeat unlinks are no-ops.
	if _, err := os.Stat(regionPath(region.Name())); !os.IsNotExist(err) {
		t.Error("expected region name to be removed")
	}
	if err := region.Unlink(); err != nil {
		t.Errorf("repeat Unlink failed: %v", err)
	}
}

// An open mapping stays readable after the owner unlinks the name.
func TestMappingSurvivesUnlink(t *testing.T) {
	region, err := Create(16)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	copy(region.Bytes(), "still here")

	other, err := Open(region.Name())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer other.Close()

	if err := region.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := region.Unlink(); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}

	if string(other.Bytes()[:10]) != "still here" {
		t.Errorf("unexpected contents: %q", other.Bytes()[:10])
	}
}
