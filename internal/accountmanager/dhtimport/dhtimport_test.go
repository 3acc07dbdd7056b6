package dhtimport

import (
	"context"
	"testing"

	"github.com/meshid-core/core/internal/identitycore/archive"
	"github.com/meshid-core/core/pkg/models"
)

type fakeDht struct {
	values map[string][][]byte
	fail   map[string]bool
}

func (d *fakeDht) Get(ctx context.Context, key string) ([][]byte, error) {
	if d.fail[key] {
		return nil, errNetwork
	}
	return d.values[key], nil
}

func (d *fakeDht) Put(ctx context.Context, key string, value []byte) error { return nil }

func (d *fakeDht) Listen(ctx context.Context, key string, onValue func([]byte)) (func(), error) {
	return func() {}, nil
}

var errNetwork = &netErr{}

type netErr struct{}

func (e *netErr) Error() string { return "network" }

func TestImportFindsCurrentEpoch(t *testing.T) {
	now := int64(1_000_000)
	epoch := computeEpoch(now)
	key, location := ComputeKeys("pw", "1234", epoch)

	a := models.AccountArchive{Contacts: map[string]models.Contact{"acc1": {AddedAt: 1}}}
	encoded, err := archive.Encode(models.ArchiveSchemeKey, key, a)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dht := &fakeDht{values: map[string][][]byte{location: {encoded}}}
	got, err := Import(context.Background(), dht, "pw", "1234", now)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(got.Contacts) != 1 {
		t.Fatalf("expected the decoded archive's contacts to round-trip")
	}
}

func TestImportFindsPreviousEpoch(t *testing.T) {
	now := int64(1_000_000)
	epoch := computeEpoch(now)
	key, location := ComputeKeys("pw", "1234", epoch-1)

	a := models.AccountArchive{Contacts: map[string]models.Contact{"acc2": {AddedAt: 2}}}
	encoded, err := archive.Encode(models.ArchiveSchemeKey, key, a)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dht := &fakeDht{values: map[string][][]byte{location: {encoded}}}
	got, err := Import(context.Background(), dht, "pw", "1234", now)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if _, ok := got.Contacts["acc2"]; !ok {
		t.Fatalf("expected archive recovered from the previous epoch")
	}
}

func TestImportBothEmptyReportsNotFound(t *testing.T) {
	dht := &fakeDht{values: map[string][][]byte{}}
	_, err := Import(context.Background(), dht, "pw", "1234", 1_000_000)
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestImportBothNetworkFailuresReportsNetwork(t *testing.T) {
	now := int64(1_000_000)
	epoch := computeEpoch(now)
	_, curLoc := ComputeKeys("pw", "1234", epoch)
	_, prevLoc := ComputeKeys("pw", "1234", epoch-1)
	dht := &fakeDht{fail: map[string]bool{curLoc: true, prevLoc: true}}

	_, err := Import(context.Background(), dht, "pw", "1234", now)
	if err != ErrNetwork {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}
