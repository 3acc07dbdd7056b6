package revocation

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/meshid-core/core/pkg/models"
)

type fakeResolver struct {
	certs map[string]models.Certificate
}

func (r *fakeResolver) ResolveDeviceCert(ctx context.Context, deviceID string) (models.Certificate, bool) {
	c, ok := r.certs[deviceID]
	return c, ok
}

type fakeCertStore struct {
	pinned models.RevocationList
}

func (s *fakeCertStore) PinRevocationList(accountID string, list models.RevocationList) error {
	s.pinned = list
	return nil
}

type fakeArchiveStore struct {
	archive models.AccountArchive
}

func (s *fakeArchiveStore) Load() (models.AccountArchive, error) { return s.archive, nil }
func (s *fakeArchiveStore) Save(a models.AccountArchive) error   { s.archive = a; return nil }

type fakeDht struct {
	puts map[string][]byte
}

func (d *fakeDht) Get(ctx context.Context, key string) ([][]byte, error) { return nil, nil }
func (d *fakeDht) Put(ctx context.Context, key string, value []byte) error {
	if d.puts == nil {
		d.puts = map[string][]byte{}
	}
	d.puts[key] = value
	return nil
}
func (d *fakeDht) Listen(ctx context.Context, key string, onValue func([]byte)) (func(), error) {
	return func() {}, nil
}

type fakeSync struct{ triggered bool }

func (s *fakeSync) TriggerDeviceSync() { s.triggered = true }

func TestRevokeDeviceSignsPinsPublishesAndSyncs(t *testing.T) {
	accountPub, accountPriv, _ := ed25519.GenerateKey(nil)
	devicePub, _, _ := ed25519.GenerateKey(nil)
	deviceCert := models.Certificate{Level: models.CertLevelDevice, PublicKeyID: "dev1", PublicKey: devicePub}

	resolver := &fakeResolver{certs: map[string]models.Certificate{"dev1": deviceCert}}
	certStore := &fakeCertStore{}
	archiveStore := &fakeArchiveStore{archive: models.AccountArchive{}}
	dht := &fakeDht{}
	sync := &fakeSync{}

	err := RevokeDevice(context.Background(), dht, resolver, certStore, archiveStore, nil, sync, "acc1", accountPriv, "dev1", 100)
	if err != nil {
		t.Fatalf("RevokeDevice: %v", err)
	}

	if !IsRevoked(certStore.pinned, "dev1") {
		t.Fatalf("expected dev1 to be pinned as revoked")
	}
	if !Verify(certStore.pinned, accountPub) {
		t.Fatalf("expected the pinned list's signature to verify")
	}
	if _, ok := dht.puts["acc1"]; !ok {
		t.Fatalf("expected the list to be published at the account key")
	}
	if !sync.triggered {
		t.Fatalf("expected a device sync to be triggered")
	}

	decoded, err := DecodeList("acc1", archiveStore.archive.RevocationList)
	if err != nil {
		t.Fatalf("DecodeList: %v", err)
	}
	if !IsRevoked(decoded, "dev1") {
		t.Fatalf("expected the saved archive to carry the revocation")
	}
}

func TestRevokeDeviceUnresolvedCertFails(t *testing.T) {
	_, accountPriv, _ := ed25519.GenerateKey(nil)
	resolver := &fakeResolver{certs: map[string]models.Certificate{}}
	certStore := &fakeCertStore{}
	archiveStore := &fakeArchiveStore{}
	dht := &fakeDht{}

	err := RevokeDevice(context.Background(), dht, resolver, certStore, archiveStore, nil, nil, "acc1", accountPriv, "missing", 1)
	if err != ErrDeviceCertUnresolved {
		t.Fatalf("expected ErrDeviceCertUnresolved, got %v", err)
	}
}

func TestAppendDeviceDeduplicates(t *testing.T) {
	accountPub, accountPriv, _ := ed25519.GenerateKey(nil)
	cert := models.Certificate{PublicKeyID: "dev1"}
	list := models.RevocationList{AccountID: "acc1"}
	list = appendDevice(list, cert)
	list = appendDevice(list, cert)
	if len(list.Devices) != 1 {
		t.Fatalf("expected re-revoking the same device to be a no-op, got %d entries", len(list.Devices))
	}
	signed, err := Sign(accountPriv, list, 42)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !Verify(signed, accountPub) {
		t.Fatalf("expected signature to verify")
	}
}
