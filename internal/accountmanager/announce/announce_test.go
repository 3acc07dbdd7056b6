package announce

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"

	"github.com/meshid-core/core/internal/contactlist"
	"github.com/meshid-core/core/pkg/models"
)

type fakeDht struct {
	mu        sync.Mutex
	values    map[string][][]byte
	listeners map[string][]func([]byte)
}

func newFakeDht() *fakeDht {
	return &fakeDht{values: map[string][][]byte{}, listeners: map[string][]func([]byte){}}
}

func (d *fakeDht) Get(ctx context.Context, key string) ([][]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.values[key], nil
}

func (d *fakeDht) Put(ctx context.Context, key string, value []byte) error {
	d.mu.Lock()
	d.values[key] = append(d.values[key], value)
	handlers := append([]func([]byte){}, d.listeners[key]...)
	d.mu.Unlock()
	for _, h := range handlers {
		h(value)
	}
	return nil
}

func (d *fakeDht) Listen(ctx context.Context, key string, onValue func([]byte)) (func(), error) {
	d.mu.Lock()
	d.listeners[key] = append(d.listeners[key], onValue)
	d.mu.Unlock()
	return func() {}, nil
}

type fakePersister struct{}

func (fakePersister) Persist(map[string]models.Contact, map[string]models.TrustRequest, map[string]models.KnownDevice) error {
	return nil
}

type noopNotifier struct{}

func (noopNotifier) Emit(models.Event) {}

func allowAllCerts(models.Certificate) bool { return true }

func TestDeriveSyncKeypairIsDeterministic(t *testing.T) {
	_, devicePriv, _ := ed25519.GenerateKey(nil)
	priv1, pub1, err := DeriveSyncKeypair(devicePriv)
	if err != nil {
		t.Fatalf("DeriveSyncKeypair: %v", err)
	}
	priv2, pub2, err := DeriveSyncKeypair(devicePriv)
	if err != nil {
		t.Fatalf("DeriveSyncKeypair: %v", err)
	}
	if string(priv1) != string(priv2) || string(pub1) != string(pub2) {
		t.Fatalf("expected deterministic derivation from the same device key")
	}
}

func TestEncryptDecryptSyncRoundTrip(t *testing.T) {
	_, aliceDevicePriv, _ := ed25519.GenerateKey(nil)
	_, bobDevicePriv, _ := ed25519.GenerateKey(nil)
	alicePriv, alicePub, _ := DeriveSyncKeypair(aliceDevicePriv)
	bobPriv, bobPub, _ := DeriveSyncKeypair(bobDevicePriv)

	sync := models.DeviceSync{Date: 123, Peers: map[string]models.Contact{"acc1": {AddedAt: 1}}}
	sealed, err := EncryptSync(alicePriv, bobPub, sync)
	if err != nil {
		t.Fatalf("EncryptSync: %v", err)
	}
	got, err := DecryptSync(bobPriv, alicePub, sealed)
	if err != nil {
		t.Fatalf("DecryptSync: %v", err)
	}
	if got.Date != 123 {
		t.Fatalf("expected sync snapshot to round-trip")
	}
}

func TestPushSyncAndListenInboxDeliversToPeer(t *testing.T) {
	dht := newFakeDht()
	_, aliceDevicePriv, _ := ed25519.GenerateKey(nil)
	_, bobDevicePriv, _ := ed25519.GenerateKey(nil)
	alicePriv, alicePub, _ := DeriveSyncKeypair(aliceDevicePriv)
	_, bobPub, _ := DeriveSyncKeypair(bobDevicePriv)
	bobPriv, _, _ := DeriveSyncKeypair(bobDevicePriv)

	bobContacts := contactlist.New(allowAllCerts, fakePersister{}, noopNotifier{})
	resolve := func(deviceID string) (models.Certificate, bool) {
		return models.Certificate{PublicKeyID: deviceID}, true
	}
	bobContacts.FoundAccountDevice(models.Certificate{PublicKeyID: "alice-device"}, "alice's phone", 0)

	cancel, err := ListenInbox(context.Background(), dht, "bob-device", bobPriv, map[string][]byte{"alice-device": alicePub}, bobContacts, resolve)
	if err != nil {
		t.Fatalf("ListenInbox: %v", err)
	}
	defer cancel()

	aliceContacts := contactlist.New(allowAllCerts, fakePersister{}, noopNotifier{})
	aliceContacts.Add("peer1", false)

	err = PushSyncToPeers(context.Background(), dht, aliceContacts, "alice-device", alicePriv, []PeerSyncKey{{DeviceID: "bob-device", SyncPub: bobPub}})
	if err != nil {
		t.Fatalf("PushSyncToPeers: %v", err)
	}

	if !bobContacts.HasActiveContact("peer1") {
		t.Fatalf("expected bob's contact list to absorb alice's pushed sync snapshot")
	}
}
