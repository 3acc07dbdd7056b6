package contactlist

import (
	"testing"
	"time"

	"github.com/meshid-core/core/pkg/models"
)

type fakePersister struct {
	calls int
}

func (f *fakePersister) Persist(map[string]models.Contact, map[string]models.TrustRequest, map[string]models.KnownDevice) error {
	f.calls++
	return nil
}

type recordingNotifier struct {
	events []models.Event
}

func (n *recordingNotifier) Emit(e models.Event) {
	n.events = append(n.events, e)
}

func newTestList() (*ContactList, *fakePersister, *recordingNotifier) {
	p := &fakePersister{}
	n := &recordingNotifier{}
	allowAll := func(models.Certificate) bool { return true }
	return New(allowAll, p, n), p, n
}

func TestAddEmitsContactAddedOnce(t *testing.T) {
	l, _, n := newTestList()
	if err := l.Add("acc1", false); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !l.HasActiveContact("acc1") {
		t.Fatalf("expected acc1 to be active")
	}
	found := false
	for _, e := range n.events {
		if e.Kind == models.EventContactAdded {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected contactAdded event")
	}
}

func TestRemoveWithBanDropsPendingTrustRequest(t *testing.T) {
	l, _, _ := newTestList()
	if err := l.OnTrustRequest("acc1", "dev1", 100, false, nil); err != nil {
		t.Fatalf("OnTrustRequest: %v", err)
	}
	if err := l.Remove("acc1", true); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if l.DiscardTrustRequest("acc1") {
		t.Fatalf("expected trust request to already be gone after ban")
	}
	if !l.HasBannedContact("acc1") {
		t.Fatalf("expected acc1 to be banned")
	}
}

func TestOnTrustRequestIgnoredForBannedContact(t *testing.T) {
	l, _, n := newTestList()
	if err := l.Add("acc1", false); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := l.Remove("acc1", true); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	before := len(n.events)
	if err := l.OnTrustRequest("acc1", "dev1", time.Now().Unix(), false, nil); err != nil {
		t.Fatalf("OnTrustRequest: %v", err)
	}
	if len(n.events) != before {
		t.Fatalf("expected no new events for a banned sender")
	}
}

func TestAcceptTrustRequestAddsConfirmedContact(t *testing.T) {
	l, _, _ := newTestList()
	if err := l.OnTrustRequest("acc1", "dev1", 100, false, nil); err != nil {
		t.Fatalf("OnTrustRequest: %v", err)
	}
	ok, err := l.AcceptTrustRequest("acc1")
	if err != nil {
		t.Fatalf("AcceptTrustRequest: %v", err)
	}
	if !ok {
		t.Fatalf("expected a pending request to accept")
	}
	if !l.HasActiveContact("acc1") {
		t.Fatalf("expected acc1 to become an active contact")
	}
}

func TestAcceptTrustRequestNoPendingReturnsFalse(t *testing.T) {
	l, _, _ := newTestList()
	ok, err := l.AcceptTrustRequest("ghost")
	if err != nil {
		t.Fatalf("AcceptTrustRequest: %v", err)
	}
	if ok {
		t.Fatalf("expected no pending request to accept")
	}
}

func TestFoundAccountDeviceRejectsFailedVerification(t *testing.T) {
	p := &fakePersister{}
	n := &recordingNotifier{}
	denyAll := func(models.Certificate) bool { return false }
	l := New(denyAll, p, n)
	ok := l.FoundAccountDevice(models.Certificate{PublicKeyID: "dev1"}, "phone", 1)
	if ok {
		t.Fatalf("expected verification failure to reject the device")
	}
	if _, known := l.KnownDeviceLastSync("dev1"); known {
		t.Fatalf("rejected device must not be recorded")
	}
}

func TestGetSyncDataWindowsTrustRequestsToN(t *testing.T) {
	l, _, _ := newTestList()
	for i := 0; i < 35; i++ {
		from := "acc" + string(rune('a'+i))
		if err := l.OnTrustRequest(from, "devX", int64(i+1), false, nil); err != nil {
			t.Fatalf("OnTrustRequest(%d): %v", i, err)
		}
	}
	sync := l.GetSyncData()
	if len(sync.TrustRequests) != trustRequestWindow {
		t.Fatalf("expected window of %d trust requests, got %d", trustRequestWindow, len(sync.TrustRequests))
	}
}

// TestOnSyncDataMonotonicity covers invariant 2: a device's sync state
// only advances, never regresses, under duplicate or stale data.
func TestOnSyncDataMonotonicity(t *testing.T) {
	l, _, _ := newTestList()
	devCert := models.Certificate{PublicKeyID: "devB"}
	if ok := l.FoundAccountDevice(devCert, "laptop", 0); !ok {
		t.Fatalf("expected FoundAccountDevice to succeed")
	}

	first := models.DeviceSync{
		Date:  10,
		Peers: map[string]models.Contact{"acc1": {AddedAt: 5, Confirmed: true}},
	}
	if err := l.OnSyncData(first, "devB", nil); err != nil {
		t.Fatalf("OnSyncData: %v", err)
	}
	last, _ := l.KnownDeviceLastSync("devB")
	if last != 10 {
		t.Fatalf("expected last_sync=10, got %d", last)
	}

	stale := models.DeviceSync{
		Date:  3,
		Peers: map[string]models.Contact{"acc1": {RemovedAt: 100, Banned: true}},
	}
	if err := l.OnSyncData(stale, "devB", nil); err != nil {
		t.Fatalf("OnSyncData: %v", err)
	}
	if !l.HasActiveContact("acc1") {
		t.Fatalf("stale sync must not be able to regress contact state")
	}
	last, _ = l.KnownDeviceLastSync("devB")
	if last != 10 {
		t.Fatalf("last_sync must not regress, got %d", last)
	}
}

func TestOnSyncDataDropsUnknownDevice(t *testing.T) {
	l, _, _ := newTestList()
	sync := models.DeviceSync{Date: 10, Peers: map[string]models.Contact{"acc1": {AddedAt: 1}}}
	if err := l.OnSyncData(sync, "unknown-device", nil); err != nil {
		t.Fatalf("OnSyncData: %v", err)
	}
	if l.HasActiveContact("acc1") {
		t.Fatalf("sync from an unknown device must be dropped")
	}
}
