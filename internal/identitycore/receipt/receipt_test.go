package receipt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func TestBuildVerifyRoundTrip(t *testing.T) {
	accountPub, accountPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate account key: %v", err)
	}
	devicePub, devicePriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate device key: %v", err)
	}

	announcement, err := SignAnnouncement(devicePriv, "acc1", "dev1", devicePub, []byte("syncpub"))
	if err != nil {
		t.Fatalf("SignAnnouncement: %v", err)
	}

	signed, err := Build(accountPriv, "acc1", "dev1", "0xdeadbeef", announcement)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if err := Verify(signed, accountPub, "acc1", "dev1"); err != nil {
		t.Fatalf("expected valid receipt, got %v", err)
	}
}

func TestVerifyFlippedBitFails(t *testing.T) {
	accountPub, accountPriv, _ := ed25519.GenerateKey(rand.Reader)
	devicePub, devicePriv, _ := ed25519.GenerateKey(rand.Reader)
	announcement, _ := SignAnnouncement(devicePriv, "acc1", "dev1", devicePub, []byte("syncpub"))
	signed, err := Build(accountPriv, "acc1", "dev1", "0xdeadbeef", announcement)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	signed.Signature[0] ^= 0xFF
	if err := Verify(signed, accountPub, "acc1", "dev1"); err == nil {
		t.Fatalf("expected verification failure after flipping a signature bit")
	}
}

func TestVerifyMismatchedIDsFails(t *testing.T) {
	accountPub, accountPriv, _ := ed25519.GenerateKey(rand.Reader)
	devicePub, devicePriv, _ := ed25519.GenerateKey(rand.Reader)
	announcement, _ := SignAnnouncement(devicePriv, "acc1", "dev1", devicePub, []byte("syncpub"))
	signed, err := Build(accountPriv, "acc1", "dev1", "0xdeadbeef", announcement)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if err := Verify(signed, accountPub, "acc1", "dev-other"); err == nil {
		t.Fatalf("expected device id mismatch to fail verification")
	}
}

func TestVerifyTamperedAnnouncementFails(t *testing.T) {
	accountPub, accountPriv, _ := ed25519.GenerateKey(rand.Reader)
	devicePub, devicePriv, _ := ed25519.GenerateKey(rand.Reader)
	announcement, _ := SignAnnouncement(devicePriv, "acc1", "dev1", devicePub, []byte("syncpub"))
	announcement.DeviceID = "dev-hijacked"
	signed, err := Build(accountPriv, "acc1", "dev1", "0xdeadbeef", announcement)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if err := Verify(signed, accountPub, "acc1", "dev1"); err == nil {
		t.Fatalf("expected announcement/receipt binding mismatch to fail")
	}
}
