package certchain

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/meshid-core/core/pkg/models"
)

func freshChain(t *testing.T) (caPriv, accountPriv, devicePriv ed25519.PrivateKey, chain models.CertChain) {
	t.Helper()
	caPriv, caCert, err := GenerateCA()
	if err != nil {
		t.Fatalf("GenerateCA: %v", err)
	}
	accountPub, accountPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate account key: %v", err)
	}
	accountCert, err := IssueAccount(caPriv, caCert, accountPub)
	if err != nil {
		t.Fatalf("IssueAccount: %v", err)
	}
	devicePub, devicePriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate device key: %v", err)
	}
	deviceCert, err := IssueDevice(accountPriv, accountCert, devicePub)
	if err != nil {
		t.Fatalf("IssueDevice: %v", err)
	}
	return caPriv, accountPriv, devicePriv, models.CertChain{CA: caCert, Account: accountCert, Device: deviceCert}
}

func TestVerifyChainAccepted(t *testing.T) {
	_, _, _, chain := freshChain(t)
	if err := VerifyChain(chain, time.Now().UTC()); err != nil {
		t.Fatalf("expected valid chain, got %v", err)
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	_, _, _, chain := freshChain(t)
	tampered := chain
	tampered.Device.PublicKeyID = tampered.Device.PublicKeyID + "x"
	if err := VerifyChain(tampered, time.Now().UTC()); err == nil {
		t.Fatalf("expected tampering to be detected")
	}
}

func TestVerifyChainRejectsWrongIssuer(t *testing.T) {
	_, _, _, chain := freshChain(t)
	_, _, _, other := freshChain(t)
	mixed := chain
	mixed.Device = other.Device
	if err := VerifyChain(mixed, time.Now().UTC()); err == nil {
		t.Fatalf("expected chain with foreign device cert to fail verification")
	}
}

func TestRenewCertificatesIdempotentWhenFresh(t *testing.T) {
	caPriv, accountPriv, devicePriv, chain := freshChain(t)
	devicePub := devicePriv.Public().(ed25519.PublicKey)
	_, updated, err := RenewCertificates(chain, caPriv, accountPriv, devicePub, time.Now().UTC())
	if err != nil {
		t.Fatalf("RenewCertificates: %v", err)
	}
	if updated {
		t.Fatalf("expected no update for a fresh chain")
	}
}

func TestRenewCertificatesRegeneratesExpiredCA(t *testing.T) {
	caPriv, accountPriv, devicePriv, chain := freshChain(t)
	chain.CA.NotAfter = time.Now().UTC().Add(-time.Hour)
	devicePub := devicePriv.Public().(ed25519.PublicKey)

	renewed, updated, err := RenewCertificates(chain, caPriv, accountPriv, devicePub, time.Now().UTC())
	if err != nil {
		t.Fatalf("RenewCertificates: %v", err)
	}
	if !updated {
		t.Fatalf("expected update when CA has expired")
	}
	if err := VerifyChain(renewed, time.Now().UTC()); err != nil {
		t.Fatalf("renewed chain must verify: %v", err)
	}
}

func TestNeedsMigration(t *testing.T) {
	_, _, _, chain := freshChain(t)
	if NeedsMigration(chain, time.Now().UTC()) {
		t.Fatalf("fresh chain should not need migration")
	}
	stale := chain
	stale.Account.IsCA = false
	if !NeedsMigration(stale, time.Now().UTC()) {
		t.Fatalf("expected migration required when account cert is not a CA")
	}
}
