package serveraccount

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/meshid-core/core/internal/identitycore/certchain"
	"github.com/meshid-core/core/pkg/models"
)

type fakeProvisioner struct {
	caPriv      ed25519.PrivateKey
	accountPriv ed25519.PrivateKey
	ca          models.Certificate
	account     models.Certificate
}

func newFakeProvisioner(t *testing.T) *fakeProvisioner {
	t.Helper()
	caPriv, ca, err := certchain.GenerateCA()
	if err != nil {
		t.Fatalf("GenerateCA: %v", err)
	}
	accountPub, accountPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	account, err := certchain.IssueAccount(caPriv, ca, accountPub)
	if err != nil {
		t.Fatalf("IssueAccount: %v", err)
	}
	return &fakeProvisioner{caPriv: caPriv, accountPriv: accountPriv, ca: ca, account: account}
}

func (p *fakeProvisioner) Provision(ctx context.Context, username, password, deviceName string, devicePub ed25519.PublicKey) (ProvisionResult, error) {
	if username != "alice" || password != "secret" {
		return ProvisionResult{}, ErrProvisionFailed
	}
	device, err := certchain.IssueDevice(p.accountPriv, p.account, devicePub)
	if err != nil {
		return ProvisionResult{}, err
	}
	return ProvisionResult{
		Chain:      models.CertChain{CA: p.ca, Account: p.account, Device: device},
		EthAddress: "0xdeadbeef",
	}, nil
}

func TestCreateBuildsVerifiableIdentityFromServerChain(t *testing.T) {
	provisioner := newFakeProvisioner(t)

	info, err := Create(context.Background(), provisioner, "alice", "secret", "laptop")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.AccountID == "" || info.DeviceID == "" {
		t.Fatalf("expected non-empty account/device ids")
	}
	if info.EthAddress != "0xdeadbeef" {
		t.Fatalf("expected the server-assigned eth address to round-trip")
	}
	if err := certchain.VerifyChain(info.Chain, time.Now()); err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
}

func TestCreateRejectsMissingCredentials(t *testing.T) {
	provisioner := newFakeProvisioner(t)
	if _, err := Create(context.Background(), provisioner, "", "secret", "laptop"); err != ErrUsernameRequired {
		t.Fatalf("expected ErrUsernameRequired, got %v", err)
	}
	if _, err := Create(context.Background(), provisioner, "alice", "", "laptop"); err != ErrPasswordRequired {
		t.Fatalf("expected ErrPasswordRequired, got %v", err)
	}
}

func TestCreatePropagatesProvisioningFailure(t *testing.T) {
	provisioner := newFakeProvisioner(t)
	if _, err := Create(context.Background(), provisioner, "alice", "wrong", "laptop"); err == nil {
		t.Fatalf("expected provisioning failure to propagate")
	}
}
