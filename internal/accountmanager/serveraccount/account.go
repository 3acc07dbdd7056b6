// Package serveraccount implements the ServerAccountManager variant of
// spec.md section 4.4: a trusted HTTP provisioning server owns the CA and
// account keys and signs each device's certificate on enrollment, rather
// than the device holding a locally generated CA (as archiveaccount
// does). Both variants expose the same initAuthentication surface and
// produce an AccountInfo usable by every other component.
//
// Grounded on internal/app/flows.go's CreateIdentity orchestration shape,
// reused here for the device-keygen-then-certify sequence, and
// internal/accountmanager/archiveaccount's AccountInfo field layout
// (CAPriv/AccountPriv are intentionally absent here: the server, not the
// device, holds those keys).
package serveraccount

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/meshid-core/core/internal/identitycore/certchain"
	"github.com/meshid-core/core/pkg/models"
)

var (
	ErrUsernameRequired = errors.New("username is required")
	ErrPasswordRequired = errors.New("password is required")
	ErrProvisionFailed  = errors.New("server provisioning failed")
	ErrChainInvalid     = errors.New("server returned an invalid certificate chain")
)

// AccountInfo is the ServerAccountManager's handle, matching
// archiveaccount.AccountInfo's shape minus the keys the device never
// holds (spec.md section 4.4.6).
type AccountInfo struct {
	AccountID  string
	DeviceID   string
	EthAddress string
	Chain      models.CertChain
	Identity   models.Identity
	DevicePriv ed25519.PrivateKey
}

// ProvisionResult is what a trusted provisioning server returns for a
// newly enrolled device.
type ProvisionResult struct {
	Chain      models.CertChain
	EthAddress string
}

// ProvisioningClient abstracts the trusted HTTP provisioning server so
// the flow can be tested without a live endpoint.
type ProvisioningClient interface {
	Provision(ctx context.Context, username, password, deviceName string, devicePub ed25519.PublicKey) (ProvisionResult, error)
}

// HTTPProvisioningClient is the production ProvisioningClient: a single
// JSON POST against the server's enrollment endpoint. No third-party
// HTTP client is wired here — the pack carries none, and a single JSON
// POST does not warrant adopting one (see DESIGN.md).
type HTTPProvisioningClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPProvisioningClient builds a client against baseURL (e.g.
// "https://provision.example.org").
func NewHTTPProvisioningClient(baseURL string) *HTTPProvisioningClient {
	return &HTTPProvisioningClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type provisionRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	DeviceName string `json:"device_name"`
	DevicePub  []byte `json:"device_public_key"`
}

type provisionResponse struct {
	Chain      models.CertChain `json:"chain"`
	EthAddress string           `json:"eth_address"`
}

func (c *HTTPProvisioningClient) Provision(ctx context.Context, username, password, deviceName string, devicePub ed25519.PublicKey) (ProvisionResult, error) {
	body, err := json.Marshal(provisionRequest{
		Username:   username,
		Password:   password,
		DeviceName: deviceName,
		DevicePub:  devicePub,
	})
	if err != nil {
		return ProvisionResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/provision", bytes.NewReader(body))
	if err != nil {
		return ProvisionResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return ProvisionResult{}, errors.Join(ErrProvisionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ProvisionResult{}, fmt.Errorf("%w: status %d", ErrProvisionFailed, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ProvisionResult{}, errors.Join(ErrProvisionFailed, err)
	}
	var out provisionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return ProvisionResult{}, errors.Join(ErrProvisionFailed, err)
	}
	return ProvisionResult{Chain: out.Chain, EthAddress: out.EthAddress}, nil
}

// Create implements spec.md section 4.4.1's server-variant create flow:
// the device generates its own keypair locally and submits the public
// half plus credentials to the provisioning server, which returns a
// signed chain; the device never sees the CA or account private keys.
func Create(ctx context.Context, client ProvisioningClient, username, password, deviceName string) (AccountInfo, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return AccountInfo{}, ErrUsernameRequired
	}
	if password == "" {
		return AccountInfo{}, ErrPasswordRequired
	}
	if deviceName == "" {
		deviceName = "device"
	}

	devicePub, devicePriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return AccountInfo{}, err
	}

	result, err := client.Provision(ctx, username, password, deviceName, devicePub)
	if err != nil {
		return AccountInfo{}, err
	}
	if result.Chain.Device.PublicKeyID == "" {
		return AccountInfo{}, ErrChainInvalid
	}

	identity, err := certchain.Load(devicePriv, result.Chain)
	if err != nil {
		return AccountInfo{}, errors.Join(ErrChainInvalid, err)
	}

	return AccountInfo{
		AccountID:  result.Chain.Account.PublicKeyID,
		DeviceID:   result.Chain.Device.PublicKeyID,
		EthAddress: result.EthAddress,
		Chain:      result.Chain,
		Identity:   identity,
		DevicePriv: devicePriv,
	}, nil
}
