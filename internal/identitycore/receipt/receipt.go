// Package receipt implements the Receipt build/verify contract of
// spec.md section 3 and section 4.2.
package receipt

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/meshid-core/core/pkg/models"
)

// ReceiptInvalid is returned with a substep tag identifying which check
// failed (spec.md section 4.2 / 7).
type ReceiptInvalid struct {
	Substep string
}

func (e *ReceiptInvalid) Error() string {
	return fmt.Sprintf("receipt invalid: %s", e.Substep)
}

func invalid(substep string) error {
	return &ReceiptInvalid{Substep: substep}
}

// canonicalBytes renders the receipt's canonical JSON string binding
// {account_id, device_id, eth_address, base64(signed_device_announcement)}.
func canonicalBytes(r models.Receipt) ([]byte, error) {
	return json.Marshal(r)
}

// Build assembles and signs a receipt for a newly authorized device.
func Build(accountPriv ed25519.PrivateKey, accountID, deviceID, ethAddress string, announcement models.DeviceAnnouncement) (models.SignedReceipt, error) {
	announceBytes, err := json.Marshal(announcement)
	if err != nil {
		return models.SignedReceipt{}, err
	}
	r := models.Receipt{
		AccountID:  accountID,
		DeviceID:   deviceID,
		EthAddress: ethAddress,
		Announce:   base64.StdEncoding.EncodeToString(announceBytes),
	}
	canon, err := canonicalBytes(r)
	if err != nil {
		return models.SignedReceipt{}, err
	}
	return models.SignedReceipt{
		Receipt:   r,
		Signature: ed25519.Sign(accountPriv, canon),
	}, nil
}

// Verify runs the four-step check of spec.md section 4.2:
//  1. receipt fields are present
//  2. the receipt signature verifies under the account certificate's public key
//  3. dev == device cert id, id == account cert id
//  4. the embedded device announcement itself verifies and binds the same ids
func Verify(signed models.SignedReceipt, accountPub ed25519.PublicKey, accountCertID, deviceCertID string) error {
	r := signed.Receipt
	if r.AccountID == "" || r.DeviceID == "" || r.EthAddress == "" || r.Announce == "" {
		return invalid("missing_fields")
	}
	canon, err := canonicalBytes(r)
	if err != nil {
		return invalid("encode")
	}
	if !ed25519.Verify(accountPub, canon, signed.Signature) {
		return invalid("receipt_signature")
	}
	if r.DeviceID != deviceCertID {
		return invalid("device_id_mismatch")
	}
	if r.AccountID != accountCertID {
		return invalid("account_id_mismatch")
	}
	announceBytes, err := base64.StdEncoding.DecodeString(r.Announce)
	if err != nil {
		return invalid("announce_decode")
	}
	var announcement models.DeviceAnnouncement
	if err := json.Unmarshal(announceBytes, &announcement); err != nil {
		return invalid("announce_parse")
	}
	if !verifyAnnouncement(announcement) {
		return invalid("announce_signature")
	}
	if announcement.AccountID != r.AccountID || announcement.DeviceID != r.DeviceID {
		return invalid("announce_binding")
	}
	return nil
}

// VerifyAnnouncementSignature checks a device announcement's self-signature,
// independent of the receipt that may embed it; used when discovering a
// sibling device's announcement directly off the account's DHT key.
func VerifyAnnouncementSignature(a models.DeviceAnnouncement) bool {
	return verifyAnnouncement(a)
}

func verifyAnnouncement(a models.DeviceAnnouncement) bool {
	if len(a.PublicKey) != ed25519.PublicKeySize || len(a.Signature) != ed25519.SignatureSize {
		return false
	}
	signingCopy := a
	signingCopy.Signature = nil
	payload, err := json.Marshal(signingCopy)
	if err != nil {
		return false
	}
	return ed25519.Verify(a.PublicKey, payload, a.Signature)
}

// SignAnnouncement signs a device announcement with the device's own key.
// syncPub is the device's static X25519 device-sync public key
// (announce.DeriveSyncKeypair), carried alongside the signing key so
// other devices of the same account can address encrypted sync pushes
// without a separate exchange.
func SignAnnouncement(devicePriv ed25519.PrivateKey, accountID, deviceID string, devicePub ed25519.PublicKey, syncPub []byte) (models.DeviceAnnouncement, error) {
	a := models.DeviceAnnouncement{
		AccountID: accountID,
		DeviceID:  deviceID,
		PublicKey: append([]byte(nil), devicePub...),
		SyncPub:   append([]byte(nil), syncPub...),
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return models.DeviceAnnouncement{}, err
	}
	a.Signature = ed25519.Sign(devicePriv, payload)
	return a, nil
}

var ErrReceiptInvalid = errors.New("receipt invalid")
