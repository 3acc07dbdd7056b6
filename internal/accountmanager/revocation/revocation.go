// Package revocation implements spec.md section 4.4.5's device
// revocation flow: append the device's certificate to the account's
// signed revocation list, pin and publish the updated list, drop the
// device from the roster, and trigger a sync.
//
// Grounded on internal/identity/device.go's RevokeDevice/
// ApplyDeviceRevocation/buildRevocationLocked (mutate-then-sign shape,
// adapted to the bespoke certchain.Certificate rather than models.Device)
// and internal/domains/group/usecase/membership_service.go's
// mutate-persist-notify sequencing.
package revocation

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"time"

	"github.com/meshid-core/core/internal/contactlist"
	"github.com/meshid-core/core/internal/ports"
	"github.com/meshid-core/core/pkg/models"
)

var (
	ErrDeviceCertUnresolved = errors.New("device certificate could not be resolved")
	ErrListSignatureInvalid = errors.New("revocation list signature invalid")
)

// DeviceResolver finds a device's certificate, consulting the local
// store first and falling back to the DHT (spec.md section 4.4.5 step 1).
type DeviceResolver interface {
	ResolveDeviceCert(ctx context.Context, deviceID string) (models.Certificate, bool)
}

// CertStore pins the account's current revocation list locally.
type CertStore interface {
	PinRevocationList(accountID string, list models.RevocationList) error
}

// ArchiveStore loads and persists the caller's account archive.
type ArchiveStore interface {
	Load() (models.AccountArchive, error)
	Save(models.AccountArchive) error
}

// SyncTrigger is notified once a device has been revoked so the caller
// can push the change to the account's other devices (spec.md section
// 4.4.6).
type SyncTrigger interface {
	TriggerDeviceSync()
}

// DecodeList parses the archive's opaque RevocationList bytes. A nil or
// empty input decodes to an empty list bound to accountID.
func DecodeList(accountID string, data []byte) (models.RevocationList, error) {
	if len(data) == 0 {
		return models.RevocationList{AccountID: accountID}, nil
	}
	var list models.RevocationList
	if err := json.Unmarshal(data, &list); err != nil {
		return models.RevocationList{}, err
	}
	return list, nil
}

// EncodeList serializes a revocation list back to the archive's opaque
// byte field.
func EncodeList(list models.RevocationList) ([]byte, error) {
	return json.Marshal(list)
}

// signingBytes renders the list with its signature zeroed, the same
// zero-then-sign shape used by identitycore/receipt.SignAnnouncement.
func signingBytes(list models.RevocationList) ([]byte, error) {
	list.Signature = nil
	return json.Marshal(list)
}

// Sign re-signs list under the account key, after stamping updatedAt.
func Sign(accountPriv ed25519.PrivateKey, list models.RevocationList, updatedAtUnix int64) (models.RevocationList, error) {
	list.UpdatedAt = time.Unix(updatedAtUnix, 0).UTC()
	payload, err := signingBytes(list)
	if err != nil {
		return models.RevocationList{}, err
	}
	list.Signature = ed25519.Sign(accountPriv, payload)
	return list, nil
}

// Verify checks a revocation list's signature against the account's
// public key.
func Verify(list models.RevocationList, accountPub ed25519.PublicKey) bool {
	payload, err := signingBytes(list)
	if err != nil {
		return false
	}
	return ed25519.Verify(accountPub, payload, list.Signature)
}

// IsRevoked reports whether certID appears in list.
func IsRevoked(list models.RevocationList, certID string) bool {
	for _, c := range list.Devices {
		if c.PublicKeyID == certID {
			return true
		}
	}
	return false
}

// appendDevice returns a copy of list with cert appended, deduplicating
// on PublicKeyID so re-revoking an already-revoked device is a no-op.
func appendDevice(list models.RevocationList, cert models.Certificate) models.RevocationList {
	if IsRevoked(list, cert.PublicKeyID) {
		return list
	}
	out := list
	out.Devices = append(append([]models.Certificate(nil), list.Devices...), cert)
	return out
}

// RevokeDevice runs spec.md section 4.4.5's four steps against the given
// collaborators.
func RevokeDevice(
	ctx context.Context,
	dht ports.DhtService,
	resolver DeviceResolver,
	certStore CertStore,
	archiveStore ArchiveStore,
	contacts *contactlist.ContactList,
	sync SyncTrigger,
	accountID string,
	accountPriv ed25519.PrivateKey,
	deviceID string,
	nowUnix int64,
) error {
	cert, ok := resolver.ResolveDeviceCert(ctx, deviceID)
	if !ok {
		return ErrDeviceCertUnresolved
	}

	a, err := archiveStore.Load()
	if err != nil {
		return err
	}

	list, err := DecodeList(accountID, a.RevocationList)
	if err != nil {
		return err
	}
	list = appendDevice(list, cert)
	list, err = Sign(accountPriv, list, nowUnix)
	if err != nil {
		return err
	}

	if err := certStore.PinRevocationList(accountID, list); err != nil {
		return err
	}
	published, err := EncodeList(list)
	if err != nil {
		return err
	}
	if err := dht.Put(ctx, accountID, published); err != nil {
		return err
	}

	if contacts != nil {
		contacts.RemoveAccountDevice(deviceID)
	}

	a.RevocationList = published
	if err := archiveStore.Save(a); err != nil {
		return err
	}

	if sync != nil {
		sync.TriggerDeviceSync()
	}
	return nil
}
