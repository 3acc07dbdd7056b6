// Package announce implements spec.md section 4.4.6: publishing the
// account's device announcement, listening on the device's inbox for
// trust requests and peer device-sync snapshots, and pushing the local
// ContactList's sync snapshot out to every other known device.
//
// The device-sync transport encryption is a simplified, non-ratcheted
// variant of internal/crypto/session.go's X25519-ECDH-then-XChaCha20Poly1305
// shape: a static per-device X25519 key (derived from the device's
// ed25519 seed via HKDF, the same signing/encryption key-separation
// technique as internal/identity/derive.go) replaces the session's
// ratcheting chain, since an inbox put is a single opportunistic
// snapshot rather than an ordered message stream.
package announce

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/meshid-core/core/internal/contactlist"
	"github.com/meshid-core/core/internal/ports"
	"github.com/meshid-core/core/pkg/models"
)

const hkdfInfoDeviceSyncX25519 = "meshid/devicesync/x25519/v1"

var (
	ErrInvalidX25519Seed = errors.New("invalid x25519 seed")
	ErrDecryptFailed     = errors.New("device sync payload failed to decrypt")
)

// DeriveSyncKeypair derives a static X25519 keypair from a device's
// ed25519 private key, used only to encrypt device-sync inbox puts
// between an account's own devices.
func DeriveSyncKeypair(devicePriv ed25519.PrivateKey) (priv, pub []byte, err error) {
	if len(devicePriv) != ed25519.PrivateKeySize {
		return nil, nil, ErrInvalidX25519Seed
	}
	seed := devicePriv.Seed()
	reader := hkdf.New(sha256.New, seed, nil, []byte(hkdfInfoDeviceSyncX25519))
	scalar := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(reader, scalar); err != nil {
		return nil, nil, err
	}
	pub, err = curve25519.X25519(scalar, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	return scalar, pub, nil
}

func sharedAEAD(localPriv, peerPub []byte) (chacha20poly1305.AEAD, error) {
	shared, err := curve25519.X25519(localPriv, peerPub)
	if err != nil {
		return nil, err
	}
	reader := hkdf.New(sha256.New, shared, nil, []byte("meshid/devicesync/aead/v1"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return chacha20poly1305.NewX(key)
}

// EncryptSync seals a DeviceSync snapshot for a single peer device.
func EncryptSync(localPriv, peerPub []byte, sync models.DeviceSync) ([]byte, error) {
	aead, err := sharedAEAD(localPriv, peerPub)
	if err != nil {
		return nil, err
	}
	plaintext, err := json.Marshal(sync)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, ciphertext...), nil
}

// DecryptSync opens a DeviceSync snapshot sent by a peer device.
func DecryptSync(localPriv, peerPub, sealed []byte) (models.DeviceSync, error) {
	aead, err := sharedAEAD(localPriv, peerPub)
	if err != nil {
		return models.DeviceSync{}, err
	}
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return models.DeviceSync{}, ErrDecryptFailed
	}
	nonce, ciphertext := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return models.DeviceSync{}, errors.Join(ErrDecryptFailed, err)
	}
	var sync models.DeviceSync
	if err := json.Unmarshal(plaintext, &sync); err != nil {
		return models.DeviceSync{}, err
	}
	return sync, nil
}

func inboxKey(deviceID string) string { return "inbox:" + deviceID }

// PublishAnnouncement puts the signed device announcement at the
// account's DHT key.
func PublishAnnouncement(ctx context.Context, dht ports.DhtService, accountID string, announcement models.DeviceAnnouncement) error {
	data, err := json.Marshal(announcement)
	if err != nil {
		return err
	}
	return dht.Put(ctx, accountID, data)
}

// SendTrustRequest puts a trust request on a peer account device's
// inbox; peerDeviceID is any currently known device of the target
// account (every device listens on its own inbox independently).
func SendTrustRequest(ctx context.Context, dht ports.DhtService, peerDeviceID, fromAccountID, fromDeviceID string, receivedAt int64, confirm bool, payload []byte) error {
	envelope := trustRequestEnvelope{
		From:       fromAccountID,
		FromDevice: fromDeviceID,
		ReceivedAt: receivedAt,
		Confirm:    confirm,
		Payload:    payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return dht.Put(ctx, inboxKey(peerDeviceID), data)
}

// PeerSyncKey is a peer device's inbox id and encryption public key.
type PeerSyncKey struct {
	DeviceID string
	SyncPub  []byte
}

// PushSyncToPeers encrypts the current sync snapshot for every peer
// device (other than self) and puts it on that device's inbox.
func PushSyncToPeers(ctx context.Context, dht ports.DhtService, contacts *contactlist.ContactList, selfDeviceID string, localSyncPriv []byte, peers []PeerSyncKey) error {
	sync := contacts.GetSyncData()
	for _, peer := range peers {
		if peer.DeviceID == selfDeviceID {
			continue
		}
		sealed, err := EncryptSync(localSyncPriv, peer.SyncPub, sync)
		if err != nil {
			return err
		}
		framed, err := json.Marshal(syncEnvelope{From: selfDeviceID, Sealed: sealed})
		if err != nil {
			return err
		}
		if err := dht.Put(ctx, inboxKey(peer.DeviceID)+"/sync", framed); err != nil {
			return err
		}
	}
	return nil
}

// CertResolver reports whether a peer account device's certificate is
// acceptable. Nothing in this package calls it: ListenInbox forwards
// trust requests to the contact list without a certificate check.
type CertResolver func(deviceID string, cert models.Certificate) bool

// ListenInbox opens two listeners on this device's inbox. inbox:<device_id>
// carries trust requests as a plain JSON trustRequestEnvelope, forwarded
// to contacts.OnTrustRequest with no signature check. inbox:<device_id>/sync
// carries a syncEnvelope from another device of the account; its sealed
// DeviceSync is decrypted with localSyncPriv and the sender's key from
// peerSyncPub and forwarded to contacts.OnSyncData. Sync puts from senders
// missing from peerSyncPub, and payloads that fail to decode or decrypt,
// are dropped.
func ListenInbox(ctx context.Context, dht ports.DhtService, selfDeviceID string, localSyncPriv []byte, peerSyncPub map[string][]byte, contacts *contactlist.ContactList, resolve contactlist.ResolveCertificate) (cancel func(), err error) {
	cancelTrust, err := dht.Listen(ctx, inboxKey(selfDeviceID), func(raw []byte) {
		var envelope trustRequestEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return
		}
		contacts.OnTrustRequest(envelope.From, envelope.FromDevice, envelope.ReceivedAt, envelope.Confirm, envelope.Payload)
	})
	if err != nil {
		return nil, err
	}

	cancelSync, err := dht.Listen(ctx, inboxKey(selfDeviceID)+"/sync", func(raw []byte) {
		var framed syncEnvelope
		if err := json.Unmarshal(raw, &framed); err != nil {
			return
		}
		peerPub, ok := peerSyncPub[framed.From]
		if !ok {
			return
		}
		sync, err := DecryptSync(localSyncPriv, peerPub, framed.Sealed)
		if err != nil {
			return
		}
		contacts.OnSyncData(sync, framed.From, resolve)
	})
	if err != nil {
		cancelTrust()
		return nil, err
	}

	return func() {
		cancelTrust()
		cancelSync()
	}, nil
}

// trustRequestEnvelope is the wire shape of an inbox trust-request put:
// the sender's account id, originating device id, and the raw request
// fields (spec.md section 4.3's onTrustRequest contract).
type trustRequestEnvelope struct {
	From       string `json:"from"`
	FromDevice string `json:"from_device"`
	ReceivedAt int64  `json:"received_ts"`
	Confirm    bool   `json:"confirm_bool"`
	Payload    []byte `json:"payload_bytes"`
}

type syncEnvelope struct {
	From   string `json:"from"`
	Sealed []byte `json:"sealed"`
}
