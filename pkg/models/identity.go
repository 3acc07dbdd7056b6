package models

import "time"

// CertLevel names a position in the CA -> account -> device chain.
type CertLevel string

const (
	CertLevelCA      CertLevel = "ca"
	CertLevelAccount CertLevel = "account"
	CertLevelDevice  CertLevel = "device"
)

// Certificate is a self-contained signed record: a bespoke lightweight
// chain entry, not an X.509 certificate. PublicKeyID is the fixed-width
// identifier derived from PublicKey and is what the spec calls the
// account/device id at the respective level.
type Certificate struct {
	Level        CertLevel `json:"level"`
	PublicKeyID  string    `json:"public_key_id"`
	PublicKey    []byte    `json:"public_key"`
	IssuerID     string    `json:"issuer_id,omitempty"`
	IsCA         bool      `json:"is_ca"`
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
	Signature    []byte    `json:"signature"`
}

// CertChain is the three-level chain described in spec.md section 3: a
// self-signed CA, an account certificate issued by the CA, and a device
// certificate issued by the account.
type CertChain struct {
	CA      Certificate `json:"ca"`
	Account Certificate `json:"account"`
	Device  Certificate `json:"device"`
}

// Identity is a private key paired with the certificate chain that
// attests to it.
type Identity struct {
	PrivateKey []byte    `json:"-"`
	CAKey      []byte    `json:"-"`
	Chain      CertChain `json:"chain"`
}

// Receipt is the canonical JSON-signed attestation of section 3: it binds
// an account id, device id, eth address and a signed device announcement
// under the account's signature.
type Receipt struct {
	AccountID string `json:"account_id"`
	DeviceID  string `json:"device_id"`
	EthAddress string `json:"eth_address"`
	Announce  string `json:"announce"` // base64(signed device announcement)
}

// SignedReceipt carries the receipt plus the account signature over its
// canonical encoding.
type SignedReceipt struct {
	Receipt   Receipt `json:"receipt"`
	Signature []byte  `json:"signature"`
}

// DeviceAnnouncement is the value published at the account's DHT key
// (section 6.3): it asserts that DeviceID belongs to AccountID and is
// itself signed by the device key.
type DeviceAnnouncement struct {
	AccountID string `json:"from"`
	DeviceID  string `json:"device"`
	PublicKey []byte `json:"public_key"`
	SyncPub   []byte `json:"sync_pub,omitempty"`
	Signature []byte `json:"signature"`
}

// RevocationList is the signed list of device certificates the account
// has revoked (section 4.4.5 / 6.3).
type RevocationList struct {
	AccountID string        `json:"account_id"`
	Devices   []Certificate `json:"devices"`
	UpdatedAt time.Time     `json:"updated_at"`
	Signature []byte        `json:"signature"`
}
