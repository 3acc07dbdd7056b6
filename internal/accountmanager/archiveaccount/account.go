// Package archiveaccount implements the file-backed AccountManager flows of
// spec.md section 4.4.1/4.4.2: create a brand new account and import one
// from an existing archive file.
//
// Grounded on internal/app/flows.go's CreateIdentity/ImportIdentity
// orchestration style and internal/identity/seed_lifecycle.go's
// SeedManager (bip39 mnemonic generation, password-gated unlock), adapted
// from a single ed25519 identity to the CA/account/device chain.
package archiveaccount

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"

	"github.com/meshid-core/core/internal/identitycore/archive"
	"github.com/meshid-core/core/internal/identitycore/certchain"
	"github.com/meshid-core/core/pkg/models"
)

const (
	hkdfInfoCA      = "meshid/identity/ca/v1"
	hkdfInfoAccount = "meshid/identity/account/v1"
	hkdfInfoEth     = "meshid/identity/eth/v1"
)

// hkdfExpand derives a fixed-length subkey seed from the mnemonic seed,
// the same HKDF-SHA256 shape internal/identity/derive.go uses for its
// signing/encryption key separation.
func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

var (
	ErrPasswordRequired = errors.New("password is required")
	ErrMnemonicRequired = errors.New("mnemonic is required")
	ErrInvalidMnemonic  = errors.New("invalid mnemonic")
)

// AccountInfo is the manager-level handle produced once an identity is
// loaded or created (spec.md section 4.4.1, referenced by 4.4.6): the
// account id, the active device id, and the full certificate chain
// needed by every other component.
type AccountInfo struct {
	AccountID  string
	DeviceID   string
	EthAddress string
	Chain      models.CertChain
	Identity   models.Identity
	DevicePriv ed25519.PrivateKey
	AccountPriv ed25519.PrivateKey
	CAPriv     ed25519.PrivateKey
}

// Create implements spec.md section 4.4.1: generate a CA identity, an
// account identity issued by that CA, a device certificate, and a
// secp256k1 key for the eth address; assemble the archive. Create does
// not write the archive anywhere: it returns it, and Persist writes it.
// Returns the recovery mnemonic (never persisted in plaintext) alongside
// the resulting AccountInfo.
func Create(password string) (AccountInfo, string, models.AccountArchive, error) {
	password = strings.TrimSpace(password)
	if password == "" {
		return AccountInfo{}, "", models.AccountArchive{}, ErrPasswordRequired
	}

	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return AccountInfo{}, "", models.AccountArchive{}, err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return AccountInfo{}, "", models.AccountArchive{}, err
	}

	info, archiveOut, err := buildFromSeed(bip39.NewSeed(mnemonic, ""))
	if err != nil {
		return AccountInfo{}, "", models.AccountArchive{}, err
	}
	return info, mnemonic, archiveOut, nil
}

// ImportFromMnemonic rebuilds the same identity a Create call with the
// same mnemonic would have produced, for recovery flows.
func ImportFromMnemonic(mnemonic string) (AccountInfo, models.AccountArchive, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return AccountInfo{}, models.AccountArchive{}, ErrMnemonicRequired
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return AccountInfo{}, models.AccountArchive{}, ErrInvalidMnemonic
	}
	return buildFromSeed(bip39.NewSeed(mnemonic, ""))
}

// buildFromSeed derives the CA and account identities deterministically
// from the mnemonic seed (so a recovery phrase always recreates the same
// account), but generates a fresh, non-deterministic device key: each
// device keeps its own key and is issued its own certificate by the
// recovered account (spec.md section 4.4.1/4.4.2).
func buildFromSeed(seed []byte) (AccountInfo, models.AccountArchive, error) {
	caSeed, err := hkdfExpand(seed, hkdfInfoCA, ed25519.SeedSize)
	if err != nil {
		return AccountInfo{}, models.AccountArchive{}, err
	}
	caPriv := ed25519.NewKeyFromSeed(caSeed)
	caCert, err := certchain.SelfSignCA(caPriv)
	if err != nil {
		return AccountInfo{}, models.AccountArchive{}, err
	}

	accountSeed, err := hkdfExpand(seed, hkdfInfoAccount, ed25519.SeedSize)
	if err != nil {
		return AccountInfo{}, models.AccountArchive{}, err
	}
	accountPriv := ed25519.NewKeyFromSeed(accountSeed)
	accountPub := accountPriv.Public().(ed25519.PublicKey)
	accountCert, err := certchain.IssueAccount(caPriv, caCert, accountPub)
	if err != nil {
		return AccountInfo{}, models.AccountArchive{}, err
	}

	devicePub, devicePriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return AccountInfo{}, models.AccountArchive{}, err
	}
	deviceCert, err := certchain.IssueDevice(accountPriv, accountCert, devicePub)
	if err != nil {
		return AccountInfo{}, models.AccountArchive{}, err
	}

	ethSeed, err := hkdfExpand(seed, hkdfInfoEth, 32)
	if err != nil {
		return AccountInfo{}, models.AccountArchive{}, err
	}
	ethPriv, err := crypto.ToECDSA(ethSeed)
	if err != nil {
		return AccountInfo{}, models.AccountArchive{}, err
	}
	ethAddress := crypto.PubkeyToAddress(ethPriv.PublicKey).Hex()

	chain := models.CertChain{CA: caCert, Account: accountCert, Device: deviceCert}
	identity := models.Identity{
		PrivateKey: append([]byte(nil), devicePriv...),
		CAKey:      append([]byte(nil), caPriv...),
		Chain:      chain,
	}

	archiveOut := models.AccountArchive{
		Identity:             identity,
		CAKey:                append([]byte(nil), caPriv...),
		EthKey:                crypto.FromECDSA(ethPriv),
		Contacts:             map[string]models.Contact{},
		Conversations:        map[string]models.ConvInfo{},
		ConversationRequests: map[string]models.ConversationRequest{},
		ConfigKV:             map[string]string{},
	}

	info := AccountInfo{
		AccountID:   accountCert.PublicKeyID,
		DeviceID:    deviceCert.PublicKeyID,
		EthAddress:  ethAddress,
		Chain:       chain,
		Identity:    identity,
		DevicePriv:  devicePriv,
		AccountPriv: accountPriv,
		CAPriv:      caPriv,
	}
	return info, archiveOut, nil
}


// Persist encodes and writes the archive under the configured scheme
// (spec.md section 4.1/6.2).
func Persist(path string, scheme models.ArchiveEncryptionScheme, secret []byte, a models.AccountArchive) error {
	encoded, err := archive.Encode(scheme, secret, a)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, encoded)
}

// OpenFromFile implements spec.md section 4.4.2: open the archive with
// the provided password (if any), run certificate renewal when
// needsMigration reports true, and issue a fresh device certificate for a
// newly generated device key, signed with the archive's Identity.PrivateKey
// as the account key.
func OpenFromFile(path string, scheme models.ArchiveEncryptionScheme, secret []byte) (AccountInfo, models.AccountArchive, error) {
	raw, err := readFile(path)
	if err != nil {
		return AccountInfo{}, models.AccountArchive{}, err
	}
	a, err := archive.Decode(raw, secret)
	if err != nil {
		return AccountInfo{}, models.AccountArchive{}, err
	}

	chain := a.Identity.Chain
	caPriv := ed25519.PrivateKey(a.CAKey)
	accountPriv := ed25519.PrivateKey(a.Identity.PrivateKey)

	devicePub, devicePriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return AccountInfo{}, models.AccountArchive{}, err
	}

	if certchain.NeedsMigration(chain, time.Now().UTC()) {
		renewed, _, err := certchain.RenewCertificates(chain, caPriv, accountPriv, devicePub, time.Now().UTC())
		if err != nil {
			return AccountInfo{}, models.AccountArchive{}, err
		}
		chain = renewed
	} else {
		deviceCert, err := certchain.IssueDevice(accountPriv, chain.Account, devicePub)
		if err != nil {
			return AccountInfo{}, models.AccountArchive{}, err
		}
		chain.Device = deviceCert
	}

	a.Identity.Chain = chain

	info := AccountInfo{
		AccountID:   chain.Account.PublicKeyID,
		DeviceID:    chain.Device.PublicKeyID,
		Chain:       chain,
		Identity:    a.Identity,
		DevicePriv:  devicePriv,
		AccountPriv: accountPriv,
		CAPriv:      caPriv,
	}
	return info, a, nil
}
