package certchain

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"time"

	"github.com/meshid-core/core/pkg/models"
)

var (
	ErrIdentityFileMissing = errors.New("identity file missing")
	ErrIdentityMismatch    = errors.New("identity certificate/key mismatch")
	ErrIdentityNoIssuer    = errors.New("identity certificate has no issuer")
	ErrChainInvalid        = errors.New("certificate chain is invalid")
	ErrChainExpired        = errors.New("certificate chain has expired")
)

// DefaultValiditySeconds matches long-lived account/CA-style validity; the
// device leaf typically renews more often but shares the same default
// unless setValidity overrides it (spec.md section 4.2).
const DefaultValiditySeconds = int64(10 * 365 * 24 * 60 * 60)

func signingBytes(c models.Certificate) []byte {
	b := make([]byte, 0, 128)
	b = append(b, []byte(c.Level)...)
	b = append(b, 0)
	b = append(b, []byte(c.PublicKeyID)...)
	b = append(b, 0)
	b = append(b, c.PublicKey...)
	b = append(b, 0)
	b = append(b, []byte(c.IssuerID)...)
	b = append(b, 0)
	if c.IsCA {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	nb, _ := c.NotBefore.UTC().MarshalBinary()
	na, _ := c.NotAfter.UTC().MarshalBinary()
	b = append(b, nb...)
	b = append(b, na...)
	return b
}

// issue builds and signs a certificate for subjectPub, issued by
// issuerPriv/issuerCert (issuerCert may be the zero value for a
// self-signed CA).
func issue(issuerPriv ed25519.PrivateKey, issuerCert *models.Certificate, subjectPub ed25519.PublicKey, level models.CertLevel, isCA bool, validitySeconds int64) (models.Certificate, error) {
	id, err := BuildPublicKeyID(subjectPub)
	if err != nil {
		return models.Certificate{}, err
	}
	if validitySeconds <= 0 {
		validitySeconds = DefaultValiditySeconds
	}
	now := time.Now().UTC()
	cert := models.Certificate{
		Level:       level,
		PublicKeyID: id,
		PublicKey:   append([]byte(nil), subjectPub...),
		IsCA:        isCA,
		NotBefore:   now,
		NotAfter:    now.Add(time.Duration(validitySeconds) * time.Second),
	}
	if issuerCert != nil {
		cert.IssuerID = issuerCert.PublicKeyID
	}
	cert.Signature = ed25519.Sign(issuerPriv, signingBytes(cert))
	return cert, nil
}

// GenerateCA creates a new self-signed CA identity with a freshly
// generated key.
func GenerateCA() (ed25519.PrivateKey, models.Certificate, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, models.Certificate{}, err
	}
	cert, err := SelfSignCA(priv)
	if err != nil {
		return nil, models.Certificate{}, err
	}
	return priv, cert, nil
}

// SelfSignCA self-signs a CA certificate for an already-derived key,
// used by recovery flows that need a deterministic identity from a
// mnemonic seed rather than a fresh random key.
func SelfSignCA(priv ed25519.PrivateKey) (models.Certificate, error) {
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return models.Certificate{}, ErrIdentityMismatch
	}
	cert, err := issue(priv, nil, pub, models.CertLevelCA, true, DefaultValiditySeconds)
	if err != nil {
		return models.Certificate{}, err
	}
	cert.IssuerID = cert.PublicKeyID
	cert.Signature = ed25519.Sign(priv, signingBytes(cert))
	return cert, nil
}

// IssueAccount issues the second-level account certificate from a CA.
func IssueAccount(caPriv ed25519.PrivateKey, ca models.Certificate, accountPub ed25519.PublicKey) (models.Certificate, error) {
	if !ca.IsCA {
		return models.Certificate{}, ErrChainInvalid
	}
	return issue(caPriv, &ca, accountPub, models.CertLevelAccount, true, DefaultValiditySeconds)
}

// IssueDevice issues the leaf device certificate from an account.
func IssueDevice(accountPriv ed25519.PrivateKey, account models.Certificate, devicePub ed25519.PublicKey) (models.Certificate, error) {
	return issue(accountPriv, &account, devicePub, models.CertLevelDevice, false, DefaultValiditySeconds)
}

// VerifyCertificate checks a certificate's signature against its
// purported issuer's public key.
func VerifyCertificate(cert models.Certificate, issuerPub ed25519.PublicKey) bool {
	return ed25519.Verify(issuerPub, signingBytes(cert), cert.Signature)
}

// VerifyChain enforces the invariant of spec.md section 3: every non-leaf
// must have isCA=true and not be expired; the device cert's issuer must
// equal the account cert; signatures must verify top-down.
func VerifyChain(chain models.CertChain, at time.Time) error {
	if !chain.CA.IsCA {
		return ErrChainInvalid
	}
	if !VerifyCertificate(chain.CA, chain.CA.PublicKey) {
		return ErrChainInvalid
	}
	if !chain.Account.IsCA {
		return ErrChainInvalid
	}
	if chain.Account.IssuerID != chain.CA.PublicKeyID {
		return ErrChainInvalid
	}
	if !VerifyCertificate(chain.Account, chain.CA.PublicKey) {
		return ErrChainInvalid
	}
	if chain.Device.IssuerID != chain.Account.PublicKeyID {
		return ErrChainInvalid
	}
	if !VerifyCertificate(chain.Device, chain.Account.PublicKey) {
		return ErrChainInvalid
	}
	for _, c := range []models.Certificate{chain.CA, chain.Account, chain.Device} {
		if at.Before(c.NotBefore) || at.After(c.NotAfter) {
			return ErrChainExpired
		}
	}
	return nil
}

// NeedsMigration reports whether any ancestor is not a CA, or any
// certificate in the chain has expired (spec.md section 4.2).
func NeedsMigration(chain models.CertChain, now time.Time) bool {
	if !chain.CA.IsCA || !chain.Account.IsCA {
		return true
	}
	for _, c := range []models.Certificate{chain.CA, chain.Account, chain.Device} {
		if now.After(c.NotAfter) {
			return true
		}
	}
	return false
}

// RenewCertificates regenerates stale levels bottom-up: if the CA is
// missing/not-CA/expired, regenerate a self-signed CA from caKey. If the
// account cert is not-CA/expired or the CA changed, regenerate it. If
// either changed and a device public key is provided, regenerate the
// device cert. Idempotent when nothing is stale.
func RenewCertificates(chain models.CertChain, caPriv, accountPriv ed25519.PrivateKey, devicePub ed25519.PublicKey, now time.Time) (models.CertChain, bool, error) {
	updated := false
	out := chain

	caStale := !out.CA.IsCA || now.After(out.CA.NotAfter)
	if caStale {
		newCA, err := issue(caPriv, nil, caPriv.Public().(ed25519.PublicKey), models.CertLevelCA, true, DefaultValiditySeconds)
		if err != nil {
			return models.CertChain{}, false, err
		}
		newCA.IssuerID = newCA.PublicKeyID
		newCA.Signature = ed25519.Sign(caPriv, signingBytes(newCA))
		out.CA = newCA
		updated = true
	}

	accountStale := caStale || !out.Account.IsCA || now.After(out.Account.NotAfter) || out.Account.IssuerID != out.CA.PublicKeyID
	if accountStale {
		newAccount, err := IssueAccount(caPriv, out.CA, accountPriv.Public().(ed25519.PublicKey))
		if err != nil {
			return models.CertChain{}, false, err
		}
		out.Account = newAccount
		updated = true
	}

	if updated && devicePub != nil {
		newDevice, err := IssueDevice(accountPriv, out.Account, devicePub)
		if err != nil {
			return models.CertChain{}, false, err
		}
		out.Device = newDevice
	}

	return out, updated, nil
}

// SetValidity extends the target certificate (or all three levels if
// targetCertID is empty) using the appropriate issuer key.
func SetValidity(chain models.CertChain, targetCertID string, validitySeconds int64, caPriv, accountPriv ed25519.PrivateKey) (models.CertChain, bool, error) {
	out := chain
	updated := false
	extend := func(c models.Certificate, issuerPriv ed25519.PrivateKey) models.Certificate {
		c.NotAfter = c.NotAfter.Add(time.Duration(validitySeconds) * time.Second)
		c.Signature = ed25519.Sign(issuerPriv, signingBytes(c))
		return c
	}
	if targetCertID == "" || targetCertID == out.CA.PublicKeyID {
		out.CA = extend(out.CA, caPriv)
		updated = true
	}
	if targetCertID == "" || targetCertID == out.Account.PublicKeyID {
		out.Account = extend(out.Account, caPriv)
		updated = true
	}
	if targetCertID == "" || targetCertID == out.Device.PublicKeyID {
		out.Device = extend(out.Device, accountPriv)
		updated = true
	}
	return out, updated, nil
}

// Load parses an identity's private key and certificate chain, verifying
// cert.publicKeyId == key.publicKeyId, requiring a non-nil issuer, and
// returning the ready-to-use Identity (spec.md section 4.2).
func Load(privateKey ed25519.PrivateKey, chain models.CertChain) (models.Identity, error) {
	if privateKey == nil {
		return models.Identity{}, ErrIdentityFileMissing
	}
	pub, ok := privateKey.Public().(ed25519.PublicKey)
	if !ok {
		return models.Identity{}, ErrIdentityMismatch
	}
	id, err := BuildPublicKeyID(pub)
	if err != nil {
		return models.Identity{}, err
	}
	if id != chain.Device.PublicKeyID {
		return models.Identity{}, ErrIdentityMismatch
	}
	if chain.Device.IssuerID == "" {
		return models.Identity{}, ErrIdentityNoIssuer
	}
	return models.Identity{
		PrivateKey: append([]byte(nil), privateKey...),
		Chain:      chain,
	}, nil
}
