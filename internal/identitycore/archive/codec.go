// Package archive implements ArchiveCodec (spec.md section 4.1): canonical
// JSON serialization of an AccountArchive plus the scheme-prefixed
// compress/encrypt envelope used to persist it (section 6.2).
package archive

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"

	"github.com/meshid-core/core/internal/securestore"
	"github.com/meshid-core/core/pkg/models"
)

var (
	ErrArchiveMalformed      = errors.New("archive is malformed")
	ErrArchiveBadCredentials = errors.New("archive bad credentials")
	ErrArchiveIOError        = errors.New("archive io error")
)

// Serialize encodes an AccountArchive as canonical JSON: stable field
// names (via struct tags), base64-encoded binary fields (handled
// transparently by encoding/json for []byte), contacts keyed by hex
// account-id (the caller is expected to key the map that way already,
// consistent with section 4.1).
func Serialize(a models.AccountArchive) ([]byte, error) {
	out, err := json.Marshal(a)
	if err != nil {
		return nil, errors.Join(ErrArchiveMalformed, err)
	}
	return out, nil
}

// Deserialize decodes canonical JSON produced by Serialize. Unknown keys
// are tolerated (encoding/json already ignores them); missing optional
// sections are zero-initialized. A malformed top-level document fails
// with ErrArchiveMalformed.
func Deserialize(data []byte) (models.AccountArchive, error) {
	var a models.AccountArchive
	if err := json.Unmarshal(data, &a); err != nil {
		return models.AccountArchive{}, errors.Join(ErrArchiveMalformed, err)
	}
	if a.Contacts == nil {
		a.Contacts = map[string]models.Contact{}
	}
	if a.Conversations == nil {
		a.Conversations = map[string]models.ConvInfo{}
	}
	if a.ConversationRequests == nil {
		a.ConversationRequests = map[string]models.ConversationRequest{}
	}
	if a.ConfigKV == nil {
		a.ConfigKV = map[string]string{}
	}
	return a, nil
}

// header byte values, spec.md section 6.2.
const (
	headerGzipPlain   = byte(models.ArchiveSchemeNone)
	headerPassword    = byte(models.ArchiveSchemePassword)
	headerRawKey      = byte(models.ArchiveSchemeKey)
)

// Encode produces the on-disk bytes for an archive under the given
// scheme: a single header byte followed by (compressed, then encrypted)
// canonical JSON.
func Encode(scheme models.ArchiveEncryptionScheme, secret []byte, a models.AccountArchive) ([]byte, error) {
	if !scheme.Valid() {
		return nil, ErrArchiveMalformed
	}
	plaintext, err := Serialize(a)
	if err != nil {
		return nil, err
	}
	compressed, err := gzipCompress(plaintext)
	if err != nil {
		return nil, errors.Join(ErrArchiveIOError, err)
	}

	var body []byte
	switch scheme {
	case models.ArchiveSchemeNone:
		body = compressed
	case models.ArchiveSchemePassword:
		env, err := securestore.Encrypt(string(secret), compressed)
		if err != nil {
			return nil, errors.Join(ErrArchiveIOError, err)
		}
		body = env
	case models.ArchiveSchemeKey:
		body, err = encryptRawKey(secret, compressed)
		if err != nil {
			return nil, errors.Join(ErrArchiveIOError, err)
		}
	}
	return append([]byte{byte(scheme)}, body...), nil
}

// Decode parses bytes produced by Encode. A wrong scheme/password fails
// with ErrArchiveBadCredentials.
func Decode(data []byte, secret []byte) (models.AccountArchive, error) {
	if len(data) < 1 {
		return models.AccountArchive{}, ErrArchiveMalformed
	}
	scheme := models.ArchiveEncryptionScheme(data[0])
	if !scheme.Valid() {
		return models.AccountArchive{}, ErrArchiveMalformed
	}
	body := data[1:]

	var compressed []byte
	var err error
	switch scheme {
	case models.ArchiveSchemeNone:
		compressed = body
	case models.ArchiveSchemePassword:
		compressed, err = securestore.Decrypt(string(secret), body)
		if err != nil {
			return models.AccountArchive{}, errors.Join(ErrArchiveBadCredentials, err)
		}
	case models.ArchiveSchemeKey:
		compressed, err = decryptRawKey(secret, body)
		if err != nil {
			return models.AccountArchive{}, errors.Join(ErrArchiveBadCredentials, err)
		}
	}

	plaintext, err := gzipDecompress(compressed)
	if err != nil {
		return models.AccountArchive{}, errors.Join(ErrArchiveMalformed, err)
	}
	return Deserialize(plaintext)
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
