package archive

import (
	"bytes"
	"testing"

	"github.com/meshid-core/core/pkg/models"
)

func sampleArchive() models.AccountArchive {
	return models.AccountArchive{
		CAKey:  []byte("ca-key-bytes"),
		EthKey: []byte("eth-key-bytes-20"),
		Contacts: map[string]models.Contact{
			"aabbcc": {AddedAt: 10, Confirmed: true},
		},
		Conversations: map[string]models.ConvInfo{
			"conv1": {ID: "conv1", CreatedAt: 5, Members: []string{"a", "b"}},
		},
		ConversationRequests: map[string]models.ConversationRequest{},
		ConfigKV: map[string]string{
			models.ConfigKeyDeviceName: "laptop",
		},
	}
}

func TestSerializeDeserializeRoundTrips(t *testing.T) {
	a := sampleArchive()
	raw, err := Serialize(a)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	got, err := Deserialize(raw)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if got.Contacts["aabbcc"].AddedAt != 10 {
		t.Fatalf("contact not preserved: %+v", got.Contacts)
	}
	if got.ConfigKV[models.ConfigKeyDeviceName] != "laptop" {
		t.Fatalf("config not preserved: %+v", got.ConfigKV)
	}
}

func TestDeserializeToleratesUnknownKeysAndMissingSections(t *testing.T) {
	raw := []byte(`{"unknown_future_field": 42, "ca_key": "aGk="}`)
	got, err := Deserialize(raw)
	if err != nil {
		t.Fatalf("unexpected error on forward-compatible document: %v", err)
	}
	if got.Contacts == nil || got.Conversations == nil || got.ConversationRequests == nil || got.ConfigKV == nil {
		t.Fatalf("missing optional sections must be zero-initialized, got %+v", got)
	}
}

func TestDeserializeMalformedTopLevelFails(t *testing.T) {
	if _, err := Deserialize([]byte(`not json`)); err == nil {
		t.Fatalf("expected ErrArchiveMalformed for malformed top-level document")
	}
}

func TestEncodeDecodeNoneScheme(t *testing.T) {
	a := sampleArchive()
	enc, err := Encode(models.ArchiveSchemeNone, nil, a)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if enc[0] != byte(models.ArchiveSchemeNone) {
		t.Fatalf("expected header byte 0x00, got %#x", enc[0])
	}
	got, err := Decode(enc, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ConfigKV[models.ConfigKeyDeviceName] != "laptop" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestEncodeDecodePasswordScheme(t *testing.T) {
	a := sampleArchive()
	enc, err := Encode(models.ArchiveSchemePassword, []byte("correct horse"), a)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(enc, []byte("wrong password")); err == nil {
		t.Fatalf("expected ErrArchiveBadCredentials with wrong password")
	}
	got, err := Decode(enc, []byte("correct horse"))
	if err != nil {
		t.Fatalf("decode with correct password: %v", err)
	}
	if !bytes.Equal(got.CAKey, a.CAKey) {
		t.Fatalf("ca key mismatch after round-trip")
	}
}

func TestEncodeDecodeKeyScheme(t *testing.T) {
	a := sampleArchive()
	key := bytes.Repeat([]byte{0x42}, 32)
	enc, err := Encode(models.ArchiveSchemeKey, key, a)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	wrongKey := bytes.Repeat([]byte{0x01}, 32)
	if _, err := Decode(enc, wrongKey); err == nil {
		t.Fatalf("expected failure with wrong raw key")
	}
	got, err := Decode(enc, key)
	if err != nil {
		t.Fatalf("decode with correct key: %v", err)
	}
	if !bytes.Equal(got.EthKey, a.EthKey) {
		t.Fatalf("eth key mismatch after round-trip")
	}
}
