// Package dhtimport implements the legacy DHT-based archive import flow
// of spec.md section 4.4.4: a two-epoch concurrent key-stretch-and-fetch
// search.
//
// Grounded on internal/waku/node.go's FetchPrivateSince windowed-fetch
// shape (concurrent fetch across a small window of candidate locations)
// and internal/securestore/envelope.go's argon2id KDF parameters (reused
// here directly since computeKeys is itself a password stretch).
package dhtimport

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/meshid-core/core/internal/identitycore/archive"
	"github.com/meshid-core/core/internal/ports"
	"github.com/meshid-core/core/pkg/models"
)

// RenewalInterval is the epoch width of spec.md section 4.4.4.
const RenewalInterval = 20 * 60 // seconds

const (
	stretchTime    = uint32(2)
	stretchMemory  = uint32(64 * 1024)
	stretchThreads = uint8(1)
)

var (
	ErrNotFound = errors.New("legacy archive not found")
	ErrNetwork  = errors.New("legacy archive import failed: network error")
)

// computeEpoch returns floor(nowSeconds / RenewalInterval).
func computeEpoch(nowSeconds int64) int64 {
	return nowSeconds / RenewalInterval
}

// ComputeKeys derives (key, location) for a given password/pin/epoch,
// exactly as spec.md section 4.4.4 describes: location = sha1(key),
// key = stretch(password, salt = pin || hex(epoch)).
func ComputeKeys(password, pin string, epoch int64) (key []byte, location string) {
	salt := []byte(pin + hexEpoch(epoch))
	key = argon2.IDKey([]byte(password), salt, stretchTime, stretchMemory, stretchThreads, chacha20poly1305.KeySize)
	sum := sha1.Sum(key)
	return key, hex.EncodeToString(sum[:])
}

func hexEpoch(epoch int64) string {
	return fmt.Sprintf("%x", epoch)
}

// Import runs the two-epoch concurrent search of spec.md section 4.4.4
// against the given DHT collaborator.
func Import(ctx context.Context, dht ports.DhtService, password, pin string, nowSeconds int64) (models.AccountArchive, error) {
	epoch := computeEpoch(nowSeconds)

	type attempt struct {
		archive models.AccountArchive
		err     error
	}
	results := make(chan attempt, 2)

	tryEpoch := func(e int64) {
		key, location := ComputeKeys(password, pin, e)
		values, err := dht.Get(ctx, location)
		if err != nil {
			results <- attempt{err: ErrNetwork}
			return
		}
		for _, v := range values {
			a, decodeErr := archive.Decode(v, key)
			if decodeErr == nil {
				results <- attempt{archive: a}
				return
			}
		}
		results <- attempt{err: ErrNotFound}
	}

	go tryEpoch(epoch)
	go tryEpoch(epoch - 1)

	var networkErrs, notFoundErrs int
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err == nil {
			return r.archive, nil
		}
		if errors.Is(r.err, ErrNetwork) {
			networkErrs++
		} else {
			notFoundErrs++
		}
	}

	if notFoundErrs == 2 {
		return models.AccountArchive{}, ErrNotFound
	}
	return models.AccountArchive{}, ErrNetwork
}
