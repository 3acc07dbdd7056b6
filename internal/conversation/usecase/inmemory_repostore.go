package usecase

import (
	"context"
	"crypto/ed25519"
	"errors"
	"strconv"
	"sync"

	"github.com/meshid-core/core/internal/ports"
)

// InMemoryRepoStore is a test double for ports.RepoStore: it has no actual
// git backend (out of scope, spec.md section 1), just an ordered commit log
// per conversation, enough to exercise the clone/fetch/merge/erase state
// machine.
type InMemoryRepoStore struct {
	mu      sync.Mutex
	commits map[string][][]byte
	cloned  map[string]bool
	erased  map[string]bool

	// FailClone, when set, makes Clone fail for the named conversation,
	// used to exercise handlePendingConversation's teardown path.
	FailClone map[string]bool
}

func NewInMemoryRepoStore() *InMemoryRepoStore {
	return &InMemoryRepoStore{
		commits: make(map[string][][]byte),
		cloned:  make(map[string]bool),
		erased:  make(map[string]bool),
	}
}

func (s *InMemoryRepoStore) Clone(ctx context.Context, convID string, socket ports.ChannelSocket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailClone != nil && s.FailClone[convID] {
		return errors.New("simulated clone failure")
	}
	s.cloned[convID] = true
	if _, ok := s.commits[convID]; !ok {
		s.commits[convID] = nil
	}
	return nil
}

func (s *InMemoryRepoStore) Commit(ctx context.Context, convID string, payload []byte, signer ed25519.PrivateKey) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits[convID] = append(s.commits[convID], payload)
	id := commitIDFor(convID, len(s.commits[convID]))
	return id, nil
}

func (s *InMemoryRepoStore) Fetch(ctx context.Context, convID string, socket ports.ChannelSocket) error {
	return nil
}

func (s *InMemoryRepoStore) Merge(ctx context.Context, convID string, commits [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits[convID] = append(s.commits[convID], commits...)
	return nil
}

func (s *InMemoryRepoStore) Erase(ctx context.Context, convID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.erased[convID] = true
	delete(s.commits, convID)
	return nil
}

// Commits returns a snapshot of the stored commit log, for assertions.
func (s *InMemoryRepoStore) Commits(convID string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.commits[convID]))
	copy(out, s.commits[convID])
	return out
}

// Erased reports whether Erase was ever called for convID.
func (s *InMemoryRepoStore) Erased(convID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.erased[convID]
}

// Cloned reports whether Clone ever succeeded for convID.
func (s *InMemoryRepoStore) Cloned(convID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cloned[convID]
}

func commitIDFor(convID string, seq int) string {
	return convID + "-" + strconv.Itoa(seq)
}
