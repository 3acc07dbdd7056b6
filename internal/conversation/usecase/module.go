// Package usecase implements spec.md section 4.5, the ConversationModule:
// clone/fetch state machines, the pending-fetch drainer, request lifecycle,
// removal, sync ingestion, and outbound notification fan-out.
//
// Grounded on internal/domains/group/usecase's dependency-injected-struct
// shape (GroupMessageFanoutService): collaborators are passed in as an
// explicit struct of interfaces/funcs rather than assembled behind a
// constructor with hidden globals, so tests can wire an in-memory RepoStore
// and a recording ChannelService without touching the real transport.
package usecase

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sync"

	"github.com/meshid-core/core/internal/platform/arena"
	"github.com/meshid-core/core/internal/ports"
	"github.com/meshid-core/core/pkg/models"
)

var (
	ErrNotAMember          = errors.New("peer is not a member of this conversation")
	ErrDeviceBanned        = errors.New("device is banned from this conversation")
	ErrAlreadyFetching     = errors.New("a fetch or clone is already in flight for this conversation")
	ErrConversationUnknown = errors.New("conversation not found")
	ErrRequestUnknown      = errors.New("conversation request not found")
)

// Notifier is the embedding-application event sink (spec.md section 6.5).
type Notifier interface {
	Emit(models.Event)
}

// Persister durably stores the replicated conv_info/conv_request maps.
// Mirrors contactlist.Persister's single-call-per-map shape.
type Persister interface {
	PersistConvInfos(map[string]models.ConvInfo) error
	PersistConvRequests(map[string]models.ConversationRequest) error
}

// MessageSender delivers a one-shot out-of-band message to a peer account
// URI, used for invite requests and profile-card pulls (spec.md section
// 4.5.3/4.5.8). Distinct from ports.ChannelService's stream sockets.
type MessageSender interface {
	Send(peerURI, contentType string, payload []byte) error
}

// conversationState is a fully joined, in-memory conversation: repo history
// is materialized and new commits can be synced.
type conversationState struct {
	info models.ConvInfo
}

// Module is the ConversationModule. All maps are guarded by their own
// mutex, matching contactlist.ContactList's per-map locking style rather
// than one coarse lock.
type Module struct {
	repo     ports.RepoStore
	channels ports.ChannelService
	notify   Notifier
	persist  Persister
	sender   MessageSender

	selfURI      string
	selfDeviceID string
	signer       ed25519.PrivateKey
	now          func() int64

	// HasActiveOneToOne reports whether the account already has a live
	// 1:1 conversation with the given peer URI, consulted by the request
	// gate (spec.md section 4.5.5). Nil means "never".
	HasActiveOneToOne func(peerURI string) bool

	convMu sync.RWMutex
	convs  map[string]*conversationState

	infoMu sync.RWMutex
	infos  map[string]models.ConvInfo

	reqMu sync.RWMutex
	reqs  map[string]models.ConversationRequest

	// sockets is a weak-from-this handle table (spec.md section 9): the
	// drainer resolves a convID's stashed socket through a Handle rather
	// than holding the ChannelSocket directly, so a conversation torn
	// down mid-flight (teardownPending) leaves stale references pointing
	// at a miss instead of a live socket.
	pendingMu   sync.Mutex
	pending     map[string]*models.PendingFetchState
	socketArena *arena.Arena[ports.ChannelSocket]
	sockets     map[string]arena.Handle
	replay      map[string][][]byte

	sentMu sync.Mutex
	sent   map[string]string // peerURI+convID -> last delivered commit id, for fan-out dedup
}

// New constructs a ConversationModule. now is the epoch-seconds clock and
// is used as given, with no default: it must not be nil.
func New(repo ports.RepoStore, channels ports.ChannelService, notify Notifier, persist Persister, sender MessageSender, selfURI, selfDeviceID string, signer ed25519.PrivateKey, now func() int64) *Module {
	return &Module{
		repo:         repo,
		channels:     channels,
		notify:       notify,
		persist:      persist,
		sender:       sender,
		selfURI:      selfURI,
		selfDeviceID: selfDeviceID,
		signer:       signer,
		now:          now,
		convs:        make(map[string]*conversationState),
		infos:        make(map[string]models.ConvInfo),
		reqs:         make(map[string]models.ConversationRequest),
		pending:      make(map[string]*models.PendingFetchState),
		socketArena:  arena.New[ports.ChannelSocket](),
		sockets:      make(map[string]arena.Handle),
		replay:       make(map[string][][]byte),
		sent:         make(map[string]string),
	}
}

func (m *Module) emit(kind models.EventKind, payload map[string]interface{}) {
	if m.notify != nil {
		m.notify.Emit(models.Event{Kind: kind, Payload: payload})
	}
}

// ConvInfo returns the replicated metadata for a conversation, if known.
func (m *Module) ConvInfo(convID string) (models.ConvInfo, bool) {
	m.infoMu.RLock()
	defer m.infoMu.RUnlock()
	info, ok := m.infos[convID]
	return info, ok
}

// IsJoined reports whether convID is fully materialized locally.
func (m *Module) IsJoined(convID string) bool {
	m.convMu.RLock()
	defer m.convMu.RUnlock()
	_, ok := m.convs[convID]
	return ok
}

func (m *Module) persistInfos() {
	if m.persist == nil {
		return
	}
	m.infoMu.RLock()
	snapshot := make(map[string]models.ConvInfo, len(m.infos))
	for k, v := range m.infos {
		snapshot[k] = v
	}
	m.infoMu.RUnlock()
	m.persist.PersistConvInfos(snapshot)
}

func (m *Module) persistRequests() {
	if m.persist == nil {
		return
	}
	m.reqMu.RLock()
	snapshot := make(map[string]models.ConversationRequest, len(m.reqs))
	for k, v := range m.reqs {
		snapshot[k] = v
	}
	m.reqMu.RUnlock()
	m.persist.PersistConvRequests(snapshot)
}

// startFetch registers convID as in-flight for deviceID, rejecting a
// duplicate attempt from either the same device or when the conversation is
// already ready (spec.md section 8 property 6: clone dedup).
func (m *Module) startFetch(convID, deviceID string) (*models.PendingFetchState, bool) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	p, ok := m.pending[convID]
	if !ok {
		p = &models.PendingFetchState{ConversationID: convID, ConnectingTo: make(map[string]struct{})}
		m.pending[convID] = p
	}
	if p.Ready {
		return p, false
	}
	if p.ConnectingTo == nil {
		p.ConnectingTo = make(map[string]struct{})
	}
	if _, already := p.ConnectingTo[deviceID]; already {
		return p, false
	}
	p.ConnectingTo[deviceID] = struct{}{}
	p.DeviceID = deviceID
	return p, true
}

// CloneConversation implements spec.md section 4.5.2: register a
// provisional conv_info and open a channel to peerURI/deviceID to fetch the
// initial repository snapshot. A conversation already known locally is a
// no-op save for updating last_displayed.
func (m *Module) CloneConversation(ctx context.Context, deviceID, peerURI, convID, lastDisplayed string) error {
	m.infoMu.Lock()
	if info, known := m.infos[convID]; known && !info.IsRemoved() {
		if lastDisplayed != "" {
			info.LastDisplayed = lastDisplayed
			m.infos[convID] = info
		}
		m.infoMu.Unlock()
		if lastDisplayed != "" {
			m.persistInfos()
		}
		return nil
	}
	m.infos[convID] = models.ConvInfo{
		ID:            convID,
		CreatedAt:     m.now(),
		Members:       []string{m.selfURI, peerURI},
		LastDisplayed: lastDisplayed,
	}
	m.infoMu.Unlock()
	m.persistInfos()

	return m.beginFetch(ctx, deviceID, peerURI, convID)
}

// beginFetch starts the channel-based fetch of a conversation's initial
// snapshot, deduping concurrent attempts on the same conversation (spec.md
// section 8 property 6). Callers are responsible for conv_info bookkeeping;
// this only drives the pending-fetch/socket state.
func (m *Module) beginFetch(ctx context.Context, deviceID, peerURI, convID string) error {
	if _, ok := m.startFetch(convID, deviceID); !ok {
		return ErrAlreadyFetching
	}

	socket, err := m.channels.RequestChannel(ctx, peerURI, "application/im-gitmessage-id")
	if err != nil {
		return err
	}

	handle := m.socketArena.Insert(socket)
	m.pendingMu.Lock()
	p := m.pending[convID]
	p.Ready = true
	m.sockets[convID] = handle
	m.pendingMu.Unlock()
	return nil
}

// FetchNewCommits implements spec.md section 4.5.3: a peer device
// announces a new commit on a conversation we may or may not have joined.
func (m *Module) FetchNewCommits(ctx context.Context, peerURI, deviceID, convID, commitID string) error {
	if m.IsJoined(convID) {
		info, _ := m.ConvInfo(convID)
		if !info.IsMember(peerURI) {
			return ErrNotAMember
		}
		if info.IsDeviceBanned(deviceID) {
			return ErrDeviceBanned
		}
		if _, ok := m.startFetch(convID, deviceID); !ok {
			return ErrAlreadyFetching
		}
		defer m.finishFetch(convID, deviceID)

		socket, err := m.channels.RequestChannel(ctx, peerURI, "application/im-gitmessage-id")
		if err != nil {
			return err
		}
		defer socket.Close()
		if err := m.repo.Fetch(ctx, convID, socket); err != nil {
			return err
		}
		if err := m.repo.Merge(ctx, convID, [][]byte{[]byte(commitID)}); err != nil {
			return err
		}
		m.emit(models.EventConversationSyncFinished, map[string]interface{}{"conversation_id": convID})
		return nil
	}

	if _, known := m.ConvInfo(convID); known {
		return m.CloneConversation(ctx, deviceID, peerURI, convID, "")
	}

	if m.sender != nil {
		m.sender.Send(peerURI, "application/invite", []byte(convID))
	}
	return nil
}

func (m *Module) finishFetch(convID, deviceID string) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	p, ok := m.pending[convID]
	if !ok {
		return
	}
	delete(p.ConnectingTo, deviceID)
	if len(p.ConnectingTo) == 0 && !p.Ready {
		delete(m.pending, convID)
	}
}
