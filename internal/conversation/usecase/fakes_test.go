package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/meshid-core/core/internal/ports"
	"github.com/meshid-core/core/pkg/models"
)

// fakeSocket is a closed-over in-process ports.ChannelSocket: Send on one
// end invokes the peer end's receive handler synchronously.
type fakeSocket struct {
	peer        string
	other       *fakeSocket
	mu          sync.Mutex
	onReceive   func([]byte)
	onShutdown  func(error)
	closed      bool
	sentFrames  [][]byte
}

func newFakeSocketPair(aURI, bURI string) (*fakeSocket, *fakeSocket) {
	a := &fakeSocket{peer: bURI}
	b := &fakeSocket{peer: aURI}
	a.other = b
	b.other = a
	return a, b
}

func (s *fakeSocket) Send(frame []byte) error {
	s.mu.Lock()
	s.sentFrames = append(s.sentFrames, frame)
	s.mu.Unlock()
	if s.other != nil && s.other.onReceive != nil {
		s.other.onReceive(frame)
	}
	return nil
}

func (s *fakeSocket) OnReceive(handler func([]byte)) { s.onReceive = handler }
func (s *fakeSocket) OnShutdown(handler func(error))  { s.onShutdown = handler }
func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
func (s *fakeSocket) PeerURI() string { return s.peer }

// fakeChannels hands out a pre-wired fakeSocket per peer URI, or fails if
// none was registered (simulating an unreachable peer).
type fakeChannels struct {
	mu       sync.Mutex
	sockets  map[string]ports.ChannelSocket
	failWith error
}

func newFakeChannels() *fakeChannels {
	return &fakeChannels{sockets: make(map[string]ports.ChannelSocket)}
}

func (c *fakeChannels) register(peerURI string, socket ports.ChannelSocket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sockets[peerURI] = socket
}

func (c *fakeChannels) RequestChannel(ctx context.Context, peerURI, subProtocol string) (ports.ChannelSocket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return nil, c.failWith
	}
	socket, ok := c.sockets[peerURI]
	if !ok {
		return nil, errNoSocket
	}
	return socket, nil
}

func (c *fakeChannels) OnIncomingChannel(subProtocol string, handler func(ports.ChannelSocket)) {}

var errNoSocket = errors.New("no socket registered for peer")

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.Event
}

func (n *recordingNotifier) Emit(e models.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) has(kind models.EventKind) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

type fakePersister struct {
	mu       sync.Mutex
	infos    map[string]models.ConvInfo
	requests map[string]models.ConversationRequest
}

func (p *fakePersister) PersistConvInfos(m map[string]models.ConvInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.infos = m
	return nil
}

func (p *fakePersister) PersistConvRequests(m map[string]models.ConversationRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = m
	return nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

type sentMessage struct {
	peerURI     string
	contentType string
	payload     []byte
}

func (s *recordingSender) Send(peerURI, contentType string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{peerURI, contentType, payload})
	return nil
}
