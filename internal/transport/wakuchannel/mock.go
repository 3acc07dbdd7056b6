package wakuchannel

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/meshid-core/core/internal/ports"
)

// mockBackend is an in-process stand-in for a waku relay/store, used as the
// default transport and in every test. Grounded on internal/waku/
// message_bus.go's subscriber/mailbox shape, generalized from a single
// private-message topic to an arbitrary DHT key/value store plus paired
// channel sockets.
type mockBackend struct {
	mu        sync.Mutex
	kv        map[string][][]byte
	listeners map[string][]func([]byte)

	incoming map[string]func(ports.ChannelSocket)
	pairs    map[string]*mockSocket
}

func newMockBackend() backend {
	return &mockBackend{
		kv:        make(map[string][][]byte),
		listeners: make(map[string][]func([]byte)),
		incoming:  make(map[string]func(ports.ChannelSocket)),
		pairs:     make(map[string]*mockSocket),
	}
}

func (b *mockBackend) Start(ctx context.Context, cfg Config, selfURI string) error { return nil }
func (b *mockBackend) Stop()                                                      {}
func (b *mockBackend) PeerCount() int                                             { return 1 }

func (b *mockBackend) Get(ctx context.Context, key string) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.kv[key]))
	copy(out, b.kv[key])
	return out, nil
}

func (b *mockBackend) Put(ctx context.Context, key string, value []byte) error {
	b.mu.Lock()
	b.kv[key] = append(b.kv[key], value)
	listeners := append([]func([]byte){}, b.listeners[key]...)
	b.mu.Unlock()
	for _, l := range listeners {
		go l(value)
	}
	return nil
}

func (b *mockBackend) Listen(ctx context.Context, key string, onValue func([]byte)) (func(), error) {
	b.mu.Lock()
	b.listeners[key] = append(b.listeners[key], onValue)
	idx := len(b.listeners[key]) - 1
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		ls := b.listeners[key]
		if idx < len(ls) {
			ls[idx] = nil
		}
	}
	return cancel, nil
}

// channelKey deterministically names the shared socket pair for a
// (subProtocol, peer-a, peer-b) triple regardless of who dials first.
func channelKey(subProtocol, a, b string) string {
	parts := []string{a, b}
	sort.Strings(parts)
	return subProtocol + "|" + parts[0] + "|" + parts[1]
}

func (b *mockBackend) OpenChannel(ctx context.Context, selfURI, peerURI, subProtocol string) (ports.ChannelSocket, error) {
	if selfURI == "" || peerURI == "" {
		return nil, errors.New("wakuchannel: selfURI and peerURI are required")
	}
	key := channelKey(subProtocol, selfURI, peerURI)

	b.mu.Lock()
	local, remote := newMockSocketPair(selfURI, peerURI)
	b.pairs[key] = remote
	handler := b.incoming[subProtocol]
	b.mu.Unlock()

	if handler != nil {
		go handler(remote)
	}
	return local, nil
}

func (b *mockBackend) OnIncomingChannel(subProtocol string, handler func(ports.ChannelSocket)) {
	b.mu.Lock()
	b.incoming[subProtocol] = handler
	b.mu.Unlock()
}

// mockSocket is a synchronous in-process half of a channel pair.
type mockSocket struct {
	selfURI string
	peerURI string
	peer    *mockSocket

	mu     sync.Mutex
	onRecv func([]byte)
	onShut func(error)
	closed bool
}

func newMockSocketPair(a, b string) (*mockSocket, *mockSocket) {
	s1 := &mockSocket{selfURI: a, peerURI: b}
	s2 := &mockSocket{selfURI: b, peerURI: a}
	s1.peer = s2
	s2.peer = s1
	return s1, s2
}

func (s *mockSocket) Send(frame []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("wakuchannel: socket closed")
	}
	peer := s.peer
	s.mu.Unlock()

	peer.mu.Lock()
	handler := peer.onRecv
	peer.mu.Unlock()
	if handler != nil {
		cp := append([]byte(nil), frame...)
		go handler(cp)
	}
	return nil
}

func (s *mockSocket) OnReceive(handler func(frame []byte)) {
	s.mu.Lock()
	s.onRecv = handler
	s.mu.Unlock()
}

func (s *mockSocket) OnShutdown(handler func(err error)) {
	s.mu.Lock()
	s.onShut = handler
	s.mu.Unlock()
}

func (s *mockSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	peer := s.peer
	s.mu.Unlock()

	if peer != nil {
		peer.mu.Lock()
		shut := peer.onShut
		peer.closed = true
		peer.mu.Unlock()
		if shut != nil {
			go shut(nil)
		}
	}
	return nil
}

func (s *mockSocket) PeerURI() string { return s.peerURI }

var _ ports.ChannelSocket = (*mockSocket)(nil)
