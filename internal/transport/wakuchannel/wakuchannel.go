// Package wakuchannel implements ports.DhtService and ports.ChannelService
// over waku (github.com/waku-org/go-waku) relay and store queries, with an
// always-available in-memory backend for tests and non-real_waku builds.
//
// Grounded on internal/waku/node.go's Config/Status/state-machine shape
// (Start/Stop/Status, the goWakuBackend split, peer-maintenance loop) and
// internal/waku/gowaku_enabled.go's content-topic framing and dial-retry
// loop, generalized from a single private-message pub/sub to the DHT
// get/put/listen and channel-socket request/accept shapes spec.md section 6
// actually needs.
package wakuchannel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/meshid-core/core/internal/ports"
)

const (
	TransportMock   = "mock"
	TransportGoWaku = "go-waku"

	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateDegraded     = "degraded"
)

// Config mirrors waku.Config's bootstrap/reconnect knobs, trimmed to what
// this adapter's backends actually consume.
type Config struct {
	Transport           string
	Port                int
	BootstrapNodes      []string
	MinPeers            int
	ReconnectInterval   time.Duration
	ReconnectBackoffMax time.Duration
}

func DefaultConfig() Config {
	return Config{
		Transport:           TransportMock,
		Port:                60000,
		MinPeers:            1,
		ReconnectInterval:   time.Second,
		ReconnectBackoffMax: 30 * time.Second,
	}
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Transport == "" {
		cfg.Transport = def.Transport
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = def.ReconnectInterval
	}
	if cfg.ReconnectBackoffMax < cfg.ReconnectInterval {
		cfg.ReconnectBackoffMax = cfg.ReconnectInterval
	}
	if cfg.MinPeers < 0 {
		cfg.MinPeers = 0
	}
	return cfg
}

type Status struct {
	State     string
	PeerCount int
	LastSync  time.Time
}

// backend is the transport actually moving bytes. mockBackend always
// satisfies it; a real_waku-tagged build adds a go-waku-backed one.
type backend interface {
	Start(ctx context.Context, cfg Config, selfURI string) error
	Stop()
	PeerCount() int
	Get(ctx context.Context, key string) ([][]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Listen(ctx context.Context, key string, onValue func([]byte)) (func(), error)
	OpenChannel(ctx context.Context, selfURI, peerURI, subProtocol string) (ports.ChannelSocket, error)
	OnIncomingChannel(subProtocol string, handler func(ports.ChannelSocket))
}

// Node is the composition root's DhtService/ChannelService. Both
// interfaces are satisfied by delegating to the configured backend once
// Start has run.
type Node struct {
	mu      sync.RWMutex
	cfg     Config
	status  Status
	selfURI string
	gw      backend
}

func NewNode(cfg Config) *Node {
	return &Node{cfg: normalizeConfig(cfg), status: Status{State: StateDisconnected}}
}

func (n *Node) Start(ctx context.Context, selfURI string) error {
	n.mu.Lock()
	n.selfURI = selfURI
	n.status.State = StateConnecting
	cfg := n.cfg
	n.mu.Unlock()

	backend := newBackend(cfg.Transport)
	if backend == nil {
		n.setState(StateDisconnected, 0)
		return errors.New("wakuchannel: unsupported transport " + cfg.Transport)
	}
	if err := backend.Start(ctx, cfg, selfURI); err != nil {
		n.setState(StateDisconnected, 0)
		return err
	}

	n.mu.Lock()
	n.gw = backend
	n.mu.Unlock()
	n.setState(StateConnected, backend.PeerCount())
	return nil
}

func (n *Node) Stop(_ context.Context) error {
	n.mu.Lock()
	gw := n.gw
	n.gw = nil
	n.mu.Unlock()
	if gw != nil {
		gw.Stop()
	}
	n.setState(StateDisconnected, 0)
	return nil
}

func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s := n.status
	if n.gw != nil {
		s.PeerCount = n.gw.PeerCount()
	}
	return s
}

func (n *Node) setState(state string, peerCount int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status.State = state
	n.status.PeerCount = peerCount
	n.status.LastSync = time.Now()
}

func (n *Node) currentBackend() (backend, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.gw == nil {
		return nil, errors.New("wakuchannel: not started")
	}
	return n.gw, nil
}

// Get implements ports.DhtService.
func (n *Node) Get(ctx context.Context, key string) ([][]byte, error) {
	gw, err := n.currentBackend()
	if err != nil {
		return nil, err
	}
	return gw.Get(ctx, key)
}

// Put implements ports.DhtService.
func (n *Node) Put(ctx context.Context, key string, value []byte) error {
	gw, err := n.currentBackend()
	if err != nil {
		return err
	}
	return gw.Put(ctx, key, value)
}

// Listen implements ports.DhtService.
func (n *Node) Listen(ctx context.Context, key string, onValue func([]byte)) (func(), error) {
	gw, err := n.currentBackend()
	if err != nil {
		return nil, err
	}
	return gw.Listen(ctx, key, onValue)
}

// RequestChannel implements ports.ChannelService.
func (n *Node) RequestChannel(ctx context.Context, peerURI, subProtocol string) (ports.ChannelSocket, error) {
	gw, err := n.currentBackend()
	if err != nil {
		return nil, err
	}
	n.mu.RLock()
	selfURI := n.selfURI
	n.mu.RUnlock()
	return gw.OpenChannel(ctx, selfURI, peerURI, subProtocol)
}

// OnIncomingChannel implements ports.ChannelService.
func (n *Node) OnIncomingChannel(subProtocol string, handler func(ports.ChannelSocket)) {
	n.mu.RLock()
	gw := n.gw
	n.mu.RUnlock()
	if gw == nil {
		return
	}
	gw.OnIncomingChannel(subProtocol, handler)
}

var _ ports.ChannelService = (*Node)(nil)
