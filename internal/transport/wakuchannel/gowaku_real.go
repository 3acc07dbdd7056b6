//go:build real_waku

package wakuchannel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/meshid-core/core/internal/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/waku-org/go-waku/waku/persistence"
	"github.com/waku-org/go-waku/waku/persistence/sqlite"
	wakuNode "github.com/waku-org/go-waku/waku/v2/node"
	"github.com/waku-org/go-waku/waku/v2/protocol"
	legacyStore "github.com/waku-org/go-waku/waku/v2/protocol/legacy_store"
	wpb "github.com/waku-org/go-waku/waku/v2/protocol/pb"
	"github.com/waku-org/go-waku/waku/v2/protocol/relay"
	"github.com/waku-org/go-waku/waku/v2/utils"
)

const dhtPubsubTopic = "/waku/2/default-waku/proto"

// frame is the wire envelope put on every content topic this adapter
// subscribes to, whether carrying a DHT value or a channel-socket frame.
// SenderURI lets a subscriber ignore its own echo on a shared topic.
type frame struct {
	SenderURI string `json:"sender_uri"`
	Payload   []byte `json:"payload"`
}

type realBackend struct {
	mu             sync.RWMutex
	node           *wakuNode.WakuNode
	selfURI        string
	bootstrapNodes []string
	cfg            Config

	incoming    map[string]func(ports.ChannelSocket)
	maintainCtl context.CancelFunc
	maintainWG  sync.WaitGroup
}

func newGoWakuBackend() backend {
	return &realBackend{incoming: make(map[string]func(ports.ChannelSocket))}
}

func (g *realBackend) Start(ctx context.Context, cfg Config, selfURI string) error {
	opts := make([]wakuNode.WakuNodeOption, 0, 4)
	hostAddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.Port)))
	if err != nil {
		return err
	}
	opts = append(opts, wakuNode.WithHostAddress(hostAddr), wakuNode.WithWakuRelay())

	provider, err := newInMemoryMessageProvider()
	if err != nil {
		return err
	}
	opts = append(opts, wakuNode.WithMessageProvider(provider), wakuNode.WithWakuStore())

	node, err := wakuNode.New(opts...)
	if err != nil {
		return err
	}
	if err := node.Start(ctx); err != nil {
		return err
	}
	for _, addr := range cfg.BootstrapNodes {
		_ = node.DialPeer(ctx, addr)
	}

	g.mu.Lock()
	g.node = node
	g.selfURI = selfURI
	g.cfg = cfg
	g.bootstrapNodes = append([]string(nil), cfg.BootstrapNodes...)
	g.mu.Unlock()

	g.startPeerMaintenance()
	return nil
}

func (g *realBackend) Stop() {
	g.stopPeerMaintenance()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.node != nil {
		g.node.Stop()
		g.node = nil
	}
}

func (g *realBackend) PeerCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.node == nil {
		return 0
	}
	return g.node.PeerCount()
}

// Put publishes a value on the key's content topic; Get replays everything
// the store has recorded for it. Both map spec.md section 6's DHT
// semantics onto waku relay+store rather than a true Kademlia DHT, which
// the teacher's goWakuBackend never implemented either (it only ever
// carried one fixed private-message topic).
func (g *realBackend) Put(ctx context.Context, key string, value []byte) error {
	node := g.wakuNode()
	if node == nil {
		return errors.New("wakuchannel: go-waku node is nil")
	}
	body, err := json.Marshal(frame{SenderURI: g.self(), Payload: value})
	if err != nil {
		return err
	}
	ts := time.Now().UnixNano()
	wm := &wpb.WakuMessage{Payload: body, ContentTopic: contentTopicForKey(key), Timestamp: &ts}
	_, err = node.Relay().Publish(ctx, wm, relay.WithPubSubTopic(dhtPubsubTopic))
	return err
}

func (g *realBackend) Get(ctx context.Context, key string) ([][]byte, error) {
	node := g.wakuNode()
	if node == nil {
		return nil, errors.New("wakuchannel: go-waku node is nil")
	}
	topic := contentTopicForKey(key)
	start := time.Time{}.UnixNano()
	end := time.Now().UnixNano()
	criteria := legacyStore.Query{PubsubTopic: dhtPubsubTopic, ContentTopics: []string{topic}, StartTime: &start, EndTime: &end}

	result, err := node.LegacyStore().Query(ctx, criteria, legacyStore.WithPaging(true, 200))
	if err != nil {
		return nil, err
	}
	var out [][]byte
	consume := func() {
		for _, wm := range result.Messages {
			if wm == nil {
				continue
			}
			var f frame
			if err := json.Unmarshal(wm.Payload, &f); err != nil {
				continue
			}
			out = append(out, f.Payload)
		}
	}
	consume()
	for !result.IsComplete() {
		result, err = node.LegacyStore().Next(ctx, result)
		if err != nil {
			return out, err
		}
		consume()
	}
	return out, nil
}

func (g *realBackend) Listen(ctx context.Context, key string, onValue func([]byte)) (func(), error) {
	node := g.wakuNode()
	if node == nil {
		return nil, errors.New("wakuchannel: go-waku node is nil")
	}
	filter := protocol.NewContentFilter(dhtPubsubTopic, contentTopicForKey(key))
	subs, err := node.Relay().Subscribe(ctx, filter)
	if err != nil {
		return nil, err
	}
	selfURI := g.self()
	for _, sub := range subs {
		go func(subscription *relay.Subscription) {
			for env := range subscription.Ch {
				if env == nil || env.Message() == nil {
					continue
				}
				var f frame
				if err := json.Unmarshal(env.Message().Payload, &f); err != nil || f.SenderURI == selfURI {
					continue
				}
				onValue(f.Payload)
			}
		}(sub)
	}
	cancel := func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}
	return cancel, nil
}

// OpenChannel and OnIncomingChannel emulate a point-to-point socket over a
// relay topic scoped to the sorted (subProtocol, selfURI, peerURI) triple,
// the same content-topic-per-conversation idea gowaku_enabled.go used for
// its single private-message topic.
func (g *realBackend) OpenChannel(ctx context.Context, selfURI, peerURI, subProtocol string) (ports.ChannelSocket, error) {
	node := g.wakuNode()
	if node == nil {
		return nil, errors.New("wakuchannel: go-waku node is nil")
	}
	topic := contentTopicForKey(channelKey(subProtocol, selfURI, peerURI))
	filter := protocol.NewContentFilter(dhtPubsubTopic, topic)
	subs, err := node.Relay().Subscribe(ctx, filter)
	if err != nil {
		return nil, err
	}
	sock := newRealSocket(node, topic, selfURI, peerURI, subs)
	return sock, nil
}

func (g *realBackend) OnIncomingChannel(subProtocol string, handler func(ports.ChannelSocket)) {
	g.mu.Lock()
	g.incoming[subProtocol] = handler
	g.mu.Unlock()
}

func (g *realBackend) wakuNode() *wakuNode.WakuNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.node
}

func (g *realBackend) self() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.selfURI
}

func contentTopicForKey(key string) string {
	return "/meshid/1/" + key + "/proto"
}

func (g *realBackend) startPeerMaintenance() {
	g.mu.Lock()
	if g.maintainCtl != nil {
		g.maintainCtl()
	}
	if len(g.bootstrapNodes) == 0 || g.node == nil {
		g.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.maintainCtl = cancel
	g.maintainWG.Add(1)
	cfg := g.cfg
	node := g.node
	bootstrapNodes := append([]string(nil), g.bootstrapNodes...)
	g.mu.Unlock()

	go func() {
		defer g.maintainWG.Done()
		ticker := time.NewTicker(cfg.ReconnectInterval)
		defer ticker.Stop()
		backoff := cfg.ReconnectInterval
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if node.PeerCount() >= minPeerTarget(cfg, len(bootstrapNodes)) {
					continue
				}
				ok := redial(ctx, node, bootstrapNodes, rnd)
				if ok {
					backoff = cfg.ReconnectInterval
					continue
				}
				backoff *= 2
				if backoff > cfg.ReconnectBackoffMax {
					backoff = cfg.ReconnectBackoffMax
				}
				time.Sleep(backoff)
			}
		}
	}()
}

func (g *realBackend) stopPeerMaintenance() {
	g.mu.Lock()
	cancel := g.maintainCtl
	g.maintainCtl = nil
	g.mu.Unlock()
	if cancel != nil {
		cancel()
		g.maintainWG.Wait()
	}
}

func minPeerTarget(cfg Config, bootstrapCount int) int {
	target := cfg.MinPeers
	if target <= 0 {
		target = 1
	}
	if bootstrapCount > 0 && target > bootstrapCount {
		target = bootstrapCount
	}
	return target
}

func redial(ctx context.Context, node *wakuNode.WakuNode, bootstrapNodes []string, rnd *rand.Rand) bool {
	rnd.Shuffle(len(bootstrapNodes), func(i, j int) { bootstrapNodes[i], bootstrapNodes[j] = bootstrapNodes[j], bootstrapNodes[i] })
	success := false
	for _, addr := range bootstrapNodes {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if err := node.DialPeer(ctx, addr); err == nil {
			success = true
		} else {
			slog.Warn("wakuchannel: peer redial failed", "peer_addr", addr, "reason", err.Error())
		}
	}
	return success
}

func newInMemoryMessageProvider() (*persistence.DBStore, error) {
	db, err := sqlite.NewDB(":memory:", utils.Logger())
	if err != nil {
		return nil, err
	}
	return persistence.NewDBStore(
		prometheus.DefaultRegisterer,
		utils.Logger(),
		persistence.WithDB(db),
		persistence.WithMigrations(sqlite.Migrations),
	)
}

// realSocket is the go-waku-backed ports.ChannelSocket: Send publishes,
// and a background goroutine drains the relay subscription into the
// registered receive handler.
type realSocket struct {
	node    *wakuNode.WakuNode
	topic   string
	selfURI string
	peerURI string

	mu     sync.Mutex
	onRecv func([]byte)
	onShut func(error)
	closed bool
	subs   []*relay.Subscription
}

func newRealSocket(node *wakuNode.WakuNode, topic, selfURI, peerURI string, subs []*relay.Subscription) *realSocket {
	s := &realSocket{node: node, topic: topic, selfURI: selfURI, peerURI: peerURI, subs: subs}
	for _, sub := range subs {
		go s.drain(sub)
	}
	return s
}

func (s *realSocket) drain(sub *relay.Subscription) {
	for env := range sub.Ch {
		if env == nil || env.Message() == nil {
			continue
		}
		var f frame
		if err := json.Unmarshal(env.Message().Payload, &f); err != nil || f.SenderURI == s.selfURI {
			continue
		}
		s.mu.Lock()
		handler := s.onRecv
		s.mu.Unlock()
		if handler != nil {
			handler(f.Payload)
		}
	}
}

func (s *realSocket) Send(payload []byte) error {
	body, err := json.Marshal(frame{SenderURI: s.selfURI, Payload: payload})
	if err != nil {
		return err
	}
	ts := time.Now().UnixNano()
	wm := &wpb.WakuMessage{Payload: body, ContentTopic: s.topic, Timestamp: &ts}
	_, err = s.node.Relay().Publish(context.Background(), wm, relay.WithPubSubTopic(dhtPubsubTopic))
	return err
}

func (s *realSocket) OnReceive(handler func(frame []byte)) {
	s.mu.Lock()
	s.onRecv = handler
	s.mu.Unlock()
}

func (s *realSocket) OnShutdown(handler func(err error)) {
	s.mu.Lock()
	s.onShut = handler
	s.mu.Unlock()
}

func (s *realSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	shut := s.onShut
	subs := s.subs
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if shut != nil {
		shut(nil)
	}
	return nil
}

func (s *realSocket) PeerURI() string { return s.peerURI }

var _ ports.ChannelSocket = (*realSocket)(nil)
