// Package syncmodule implements spec.md section 4.6: a per-device
// channel-socket cache and a framed SyncMsg multiplexer that caps every
// wire chunk at 64KiB and dedups repeat deliveries before handing each
// partition off to ContactList (the device_sync partition) or the
// ConversationModule (the five conversation partitions).
//
// Grounded on internal/waku/node.go's Status/SubscribePrivate connection
// state machine (the socket cache plays the same "resolve once, reuse"
// role node.go's selfID/gw fields play for a single implicit peer) and
// internal/storage/message_store.go's copy-on-write-before-persist
// pattern, generalized here to copy-before-send so a caller's map is
// never mutated by the framer.
package syncmodule

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/meshid-core/core/internal/contactlist"
	"github.com/meshid-core/core/internal/ports"
	"github.com/meshid-core/core/pkg/models"
)

// SyncSubProtocol is the channel sub-protocol a device listens on for
// incoming sync frames (spec.md section 4.6).
const SyncSubProtocol = "application/x-meshid-sync"

// maxFramePayload bounds every wire chunk's payload so a single large
// conv_infos/preferences partition cannot stall a socket behind one
// oversized write.
const maxFramePayload = 64 * 1024

// dedupTTL bounds how long a delivered frame's digest is remembered; a
// waku relay redelivery past this window is treated as new, matching
// the DeviceSync freshness gate's own tolerance for re-sync.
const dedupTTL = 5 * time.Minute

// partition names each independently-framed slice of a SyncMsg.
type partitionKind uint8

const (
	partitionDeviceSync partitionKind = iota
	partitionConvInfos
	partitionConvRequests
	partitionPreferences
	partitionLastDisplayed
	partitionMessageStatus
)

// ConversationSync is the subset of usecase.Module this package drives;
// declared locally so syncmodule depends on an interface, not the
// concrete conversation package, matching ports' transport-neutral style.
type ConversationSync interface {
	OnSyncData(ctx context.Context, msg models.SyncMsg, peerURI, deviceID string)
}

// ContactSync is the subset of contactlist.ContactList this package
// drives for the device_sync partition.
type ContactSync interface {
	OnSyncData(sync models.DeviceSync, fromDevice string, resolve contactlist.ResolveCertificate) error
}

type reassembly struct {
	total   uint16
	chunks  map[uint16][]byte
	started time.Time
}

// Module is the socket cache plus framer/dispatcher.
type Module struct {
	channels ports.ChannelService
	contacts ContactSync
	conv     ConversationSync
	resolve  contactlist.ResolveCertificate

	// PeerURIForDevice resolves the account URI that owns a given device
	// id, used to populate the peerURI argument ConversationModule's
	// OnSyncData needs for its membership/ban checks. Nil means "the
	// device id doubles as its owner's account URI".
	PeerURIForDevice func(deviceID string) string

	mu      sync.Mutex
	sockets map[string]ports.ChannelSocket // deviceID -> socket

	reassemblyMu sync.Mutex
	reassemblies map[string]*reassembly // deviceID|partition -> in-progress buffer

	dedup *ttlcache.Cache[string, struct{}]
}

func New(channels ports.ChannelService, contacts ContactSync, conv ConversationSync, resolve contactlist.ResolveCertificate) *Module {
	dedup := ttlcache.New[string, struct{}](ttlcache.WithTTL[string, struct{}](dedupTTL))
	go dedup.Start()

	m := &Module{
		channels:     channels,
		contacts:     contacts,
		conv:         conv,
		resolve:      resolve,
		sockets:      make(map[string]ports.ChannelSocket),
		reassemblies: make(map[string]*reassembly),
		dedup:        dedup,
	}
	channels.OnIncomingChannel(SyncSubProtocol, m.onIncoming)
	return m
}

// Close stops the dedup cache's background eviction goroutine.
func (m *Module) Close() {
	m.dedup.Stop()
}

func (m *Module) onIncoming(sock ports.ChannelSocket) {
	deviceID := sock.PeerURI()
	m.mu.Lock()
	m.sockets[deviceID] = sock
	m.mu.Unlock()

	sock.OnReceive(func(frame []byte) { m.handleFrame(deviceID, frame) })
	sock.OnShutdown(func(error) {
		m.mu.Lock()
		delete(m.sockets, deviceID)
		m.mu.Unlock()
	})
}

// socketFor returns a cached socket for deviceID, opening a fresh one
// through channels.RequestChannel on a cache miss.
func (m *Module) socketFor(ctx context.Context, peerURI, deviceID string) (ports.ChannelSocket, error) {
	m.mu.Lock()
	sock, ok := m.sockets[deviceID]
	m.mu.Unlock()
	if ok {
		return sock, nil
	}

	sock, err := m.channels.RequestChannel(ctx, peerURI, SyncSubProtocol)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sockets[deviceID] = sock
	m.mu.Unlock()
	sock.OnReceive(func(frame []byte) { m.handleFrame(deviceID, frame) })
	sock.OnShutdown(func(error) {
		m.mu.Lock()
		delete(m.sockets, deviceID)
		m.mu.Unlock()
	})
	return sock, nil
}

// Send multiplexes every non-empty partition of msg to peerURI/deviceID,
// chunking each partition's JSON encoding to maxFramePayload bytes.
func (m *Module) Send(ctx context.Context, peerURI, deviceID string, msg models.SyncMsg) error {
	sock, err := m.socketFor(ctx, peerURI, deviceID)
	if err != nil {
		return err
	}

	parts, err := encodePartitions(msg)
	if err != nil {
		return err
	}
	for kind, body := range parts {
		if err := sendPartition(sock, kind, body); err != nil {
			return err
		}
	}
	return nil
}

func encodePartitions(msg models.SyncMsg) (map[partitionKind][]byte, error) {
	out := make(map[partitionKind][]byte)
	add := func(kind partitionKind, v interface{}) error {
		if v == nil {
			return nil
		}
		body, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out[kind] = body
		return nil
	}
	if msg.DeviceSync != nil {
		if err := add(partitionDeviceSync, msg.DeviceSync); err != nil {
			return nil, err
		}
	}
	if len(msg.ConvInfos) > 0 {
		if err := add(partitionConvInfos, msg.ConvInfos); err != nil {
			return nil, err
		}
	}
	if len(msg.ConvRequests) > 0 {
		if err := add(partitionConvRequests, msg.ConvRequests); err != nil {
			return nil, err
		}
	}
	if len(msg.Preferences) > 0 {
		if err := add(partitionPreferences, msg.Preferences); err != nil {
			return nil, err
		}
	}
	if len(msg.LastDisplayed) > 0 {
		if err := add(partitionLastDisplayed, msg.LastDisplayed); err != nil {
			return nil, err
		}
	}
	if len(msg.MessageStatus) > 0 {
		if err := add(partitionMessageStatus, msg.MessageStatus); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// sendPartition splits body across one or more <=maxFramePayload chunks,
// each prefixed with a 5-byte header: partition kind, sequence, total.
func sendPartition(sock ports.ChannelSocket, kind partitionKind, body []byte) error {
	total := (len(body) + maxFramePayload - 1) / maxFramePayload
	if total == 0 {
		total = 1
	}
	if total > 0xFFFF {
		return errors.New("syncmodule: partition too large to frame")
	}
	for seq := 0; seq < total; seq++ {
		start := seq * maxFramePayload
		end := start + maxFramePayload
		if end > len(body) {
			end = len(body)
		}
		frame := make([]byte, 5+end-start)
		frame[0] = byte(kind)
		binary.BigEndian.PutUint16(frame[1:3], uint16(seq))
		binary.BigEndian.PutUint16(frame[3:5], uint16(total))
		copy(frame[5:], body[start:end])
		if err := sock.Send(frame); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) handleFrame(deviceID string, frame []byte) {
	if len(frame) < 5 {
		return
	}
	digest := sha256.Sum256(frame)
	key := hex.EncodeToString(digest[:])
	if m.dedup.Has(key) {
		return
	}
	m.dedup.Set(key, struct{}{}, ttlcache.DefaultTTL)

	kind := partitionKind(frame[0])
	seq := binary.BigEndian.Uint16(frame[1:3])
	total := binary.BigEndian.Uint16(frame[3:5])
	payload := frame[5:]

	body, complete := m.reassemble(deviceID, kind, seq, total, payload)
	if !complete {
		return
	}
	m.dispatch(deviceID, kind, body)
}

func (m *Module) reassemble(deviceID string, kind partitionKind, seq, total uint16, payload []byte) ([]byte, bool) {
	bufKey := reassemblyKey(deviceID, kind)

	m.reassemblyMu.Lock()
	defer m.reassemblyMu.Unlock()

	r, ok := m.reassemblies[bufKey]
	if !ok {
		r = &reassembly{total: total, chunks: make(map[uint16][]byte, total), started: time.Now()}
		m.reassemblies[bufKey] = r
	}
	r.chunks[seq] = append([]byte(nil), payload...)
	if uint16(len(r.chunks)) < r.total {
		return nil, false
	}

	out := make([]byte, 0, int(r.total)*maxFramePayload)
	for i := uint16(0); i < r.total; i++ {
		out = append(out, r.chunks[i]...)
	}
	delete(m.reassemblies, bufKey)
	return out, true
}

func reassemblyKey(deviceID string, kind partitionKind) string {
	return deviceID + "|" + string(rune('0'+kind))
}

func (m *Module) dispatch(deviceID string, kind partitionKind, body []byte) {
	ctx := context.Background()
	peerURI := deviceID
	if m.PeerURIForDevice != nil {
		peerURI = m.PeerURIForDevice(deviceID)
	}

	switch kind {
	case partitionDeviceSync:
		var sync models.DeviceSync
		if err := json.Unmarshal(body, &sync); err != nil || m.contacts == nil {
			return
		}
		m.contacts.OnSyncData(sync, deviceID, m.resolve)
	case partitionConvInfos:
		var v map[string]models.ConvInfo
		if err := json.Unmarshal(body, &v); err != nil || m.conv == nil {
			return
		}
		m.conv.OnSyncData(ctx, models.SyncMsg{ConvInfos: v}, peerURI, deviceID)
	case partitionConvRequests:
		var v map[string]models.ConversationRequest
		if err := json.Unmarshal(body, &v); err != nil || m.conv == nil {
			return
		}
		m.conv.OnSyncData(ctx, models.SyncMsg{ConvRequests: v}, peerURI, deviceID)
	case partitionPreferences:
		var v map[string]map[string]string
		if err := json.Unmarshal(body, &v); err != nil || m.conv == nil {
			return
		}
		m.conv.OnSyncData(ctx, models.SyncMsg{Preferences: v}, peerURI, deviceID)
	case partitionLastDisplayed:
		var v map[string]models.LastDisplayedEntry
		if err := json.Unmarshal(body, &v); err != nil || m.conv == nil {
			return
		}
		m.conv.OnSyncData(ctx, models.SyncMsg{LastDisplayed: v}, peerURI, deviceID)
	case partitionMessageStatus:
		var v map[string]models.MessageStatus
		if err := json.Unmarshal(body, &v); err != nil || m.conv == nil {
			return
		}
		m.conv.OnSyncData(ctx, models.SyncMsg{MessageStatus: v}, peerURI, deviceID)
	}
}
