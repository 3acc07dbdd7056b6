// Package ports declares the transport-neutral collaborator interfaces of
// spec.md section 6: a distributed hash table, a channel-socket transport,
// and a conversation repository store. Grounded on
// internal/domains/contracts/ports/contracts.go's port-interface pattern.
package ports

import (
	"context"
	"crypto/ed25519"
)

// DhtService is the distributed-hash-table collaborator used for
// announcements, trust requests, and legacy archive import.
type DhtService interface {
	Get(ctx context.Context, key string) ([][]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Listen(ctx context.Context, key string, onValue func([]byte)) (cancel func(), err error)
}

// ChannelService opens and accepts peer-to-peer channel sockets scoped to
// a named sub-protocol.
type ChannelService interface {
	RequestChannel(ctx context.Context, peerURI, subProtocol string) (ChannelSocket, error)
	OnIncomingChannel(subProtocol string, handler func(ChannelSocket))
}

// ChannelSocket is a single established channel.
type ChannelSocket interface {
	Send(frame []byte) error
	OnReceive(handler func(frame []byte))
	OnShutdown(handler func(err error))
	Close() error
	PeerURI() string
}

// RepoStore is the conversation history backing store. Production wiring
// against a real git backend is out of scope (spec.md section 1); an
// in-memory implementation satisfies it for tests.
type RepoStore interface {
	Clone(ctx context.Context, convID string, socket ChannelSocket) error
	Commit(ctx context.Context, convID string, payload []byte, signer ed25519.PrivateKey) (commitID string, err error)
	Fetch(ctx context.Context, convID string, socket ChannelSocket) error
	Merge(ctx context.Context, convID string, commits [][]byte) error
	Erase(ctx context.Context, convID string) error
}
