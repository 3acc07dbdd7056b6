package models

// Contact is the per-peer trust record described in spec.md section 3.
// AddedAt/RemovedAt are unix-epoch seconds so the merge rule (max of each
// timestamp) is well-defined across devices with independent clocks.
type Contact struct {
	AddedAt   int64 `json:"added_ts"`
	RemovedAt int64 `json:"removed_ts"`
	Confirmed bool  `json:"confirmed_bool"`
	Banned    bool  `json:"banned_bool"`
}

// IsActive reports whether the contact is currently considered present:
// the most recent add postdates the most recent removal.
func (c Contact) IsActive() bool {
	return c.AddedAt > c.RemovedAt
}

// IsBanned reports the derived predicate from spec.md section 3:
// !isActive && banned.
func (c Contact) IsBanned() bool {
	return !c.IsActive() && c.Banned
}

// MergeContact applies the merge rule of spec.md section 3: max of each
// timestamp, logical-OR confirmed, banned follows the later removed.
// The operation is commutative and idempotent: MergeContact(c, c) == c.
func MergeContact(local, incoming Contact) Contact {
	merged := Contact{
		AddedAt:   maxInt64(local.AddedAt, incoming.AddedAt),
		Confirmed: local.Confirmed || incoming.Confirmed,
	}
	if incoming.RemovedAt > local.RemovedAt {
		merged.RemovedAt = incoming.RemovedAt
		merged.Banned = incoming.Banned
	} else {
		merged.RemovedAt = local.RemovedAt
		merged.Banned = local.Banned
	}
	return merged
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// ContactTransitionChanged reports whether merging produced an observable
// change per spec.md section 4.3: isActive, isBanned, or confirmed
// transitioned.
func ContactTransitionChanged(before, after Contact) bool {
	return before.IsActive() != after.IsActive() ||
		before.IsBanned() != after.IsBanned() ||
		before.Confirmed != after.Confirmed
}

// TrustRequest is an incoming contact-trust request, keyed by the sender
// account ID (spec.md section 3).
type TrustRequest struct {
	FromDevice string `json:"from_device"`
	ReceivedAt int64  `json:"received_ts"`
	Payload    []byte `json:"payload_bytes"`
}

// KnownDevice is a roster entry for one of the account's own devices
// (spec.md section 3). Certificate is the device certificate as verified
// against the account trust anchor.
type KnownDevice struct {
	Certificate Certificate `json:"certificate"`
	DisplayName string      `json:"display_name"`
	LastSyncAt  int64       `json:"last_sync_ts"`
}

// DeviceSync is the snapshot produced by ContactList.getSyncData (section
// 4.3): a bounded view of the account's trust graph sent to peer devices.
type DeviceSync struct {
	Date           int64                   `json:"date"`
	Peers          map[string]Contact      `json:"peers"`
	DevicesKnown   map[string]string       `json:"devices_known"`
	TrustRequests  map[string]TrustRequest `json:"trust_requests"`
}
