package models

// ConvInfo is the replicated per-conversation metadata of spec.md section
// 3. RemovedAt > 0 marks soft-deletion (the device left); ErasedAt > 0
// allows physical repo deletion once all still-joined peers have synced.
type ConvInfo struct {
	ID            string   `json:"id"`
	CreatedAt     int64    `json:"created_ts"`
	Members       []string `json:"members"`
	RemovedAt     int64    `json:"removed_ts,omitempty"`
	ErasedAt      int64    `json:"erased_ts,omitempty"`
	LastDisplayed string   `json:"last_displayed,omitempty"`
	BannedDevices []string `json:"banned_devices,omitempty"`
}

func (c ConvInfo) IsRemoved() bool { return c.RemovedAt > 0 }
func (c ConvInfo) IsErased() bool  { return c.ErasedAt > 0 }

// IsMember reports whether uri appears in Members.
func (c ConvInfo) IsMember(uri string) bool {
	for _, m := range c.Members {
		if m == uri {
			return true
		}
	}
	return false
}

// IsDeviceBanned reports whether deviceID appears in BannedDevices.
func (c ConvInfo) IsDeviceBanned(deviceID string) bool {
	for _, d := range c.BannedDevices {
		if d == deviceID {
			return true
		}
	}
	return false
}

// ConversationRequest is an incoming invite (spec.md section 3).
type ConversationRequest struct {
	ConversationID string            `json:"conversation_id"`
	From           string            `json:"from"`
	ReceivedAt     int64             `json:"received_ts"`
	DeclinedAt     int64             `json:"declined_ts,omitempty"`
	Metadata       map[string]string `json:"metadatas_kv"`
}

func (r ConversationRequest) IsDeclined() bool { return r.DeclinedAt > 0 }

// SyncMsg is the union snapshot of spec.md section 3/4.6: a compact,
// size-capped, framed message carrying the four sync partitions plus
// device sync and message-status state.
type SyncMsg struct {
	DeviceSync    *DeviceSync                    `json:"device_sync,omitempty"`
	ConvInfos     map[string]ConvInfo            `json:"conv_infos,omitempty"`
	ConvRequests  map[string]ConversationRequest `json:"conv_requests,omitempty"`
	Preferences   map[string]map[string]string   `json:"preferences,omitempty"`
	LastDisplayed map[string]LastDisplayedEntry  `json:"last_displayed,omitempty"`
	MessageStatus map[string]MessageStatus       `json:"message_status,omitempty"`
}

// LastDisplayedEntry carries the epoch alongside the value so the
// newer-epoch-wins tie-break (DESIGN.md, Open Question 1) can be applied.
type LastDisplayedEntry struct {
	MessageID string `json:"message_id"`
	Epoch     int64  `json:"epoch"`
}

// PendingFetchState is the per-conversation in-flight clone/fetch
// bookkeeping of spec.md section 4.5.1.
type PendingFetchState struct {
	ConversationID string
	Ready          bool
	Cloning        bool
	DeviceID       string
	RemoveID       string
	Preferences    map[string]string
	LastDisplayed  string
	ConnectingTo   map[string]struct{}
}
