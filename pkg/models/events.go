package models

// EventKind enumerates the events emitted to the embedding application
// (spec.md section 6.5).
type EventKind string

const (
	EventContactAdded                EventKind = "contactAdded"
	EventContactRemoved              EventKind = "contactRemoved"
	EventTrustRequestIncoming        EventKind = "trustRequestIncoming"
	EventKnownDevicesChanged         EventKind = "knownDevicesChanged"
	EventCertificateStateChanged     EventKind = "certificateStateChanged"
	EventAddDeviceStateChanged       EventKind = "addDeviceStateChanged"
	EventDeviceAuthStateChanged      EventKind = "deviceAuthStateChanged"
	EventConversationReady           EventKind = "conversationReady"
	EventConversationRemoved         EventKind = "conversationRemoved"
	EventConversationRequestReceived EventKind = "conversationRequestReceived"
	EventConversationRequestDeclined EventKind = "conversationRequestDeclined"
	EventConversationSyncFinished    EventKind = "conversationSyncFinished"
	EventConversationLoaded         EventKind = "conversationLoaded"
	EventMessagesFound               EventKind = "messagesFound"
	EventAccountMessageStatusChanged EventKind = "accountMessageStatusChanged"
	EventNeedsHost                   EventKind = "needsHost"
	EventMigrationEnded              EventKind = "migrationEnded"
	EventNearbyPeerNotification      EventKind = "nearbyPeerNotification"
	EventRegisteredNameFound         EventKind = "registeredNameFound"
	EventNameRegistrationEnded       EventKind = "nameRegistrationEnded"
)

// Event is a single emitted notification. Payload is kind-specific and
// left as a map so new kinds do not require touching every subscriber.
type Event struct {
	Kind    EventKind              `json:"kind"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}
