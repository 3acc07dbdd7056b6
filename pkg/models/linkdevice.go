package models

// LinkDeviceState is the five-state machine of spec.md section 4.4.3,
// shared by both the new-device (importer) and source-device (exporter)
// sides, plus its error sinks.
type LinkDeviceState string

const (
	LinkStateHandshake LinkDeviceState = "HANDSHAKE"
	LinkStateEST       LinkDeviceState = "EST"
	LinkStateAuth      LinkDeviceState = "AUTH"
	LinkStateData      LinkDeviceState = "DATA"
	LinkStateDone      LinkDeviceState = "DONE"
	LinkStateErr       LinkDeviceState = "ERR"
	LinkStateAuthError LinkDeviceState = "AUTH_ERROR"
	LinkStateTimeout   LinkDeviceState = "TIMEOUT"
	LinkStateCanceled  LinkDeviceState = "CANCELED"
)

// linkDeviceTransitions enumerates the edges legal per spec.md section
// 4.4.3; anything not listed here is rejected by ValidateLinkDeviceTransition.
var linkDeviceTransitions = map[LinkDeviceState]map[LinkDeviceState]bool{
	LinkStateHandshake: {LinkStateEST: true, LinkStateAuth: true, LinkStateErr: true, LinkStateTimeout: true, LinkStateCanceled: true},
	LinkStateEST:       {LinkStateAuth: true, LinkStateErr: true, LinkStateTimeout: true, LinkStateCanceled: true},
	LinkStateAuth:      {LinkStateAuth: true, LinkStateData: true, LinkStateAuthError: true, LinkStateErr: true, LinkStateTimeout: true, LinkStateCanceled: true},
	LinkStateData:      {LinkStateDone: true, LinkStateErr: true, LinkStateTimeout: true, LinkStateCanceled: true},
	LinkStateDone:      {},
	LinkStateErr:       {},
	LinkStateAuthError: {LinkStateDone: true},
	LinkStateTimeout:   {LinkStateDone: true},
	LinkStateCanceled:  {LinkStateDone: true},
}

// ValidateLinkDeviceTransition reports whether moving from `from` to `to`
// is a legal edge of the state machine in spec.md section 4.4.3.
func ValidateLinkDeviceTransition(from, to LinkDeviceState) bool {
	edges, ok := linkDeviceTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// LinkDeviceMessageSchemeID is the only accepted wire scheme (spec.md
// section 4.4.3): scheme_id = 0.
const LinkDeviceMessageSchemeID = 0

// LinkDeviceMessage is the tagged record exchanged over the auth:<opId>
// control channel.
type LinkDeviceMessage struct {
	SchemeID byte              `json:"scheme_id"`
	Payload  map[string]string `json:"payload"`
}

// Recognized payload keys (spec.md section 4.4.3).
const (
	LinkPayloadAuthScheme      = "authScheme"
	LinkPayloadPassword        = "password"
	LinkPayloadPasswordCorrect = "passwordCorrect"
	LinkPayloadCanRetry        = "canRetry"
	LinkPayloadAccData         = "accData"
	LinkPayloadStateMsg        = "stateMsg"
)

// AuthScheme values carried under LinkPayloadAuthScheme.
const (
	AuthSchemeNone     = "none"
	AuthSchemePassword = "password"
)

// AuthError is the taxonomy of spec.md section 7 for
// AccountManager.initAuthentication and the link-device flow.
type AuthError string

const (
	AuthErrorInvalidArguments AuthError = "INVALID_ARGUMENTS"
	AuthErrorNetwork          AuthError = "NETWORK"
	AuthErrorTimeout          AuthError = "TIMEOUT"
	AuthErrorAuthError        AuthError = "AUTH_ERROR"
	AuthErrorServerError      AuthError = "SERVER_ERROR"
	AuthErrorUnknown          AuthError = "UNKNOWN"
	AuthErrorNone             AuthError = "NONE"
	AuthErrorCanceled         AuthError = "CANCELED"
	AuthErrorInvalidCredentials AuthError = "invalid_credentials"
)

// AddDeviceError is returned synchronously by addDevice (spec.md section 7).
type AddDeviceError string

const (
	AddDeviceErrorInvalidURI      AddDeviceError = "INVALID_URI"
	AddDeviceErrorAlreadyLinking  AddDeviceError = "ALREADY_LINKING"
	AddDeviceErrorGeneric         AddDeviceError = "GENERIC"
)

// CredentialsScheme selects the initAuthentication credential variant
// (spec.md section 4.4).
type CredentialsScheme string

const (
	CredentialsSchemeFile     CredentialsScheme = "file"
	CredentialsSchemeP2P      CredentialsScheme = "p2p"
	CredentialsSchemePassword CredentialsScheme = "password"
	CredentialsSchemeServer   CredentialsScheme = "server"
)

// Credentials is the union of credential payloads accepted by
// initAuthentication.
type Credentials struct {
	Scheme           CredentialsScheme `json:"scheme"`
	Path             string            `json:"path,omitempty"`
	Token            string            `json:"token,omitempty"`
	Password         string            `json:"password,omitempty"`
	ExistingIdentity *Identity         `json:"existing_identity,omitempty"`
	Username         string            `json:"username,omitempty"`
}

// AddDeviceStateChanged is the new-device / source-device progress event
// carried alongside EventAddDeviceStateChanged / EventDeviceAuthStateChanged.
type AddDeviceStateChanged struct {
	State       LinkDeviceState `json:"state"`
	Token       string          `json:"token,omitempty"`
	PeerID      string          `json:"peer_id,omitempty"`
	AuthScheme  string          `json:"auth_scheme,omitempty"`
	AuthErrorID AuthError       `json:"auth_error,omitempty"`
	RemoteAddr  string          `json:"remote_addr,omitempty"`
	Done        bool            `json:"done,omitempty"`
	Result      AuthError       `json:"result,omitempty"`
}
