package linkdevice

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sync"
	"time"

	"github.com/meshid-core/core/internal/identitycore/archive"
	"github.com/meshid-core/core/internal/identitycore/certchain"
	"github.com/meshid-core/core/internal/ports"
	"github.com/meshid-core/core/pkg/models"
)

// OpTimeout bounds how long a link-device session may remain open before
// it sinks to TIMEOUT (spec.md section 4.4.3, OP_TIMEOUT = 5 min).
const OpTimeout = 5 * time.Minute

var (
	ErrAlreadyLinking = errors.New("a link-device session is already active")
	ErrNotAwaitingAuth = errors.New("session is not awaiting authentication")
)

// Notifier receives the AddDeviceStateChanged/DeviceAuthStateChanged
// events of spec.md section 6.5.
type Notifier interface {
	Emit(models.Event)
}

// ArchiveLoader hands off a fully received archive to the rest of the
// account-manager once §4.4.6's archive-loaded path can run.
type ArchiveLoader func(models.AccountArchive) error

// NewDeviceSession drives the new-device (importer) side of spec.md
// section 4.4.3's protocol.
type NewDeviceSession struct {
	mu      sync.Mutex
	state   models.LinkDeviceState
	opID    string
	tmpUserID string
	socket  ports.ChannelSocket
	notify  Notifier
	timer   *time.Timer
	onArchive ArchiveLoader
	transferred bool
	lastAuthScheme string
}

// StartNewDeviceSession implements step 1-3 of the new-device side: an
// ephemeral identity, a six-digit opId, a published jami-auth:// URI, and
// a channel handler bound to maxOpenChannels=1.
func StartNewDeviceSession(ctx context.Context, channels ports.ChannelService, notify Notifier, onArchive ArchiveLoader) (*NewDeviceSession, string, error) {
	_, caCert, err := certchain.GenerateCA()
	if err != nil {
		return nil, "", err
	}
	tmpPub, tmpPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, "", err
	}
	tmpAccountCert, err := certchain.IssueAccount(tmpPriv, caCert, tmpPub)
	if err != nil {
		return nil, "", err
	}
	opID, err := generateOpID()
	if err != nil {
		return nil, "", err
	}

	s := &NewDeviceSession{
		state:     models.LinkStateHandshake,
		opID:      opID,
		tmpUserID: tmpAccountCert.PublicKeyID,
		notify:    notify,
		onArchive: onArchive,
	}

	accepted := false
	channels.OnIncomingChannel(channelSubProtocol(opID), func(socket ports.ChannelSocket) {
		s.mu.Lock()
		if accepted {
			s.mu.Unlock()
			socket.Close()
			return
		}
		accepted = true
		s.socket = socket
		s.armTimerLocked()
		s.mu.Unlock()

		socket.OnReceive(s.onReceive)
		socket.OnShutdown(s.onShutdown)
	})

	uri := BuildURI(s.tmpUserID, opID)
	notify.Emit(models.Event{Kind: models.EventAddDeviceStateChanged, Payload: map[string]interface{}{
		"token": uri,
	}})
	return s, uri, nil
}

func (s *NewDeviceSession) armTimerLocked() {
	s.timer = time.AfterFunc(OpTimeout, s.onTimeout)
}

func (s *NewDeviceSession) onTimeout() {
	s.mu.Lock()
	if s.state == models.LinkStateDone || s.state == models.LinkStateErr {
		s.mu.Unlock()
		return
	}
	s.state = models.LinkStateTimeout
	socket := s.socket
	s.mu.Unlock()

	if socket != nil {
		frame, _ := encodeMessage(map[string]string{models.LinkPayloadStateMsg: "TIMEOUT"})
		_ = socket.Send(frame)
		socket.Close()
	}
	s.emitDone(models.AuthErrorTimeout)
}

func (s *NewDeviceSession) onShutdown(err error) {
	s.mu.Lock()
	transferred := s.transferred
	state := s.state
	s.mu.Unlock()
	if transferred {
		return
	}
	if state == models.LinkStateDone {
		return
	}
	result := models.AuthErrorUnknown
	if err == nil {
		result = models.AuthErrorNone
	}
	s.emitDone(result)
}

func (s *NewDeviceSession) emitDone(result models.AuthError) {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.state != models.LinkStateDone {
		s.state = models.LinkStateDone
	}
	s.mu.Unlock()
	s.notify.Emit(models.Event{Kind: models.EventAddDeviceStateChanged, Payload: map[string]interface{}{
		"done":   true,
		"result": string(result),
	}})
}

func (s *NewDeviceSession) onReceive(frame []byte) {
	payload, err := decodeMessage(frame)
	if err != nil {
		s.mu.Lock()
		s.state = models.LinkStateErr
		socket := s.socket
		s.mu.Unlock()
		if socket != nil {
			socket.Close()
		}
		s.emitDone(models.AuthErrorUnknown)
		return
	}

	if scheme, ok := payload[models.LinkPayloadAuthScheme]; ok {
		s.mu.Lock()
		if models.ValidateLinkDeviceTransition(s.state, models.LinkStateAuth) {
			s.state = models.LinkStateAuth
		}
		s.lastAuthScheme = scheme
		peerURI := ""
		if s.socket != nil {
			peerURI = s.socket.PeerURI()
		}
		s.mu.Unlock()
		s.notify.Emit(models.Event{Kind: models.EventDeviceAuthStateChanged, Payload: map[string]interface{}{
			"peer_id":     peerURI,
			"auth_scheme": scheme,
		}})
		return
	}

	if correct, ok := payload[models.LinkPayloadPasswordCorrect]; ok && correct == "false" {
		canRetry := payload[models.LinkPayloadCanRetry] == "true"
		s.mu.Lock()
		if canRetry {
			// self-loop: remains AUTH per the state table, awaits another attempt.
			s.notify.Emit(models.Event{Kind: models.EventDeviceAuthStateChanged, Payload: map[string]interface{}{
				"auth_error": string(models.AuthErrorInvalidCredentials),
			}})
			s.mu.Unlock()
			return
		}
		if models.ValidateLinkDeviceTransition(s.state, models.LinkStateAuthError) {
			s.state = models.LinkStateAuthError
		}
		s.mu.Unlock()
		s.emitDone(models.AuthErrorAuthError)
		return
	}

	if encoded, ok := payload[models.LinkPayloadAccData]; ok {
		s.handleAccData(encoded)
		return
	}

	if stateMsg, ok := payload[models.LinkPayloadStateMsg]; ok && stateMsg == "CANCELED" {
		s.mu.Lock()
		s.state = models.LinkStateCanceled
		s.mu.Unlock()
		s.emitDone(models.AuthErrorCanceled)
	}
}

func (s *NewDeviceSession) handleAccData(encoded string) {
	a, err := archive.Deserialize([]byte(encoded))
	if err != nil {
		s.mu.Lock()
		s.state = models.LinkStateErr
		s.mu.Unlock()
		s.emitDone(models.AuthErrorUnknown)
		return
	}

	s.mu.Lock()
	if models.ValidateLinkDeviceTransition(s.state, models.LinkStateData) {
		s.state = models.LinkStateData
	}
	s.mu.Unlock()

	if s.onArchive != nil {
		if err := s.onArchive(a); err != nil {
			s.emitDone(models.AuthErrorUnknown)
			return
		}
	}

	s.mu.Lock()
	s.transferred = true
	socket := s.socket
	s.mu.Unlock()
	if socket != nil {
		socket.Close()
	}
	s.emitDone(models.AuthErrorNone)
}

// ProvideAccountAuthentication implements step 5: the user supplies the
// account password and it is forwarded to the source device. The state
// stays AUTH (self-loop) until the source confirms or rejects it.
func (s *NewDeviceSession) ProvideAccountAuthentication(password string) error {
	s.mu.Lock()
	if s.state != models.LinkStateAuth {
		s.mu.Unlock()
		return ErrNotAwaitingAuth
	}
	socket := s.socket
	s.mu.Unlock()
	if socket == nil {
		return ErrNotAwaitingAuth
	}
	frame, err := encodeMessage(map[string]string{models.LinkPayloadPassword: password})
	if err != nil {
		return err
	}
	return socket.Send(frame)
}

func (s *NewDeviceSession) State() models.LinkDeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
