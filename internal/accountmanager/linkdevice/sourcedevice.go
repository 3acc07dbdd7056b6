package linkdevice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/meshid-core/core/internal/identitycore/archive"
	"github.com/meshid-core/core/internal/ports"
	"github.com/meshid-core/core/pkg/models"
)

// MaxSourceTries bounds password attempts counted on the source device
// only, never on the new device (spec.md section 4.4.3).
const MaxSourceTries = 3

var (
	ErrInvalidURI          = errors.New("invalid link-device uri")
	ErrNotAwaitingConfirm  = errors.New("session is not awaiting user confirmation")
)

// ArchiveOpener resolves the source device's own on-disk archive given an
// attempted password; it returns the re-serializable AccountArchive on a
// correct password.
type ArchiveOpener func(password string) (models.AccountArchive, error)

// SourceDeviceSession drives the source-device (exporter) side of
// spec.md section 4.4.3.
type SourceDeviceSession struct {
	mu         sync.Mutex
	state      models.LinkDeviceState
	token      string
	socket     ports.ChannelSocket
	notify     Notifier
	timer      *time.Timer
	numTries   int
	opener     ArchiveOpener
	authScheme string
	transferred bool
}

// StartSourceDeviceSession implements steps 1-2: parse the URI, open a
// channel to auth:<opId>, and arm the shared OP_TIMEOUT.
func StartSourceDeviceSession(ctx context.Context, channels ports.ChannelService, uri string, notify Notifier, opener ArchiveOpener) (*SourceDeviceSession, error) {
	tmpUserID, opID, err := ParseURI(uri)
	if err != nil {
		return nil, ErrInvalidURI
	}

	s := &SourceDeviceSession{
		state:  models.LinkStateHandshake,
		token:  uri,
		notify: notify,
		opener: opener,
	}

	notify.Emit(models.Event{Kind: models.EventAddDeviceStateChanged, Payload: map[string]interface{}{
		"state": string(models.LinkStateHandshake),
	}})

	socket, err := channels.RequestChannel(ctx, tmpUserID, channelSubProtocol(opID))
	if err != nil {
		return nil, err
	}
	s.socket = socket
	s.timer = time.AfterFunc(OpTimeout, s.onTimeout)
	s.state = models.LinkStateEST

	socket.OnReceive(s.onReceive)
	socket.OnShutdown(s.onShutdown)

	notify.Emit(models.Event{Kind: models.EventAddDeviceStateChanged, Payload: map[string]interface{}{
		"state":       string(models.LinkStateEST),
		"remote_addr": socket.PeerURI(),
	}})
	return s, nil
}

func (s *SourceDeviceSession) onTimeout() {
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

func (s *SourceDeviceSession) onShutdown(err error) {
	s.mu.Lock()
	transferred := s.transferred
	state := s.state
	s.mu.Unlock()
	if transferred || state == models.LinkStateDone {
		return
	}
	result := models.AuthErrorUnknown
	if err == nil {
		result = models.AuthErrorNone
	}
	s.emitDone(result)
}

func (s *SourceDeviceSession) emitDone(result models.AuthError) {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.state = models.LinkStateDone
	s.mu.Unlock()
	s.notify.Emit(models.Event{Kind: models.EventAddDeviceStateChanged, Payload: map[string]interface{}{
		"done":   true,
		"result": string(result),
	}})
}

// ConfirmAddDevice implements step 3: the user confirms the token, the
// chosen auth scheme is sent, and the session moves EST -> AUTH.
func (s *SourceDeviceSession) ConfirmAddDevice(token, scheme string) error {
	s.mu.Lock()
	if token != s.token {
		s.mu.Unlock()
		return ErrInvalidURI
	}
	if s.state != models.LinkStateEST {
		s.mu.Unlock()
		return ErrNotAwaitingConfirm
	}
	socket := s.socket
	s.authScheme = scheme
	if models.ValidateLinkDeviceTransition(s.state, models.LinkStateAuth) {
		s.state = models.LinkStateAuth
	}
	s.mu.Unlock()

	frame, err := encodeMessage(map[string]string{models.LinkPayloadAuthScheme: scheme})
	if err != nil {
		return err
	}
	return socket.Send(frame)
}

// CancelAddDevice implements step 5: send stateMsg=CANCELED and shut down.
func (s *SourceDeviceSession) CancelAddDevice(token string) error {
	s.mu.Lock()
	if token != s.token {
		s.mu.Unlock()
		return ErrInvalidURI
	}
	socket := s.socket
	s.state = models.LinkStateCanceled
	s.mu.Unlock()

	frame, _ := encodeMessage(map[string]string{models.LinkPayloadStateMsg: "CANCELED"})
	_ = socket.Send(frame)
	socket.Close()
	s.emitDone(models.AuthErrorCanceled)
	return nil
}

func (s *SourceDeviceSession) onReceive(frame []byte) {
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

	password, ok := payload[models.LinkPayloadPassword]
	if !ok {
		return
	}
	s.handlePasswordAttempt(password)
}

// handlePasswordAttempt implements step 4: attempt to open the archive
// with the supplied password; retries are bounded by MaxSourceTries and
// counted only on this side.
func (s *SourceDeviceSession) handlePasswordAttempt(password string) {
	a, err := s.opener(password)
	if err != nil {
		s.mu.Lock()
		s.numTries++
		tries := s.numTries
		socket := s.socket
		s.mu.Unlock()

		if tries < MaxSourceTries {
			frame, _ := encodeMessage(map[string]string{
				models.LinkPayloadPasswordCorrect: "false",
				models.LinkPayloadCanRetry:        "true",
			})
			_ = socket.Send(frame)
			return
		}

		frame, _ := encodeMessage(map[string]string{models.LinkPayloadCanRetry: "false"})
		_ = socket.Send(frame)
		s.mu.Lock()
		s.state = models.LinkStateAuthError
		s.mu.Unlock()
		socket.Close()
		s.emitDone(models.AuthErrorAuthError)
		return
	}

	serialized, err := archive.Serialize(a)
	if err != nil {
		s.emitDone(models.AuthErrorUnknown)
		return
	}
	frame, err := encodeMessage(map[string]string{models.LinkPayloadAccData: string(serialized)})
	if err != nil {
		s.emitDone(models.AuthErrorUnknown)
		return
	}

	s.mu.Lock()
	if models.ValidateLinkDeviceTransition(s.state, models.LinkStateData) {
		s.state = models.LinkStateData
	}
	socket := s.socket
	s.mu.Unlock()

	if err := socket.Send(frame); err != nil {
		s.emitDone(models.AuthErrorNetwork)
		return
	}

	s.mu.Lock()
	s.transferred = true
	s.mu.Unlock()
	socket.Close()
	s.emitDone(models.AuthErrorNone)
}

func (s *SourceDeviceSession) State() models.LinkDeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
