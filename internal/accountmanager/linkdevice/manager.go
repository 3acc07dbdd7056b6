package linkdevice

import (
	"context"
	"sync"

	"github.com/meshid-core/core/internal/ports"
	"github.com/meshid-core/core/pkg/models"
)

// Manager enforces spec.md section 4.4.3's invariant that only one
// authentication context may exist per account at a time; concurrent
// attempts return ALREADY_LINKING. The active context (whichever side) is
// always cleared unconditionally once its session reaches DONE.
type Manager struct {
	mu     sync.Mutex
	active bool
}

// NewManager constructs an idle link-device manager.
func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) tryAcquire() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return false
	}
	m.active = true
	return true
}

func (m *Manager) release() {
	m.mu.Lock()
	m.active = false
	m.mu.Unlock()
}

// StartNewDevice starts the importer side, guarded by the single-active-
// context rule.
func (m *Manager) StartNewDevice(ctx context.Context, channels ports.ChannelService, notify Notifier, onArchive ArchiveLoader) (*NewDeviceSession, string, error) {
	if !m.tryAcquire() {
		return nil, "", ErrAlreadyLinking
	}
	wrapped := wrapReleaseOnDone(notify, m.release)
	session, uri, err := StartNewDeviceSession(ctx, channels, wrapped, onArchive)
	if err != nil {
		m.release()
		return nil, "", err
	}
	return session, uri, nil
}

// StartSourceDevice starts the exporter side, guarded the same way.
func (m *Manager) StartSourceDevice(ctx context.Context, channels ports.ChannelService, uri string, notify Notifier, opener ArchiveOpener) (*SourceDeviceSession, error) {
	if !m.tryAcquire() {
		return nil, ErrAlreadyLinking
	}
	wrapped := wrapReleaseOnDone(notify, m.release)
	session, err := StartSourceDeviceSession(ctx, channels, uri, wrapped, opener)
	if err != nil {
		m.release()
		return nil, err
	}
	return session, nil
}

// wrapReleaseOnDone wraps a Notifier so the manager's single-context slot
// is cleared unconditionally the moment a session reports `done`, even on
// error sinks (spec.md section 4.4.3: "auth context is cleared
// unconditionally ... even on error paths").
func wrapReleaseOnDone(inner Notifier, release func()) Notifier {
	return notifierFunc(func(e models.Event) {
		inner.Emit(e)
		if done, ok := e.Payload["done"].(bool); ok && done {
			release()
		}
	})
}

type notifierFunc func(models.Event)

func (f notifierFunc) Emit(e models.Event) { f(e) }
