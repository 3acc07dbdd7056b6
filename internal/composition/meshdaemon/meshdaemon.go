// Package meshdaemon is the composition root of spec.md section 6.7: it
// constructs an identity (via archiveaccount), the ContactList, the
// ConversationModule, the SyncModule, and a transport channel, and wires
// them together into one running daemon.
//
// Grounded on internal/composition/daemonservice/service_types.go's
// struct-of-collaborators Service shape (wire every domain object at
// construction time, no hidden globals) and internal/app/runtime.go's
// ServiceRuntime/NotificationHub pair, reused here through eventNotifier/
// notificationHub rather than copied field-for-field.
package meshdaemon

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meshid-core/core/internal/accountmanager/announce"
	"github.com/meshid-core/core/internal/accountmanager/archiveaccount"
	"github.com/meshid-core/core/internal/accountmanager/linkdevice"
	"github.com/meshid-core/core/internal/contactlist"
	"github.com/meshid-core/core/internal/conversation/usecase"
	"github.com/meshid-core/core/internal/identitycore/receipt"
	"github.com/meshid-core/core/internal/platform/logging"
	"github.com/meshid-core/core/internal/platform/ratelimiter"
	"github.com/meshid-core/core/internal/platform/workerpool"
	"github.com/meshid-core/core/internal/securestore"
	"github.com/meshid-core/core/internal/syncmodule"
	"github.com/meshid-core/core/internal/telemetry"
	"github.com/meshid-core/core/internal/transport/wakuchannel"
	"github.com/meshid-core/core/pkg/models"
)

// Config configures one daemon instance.
type Config struct {
	// ArchivePath/ArchiveSecret locate and unlock this device's account
	// archive (spec.md section 4.1/6.2). When either is empty, a brand
	// new account is created from CreatePassword instead; if ArchivePath
	// is set, it is written there (with ArchiveSecret) the first time
	// contact or conversation state is persisted.
	ArchivePath    string
	ArchiveSecret  string
	CreatePassword string

	Transport wakuchannel.Config

	// TrustRequestRPS/TrustRequestBurst bound how many inbox trust
	// requests per peer account are accepted per second (spec.md
	// section 7's abuse-resistance note); zero disables the limiter.
	TrustRequestRPS   float64
	TrustRequestBurst int

	FetchWorkers  int
	FetchQueueCap int

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.FetchWorkers <= 0 {
		c.FetchWorkers = 4
	}
	if c.FetchQueueCap <= 0 {
		c.FetchQueueCap = 64
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	return c
}

// eventNotifier adapts notificationHub to both ContactList's and
// usecase.Module's identical Notifier{ Emit(models.Event) } shape.
type eventNotifier struct {
	hub *notificationHub
}

func (n eventNotifier) Emit(ev models.Event) { n.hub.publish(ev) }

// notificationHub is a bounded ring buffer of emitted events, grounded on
// internal/app/runtime.go's NotificationHub: same history-with-cap
// behavior, generalized from a JSON-RPC method/payload pair to
// models.Event.
type notificationHub struct {
	mu      sync.Mutex
	limit   int
	history []models.Event
}

func newNotificationHub(limit int) *notificationHub {
	if limit < 1 {
		limit = 256
	}
	return &notificationHub{limit: limit}
}

func (h *notificationHub) publish(ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, ev)
	if len(h.history) > h.limit {
		h.history = append([]models.Event(nil), h.history[len(h.history)-h.limit:]...)
	}
}

func (h *notificationHub) backlog() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.history)
}

// filePersister persists a snapshot of contact/conversation state to the
// account archive's encrypted file, the same write-through-securestore
// path archiveaccount.Persist uses.
type filePersister struct {
	mu     sync.Mutex
	path   string
	scheme models.ArchiveEncryptionScheme
	secret []byte

	archive models.AccountArchive
}

func (p *filePersister) flushLocked() error {
	if p.path == "" {
		return nil
	}
	return archiveaccount.Persist(p.path, p.scheme, p.secret, p.archive)
}

func (p *filePersister) Persist(contacts map[string]models.Contact, trustRequests map[string]models.TrustRequest, knownDevices map[string]models.KnownDevice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.archive.Contacts = contacts
	return p.flushLocked()
}

func (p *filePersister) PersistConvInfos(infos map[string]models.ConvInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.archive.Conversations = infos
	return p.flushLocked()
}

func (p *filePersister) PersistConvRequests(reqs map[string]models.ConversationRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.archive.ConversationRequests = reqs
	return p.flushLocked()
}

// inboxSender implements usecase.MessageSender as a DHT put at
// inbox:<peerURI>:<contentType>, for the one-shot invite/profile-card
// payloads of spec.md section 4.5.3/4.5.8. This key differs from the
// inbox:<device_id> keys announce.go uses for trust requests and sync
// pushes.
type inboxSender struct {
	dht *wakuchannel.Node
}

func (s inboxSender) Send(peerURI, contentType string, payload []byte) error {
	return s.dht.Put(context.Background(), "inbox:"+peerURI+":"+contentType, payload)
}

// Daemon glues ArchiveCodec-backed identity, ContactList, AccountManager,
// ConversationModule, SyncModule and the transport channel into the
// runnable system spec.md section 6.7 describes.
type Daemon struct {
	cfg Config
	log *slog.Logger

	AccountID string
	DeviceID  string
	identity  models.Identity

	Transport  *wakuchannel.Node
	Contacts   *contactlist.ContactList
	Conv       *usecase.Module
	Sync       *syncmodule.Module
	LinkDevice *linkdevice.Manager

	Metrics   *telemetry.State
	fetchPool *workerpool.Pool
	trustLimit *ratelimiter.MapLimiter

	syncPriv []byte
	syncPub  []byte

	devicePub  ed25519.PublicKey
	devicePriv ed25519.PrivateKey

	deviceSyncMu sync.Mutex
	deviceSync   map[string][]byte // deviceID -> X25519 sync pub, from sibling announcements

	hub *notificationHub

	cancelInbox   func()
	cancelSibling func()

	mu      sync.Mutex
	started bool
}

// New constructs a Daemon without starting any background activity: load
// or create the account, then build every collaborator around it.
func New(ctx context.Context, cfg Config) (*Daemon, error) {
	cfg = cfg.withDefaults()

	var (
		accountID, deviceID string
		identity            models.Identity
		arch                models.AccountArchive
	)
	switch {
	case securestore.IsStorageConfigured(cfg.ArchivePath, cfg.ArchiveSecret):
		a, archOut, err := archiveaccount.OpenFromFile(cfg.ArchivePath, models.ArchiveSchemePassword, []byte(cfg.ArchiveSecret))
		if err != nil {
			return nil, fmt.Errorf("meshdaemon: open archive: %w", err)
		}
		accountID, deviceID, identity, arch = a.AccountID, a.DeviceID, a.Identity, archOut
	default:
		a, _, archOut, err := archiveaccount.Create(cfg.CreatePassword)
		if err != nil {
			return nil, fmt.Errorf("meshdaemon: create account: %w", err)
		}
		accountID, deviceID, identity, arch = a.AccountID, a.DeviceID, a.Identity, archOut
	}

	hub := newNotificationHub(512)
	notify := eventNotifier{hub: hub}
	metrics := telemetry.NewState()

	persister := &filePersister{path: cfg.ArchivePath, scheme: models.ArchiveSchemePassword, secret: []byte(cfg.ArchiveSecret), archive: arch}

	verify := func(cert models.Certificate) bool {
		return cert.IssuerID == accountID
	}
	contacts := contactlist.New(verify, persister, notify)

	transport := wakuchannel.NewNode(cfg.Transport)

	devicePriv := ed25519.PrivateKey(identity.PrivateKey)
	devicePub := devicePriv.Public().(ed25519.PublicKey)

	syncPriv, syncPub, err := announce.DeriveSyncKeypair(devicePriv)
	if err != nil {
		return nil, fmt.Errorf("meshdaemon: derive sync keypair: %w", err)
	}

	conv := usecase.New(
		usecase.NewInMemoryRepoStore(),
		transport,
		notify,
		persister,
		inboxSender{dht: transport},
		accountID,
		deviceID,
		devicePriv,
		func() int64 { return time.Now().UTC().Unix() },
	)

	sm := syncmodule.New(transport, contacts, conv, nil)

	var limiter *ratelimiter.MapLimiter
	if cfg.TrustRequestRPS > 0 {
		limiter = ratelimiter.New(cfg.TrustRequestRPS, cfg.TrustRequestBurst, 10*time.Minute)
	}

	d := &Daemon{
		cfg:        cfg,
		log:        cfg.Logger,
		AccountID:  accountID,
		DeviceID:   deviceID,
		identity:   identity,
		Transport:  transport,
		Contacts:   contacts,
		Conv:       conv,
		Sync:       sm,
		LinkDevice: linkdevice.NewManager(),
		Metrics:    metrics,
		fetchPool:  workerpool.New(cfg.FetchWorkers, cfg.FetchQueueCap),
		trustLimit: limiter,
		syncPriv:   syncPriv,
		syncPub:    syncPub,
		devicePub:  devicePub,
		devicePriv: devicePriv,
		deviceSync: make(map[string][]byte),
		hub:        hub,
	}
	metrics.SetNotificationBacklog(hub.backlog())
	return d, nil
}

// Start brings the transport online, publishes this device's signed
// announcement (carrying its device-sync X25519 public key), listens for
// sibling devices announcing under the same account key, and begins
// listening on this device's inbox for trust requests and peer
// device-sync pushes (spec.md section 4.4.6/4.6).
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}

	selfURI := d.AccountID + "/" + d.DeviceID
	if err := d.Transport.Start(ctx, selfURI); err != nil {
		return fmt.Errorf("meshdaemon: start transport: %w", err)
	}

	announcement, err := receipt.SignAnnouncement(d.devicePriv, d.AccountID, d.DeviceID, d.devicePub, d.syncPub)
	if err != nil {
		d.Metrics.RecordError("identity")
		return fmt.Errorf("meshdaemon: sign announcement: %w", err)
	}
	if err := announce.PublishAnnouncement(ctx, d.Transport, d.AccountID, announcement); err != nil {
		d.Metrics.RecordError("identity")
		return fmt.Errorf("meshdaemon: publish announcement: %w", err)
	}

	cancelSibling, err := d.Transport.Listen(ctx, d.AccountID, d.onSiblingAnnouncement)
	if err != nil {
		return fmt.Errorf("meshdaemon: listen for sibling announcements: %w", err)
	}
	d.cancelSibling = cancelSibling

	resolve := contactlist.ResolveCertificate(func(deviceID string) (models.Certificate, bool) {
		kd, ok := d.Contacts.KnownDevices()[deviceID]
		return kd.Certificate, ok
	})

	cancelInbox, err := announce.ListenInbox(ctx, d.Transport, d.DeviceID, d.syncPriv, d.syncPubSnapshot(), d.Contacts, resolve)
	if err != nil {
		cancelSibling()
		return fmt.Errorf("meshdaemon: listen inbox: %w", err)
	}
	d.cancelInbox = cancelInbox
	d.started = true
	return nil
}

// onSiblingAnnouncement verifies a device announcement seen on the
// account's shared DHT key and, if it belongs to a new device of this
// account, registers it with ContactList and records its device-sync
// public key for future PushSync calls.
func (d *Daemon) onSiblingAnnouncement(raw []byte) {
	var a models.DeviceAnnouncement
	if err := json.Unmarshal(raw, &a); err != nil {
		return
	}
	if a.AccountID != d.AccountID || a.DeviceID == d.DeviceID {
		return
	}
	if !receipt.VerifyAnnouncementSignature(a) {
		d.Metrics.RecordError("identity")
		return
	}

	cert := models.Certificate{
		Level:       models.CertLevelDevice,
		PublicKeyID: a.DeviceID,
		PublicKey:   a.PublicKey,
		IssuerID:    a.AccountID,
	}
	d.Contacts.FoundAccountDevice(cert, "", time.Now().UTC().Unix())

	d.deviceSyncMu.Lock()
	d.deviceSync[a.DeviceID] = append([]byte(nil), a.SyncPub...)
	d.deviceSyncMu.Unlock()
}

func (d *Daemon) syncPubSnapshot() map[string][]byte {
	d.deviceSyncMu.Lock()
	defer d.deviceSyncMu.Unlock()
	out := make(map[string][]byte, len(d.deviceSync))
	for k, v := range d.deviceSync {
		out[k] = v
	}
	return out
}

// AllowTrustRequest reports whether fromAccountID may submit another
// trust request right now; an RPC front door should check this before
// forwarding an incoming request to ContactList.OnTrustRequest.
func (d *Daemon) AllowTrustRequest(fromAccountID string) bool {
	if d.trustLimit == nil {
		return true
	}
	return d.trustLimit.Allow(fromAccountID, time.Now())
}

// SubmitFetch runs fn on the bounded fetch/clone worker pool instead of a
// bare goroutine, so a burst of incoming conv_info syncs can't spawn
// unbounded concurrent clones.
func (d *Daemon) SubmitFetch(fn func()) bool {
	return d.fetchPool.TrySubmit(fn)
}

// PushSync encrypts and pushes this device's current ContactList sync
// snapshot to every other known sibling device (spec.md section 4.4.6).
func (d *Daemon) PushSync(ctx context.Context) error {
	peers := make([]announce.PeerSyncKey, 0)
	for id, pub := range d.syncPubSnapshot() {
		peers = append(peers, announce.PeerSyncKey{DeviceID: id, SyncPub: pub})
	}
	started := time.Now()
	err := announce.PushSyncToPeers(ctx, d.Transport, d.Contacts, d.DeviceID, d.syncPriv, peers)
	if err != nil {
		d.Metrics.RecordOpError("push_sync")
	}
	d.Metrics.RecordOp("push_sync", started)
	return err
}

// StartLinkingNewDevice begins the importer side of spec.md section
// 4.4.3's device-link flow on this daemon's transport: it returns the
// `jami-auth://` URI a source device scans/enters, and delivers the
// imported archive to onArchive once the source device sends it.
func (d *Daemon) StartLinkingNewDevice(ctx context.Context, onArchive linkdevice.ArchiveLoader) (*linkdevice.NewDeviceSession, string, error) {
	notify := eventNotifier{hub: d.hub}
	return d.LinkDevice.StartNewDevice(ctx, d.Transport, notify, onArchive)
}

// StartLinkingSourceDevice begins the exporter side: uri is the peer URI
// announced by the new device, and opener unlocks this device's own
// archive with the password the user supplies interactively.
func (d *Daemon) StartLinkingSourceDevice(ctx context.Context, uri string, opener linkdevice.ArchiveOpener) (*linkdevice.SourceDeviceSession, error) {
	notify := eventNotifier{hub: d.hub}
	return d.LinkDevice.StartSourceDevice(ctx, d.Transport, uri, notify, opener)
}

// Stop tears the daemon down: cancels the sibling/inbox listeners, drains
// the fetch pool, stops the sync module's dedup cache, and stops the
// transport.
func (d *Daemon) Stop(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}
	if d.cancelInbox != nil {
		d.cancelInbox()
	}
	if d.cancelSibling != nil {
		d.cancelSibling()
	}
	d.fetchPool.Close()
	d.Sync.Close()
	d.Transport.Stop(ctx)
	d.started = false
}
