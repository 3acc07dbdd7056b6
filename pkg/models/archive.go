package models

// ArchiveEncryptionScheme selects how an AccountArchive is stored on disk
// (spec.md section 4.1 / 6.2).
type ArchiveEncryptionScheme byte

const (
	ArchiveSchemeNone     ArchiveEncryptionScheme = 0x00
	ArchiveSchemePassword ArchiveEncryptionScheme = 0x01
	ArchiveSchemeKey      ArchiveEncryptionScheme = 0x02
)

func (s ArchiveEncryptionScheme) Valid() bool {
	switch s {
	case ArchiveSchemeNone, ArchiveSchemePassword, ArchiveSchemeKey:
		return true
	default:
		return false
	}
}

// AccountArchive is the exportable bundle described in spec.md section 3.
type AccountArchive struct {
	Identity             Identity                        `json:"identity"`
	CAKey                []byte                           `json:"ca_key"`
	RevocationList       []byte                           `json:"revocation_list,omitempty"`
	EthKey               []byte                           `json:"eth_key"`
	Contacts             map[string]Contact               `json:"contacts_map"`
	Conversations        map[string]ConvInfo              `json:"conversations_map"`
	ConversationRequests map[string]ConversationRequest   `json:"conversation_requests_map"`
	ConfigKV             map[string]string                `json:"config_kv"`
}

// CloneArchive returns a deep-enough copy for safe concurrent handling:
// every map and byte slice is copied so callers never alias the archive's
// internal storage.
func CloneArchive(a AccountArchive) AccountArchive {
	out := a
	out.CAKey = append([]byte(nil), a.CAKey...)
	out.RevocationList = append([]byte(nil), a.RevocationList...)
	out.EthKey = append([]byte(nil), a.EthKey...)
	out.Identity.PrivateKey = append([]byte(nil), a.Identity.PrivateKey...)
	out.Identity.CAKey = append([]byte(nil), a.Identity.CAKey...)

	out.Contacts = make(map[string]Contact, len(a.Contacts))
	for k, v := range a.Contacts {
		out.Contacts[k] = v
	}
	out.Conversations = make(map[string]ConvInfo, len(a.Conversations))
	for k, v := range a.Conversations {
		out.Conversations[k] = v
	}
	out.ConversationRequests = make(map[string]ConversationRequest, len(a.ConversationRequests))
	for k, v := range a.ConversationRequests {
		out.ConversationRequests[k] = v
	}
	out.ConfigKV = make(map[string]string, len(a.ConfigKV))
	for k, v := range a.ConfigKV {
		out.ConfigKV[k] = v
	}
	return out
}

// ConfigKeys are the stable string keys named in spec.md section 6.6.
const (
	ConfigKeyArchivePath        = "archivePath"
	ConfigKeyArchiveHasPassword = "archiveHasPassword"
	ConfigKeyDeviceName         = "deviceName"
	ConfigKeyDeviceID           = "deviceId"
	ConfigKeyDhtPort            = "dhtPort"
	ConfigKeyDhtPublicInCalls   = "dhtPublicInCalls"
	ConfigKeyDhtPeerDiscovery   = "dhtPeerDiscovery"
	ConfigKeyAccountPeerDiscovery = "accountPeerDiscovery"
	ConfigKeyAccountPublish     = "accountPublish"
	ConfigKeyProxyEnabled       = "proxyEnabled"
	ConfigKeyProxyServer        = "proxyServer"
	ConfigKeyProxyPushToken     = "proxyPushToken"
	ConfigKeyManagerUri         = "managerUri"
	ConfigKeyManagerUsername    = "managerUsername"
	ConfigKeyNameServerUri      = "nameServerUri"
	ConfigKeyDisplayName        = "displayName"
	ConfigKeyRingtonePath       = "ringtonePath"
	ConfigKeyTLSCaListFile      = "tlsCaListFile"
	ConfigKeyTLSCertificateFile = "tlsCertificateFile"
	ConfigKeyTLSPrivateKeyFile  = "tlsPrivateKeyFile"
	ConfigKeyTLSPassword        = "tlsPassword"
)

// deviceLocalConfigKeys are never exported to archives.
var deviceLocalConfigKeys = map[string]struct{}{
	ConfigKeyDeviceID: {},
}

// encodedFileConfigKeys are inlined as base64 file contents on export.
var encodedFileConfigKeys = map[string]struct{}{
	ConfigKeyTLSCaListFile:      {},
	ConfigKeyTLSCertificateFile: {},
	ConfigKeyTLSPrivateKeyFile:  {},
}

func IsDeviceLocalConfigKey(key string) bool {
	_, ok := deviceLocalConfigKeys[key]
	return ok
}

func IsEncodedFileConfigKey(key string) bool {
	_, ok := encodedFileConfigKeys[key]
	return ok
}
