package config

// Default values used when a directive is absent from the configuration.
const (
	DefaultPort             = 53
	DefaultTransfersOut     = 10
	DefaultTCPClients       = 100
	DefaultRecursiveClients = 100
	DefaultCleaningInterval = 3600 // seconds
	DefaultResolverTasks    = 31
	DefaultTransferFormat   = "one-answer"

	// DefaultViewName names the view that receives zones declared outside any view.
	DefaultViewName = "_default"
)

// OptionsConfig holds server-wide options. Pointer and nil-slice fields distinguish
// "absent" from a configured zero value; use the accessors on Config to read them.
type OptionsConfig struct {
	Directory        string         `yaml:"directory"`
	Version          *string        `yaml:"version"`
	Recursion        *bool          `yaml:"recursion"`
	AuthNXDomain     *bool          `yaml:"auth_nxdomain"`
	TransferFormat   string         `yaml:"transfer_format"` // "one-answer" or "many-answers"
	AllowQuery       []string       `yaml:"allow_query"`
	AllowRecursion   []string       `yaml:"allow_recursion"`
	AllowTransfer    []string       `yaml:"allow_transfer"`
	TransfersOut     *int           `yaml:"transfers_out"`
	TCPClients       *int           `yaml:"tcp_clients"`
	RecursiveClients *int           `yaml:"recursive_clients"`
	ListenOn         []ListenConfig `yaml:"listen_on"`
	Port             int            `yaml:"port"`
	CleaningInterval *int           `yaml:"cleaning_interval"` // seconds
	CacheFile        string         `yaml:"cache_file"`
	ResolverTasks    int            `yaml:"resolver_tasks"`
	Forwarders       []string       `yaml:"forwarders"` // ip or ip:port
}

// ListenConfig is one listen-on element. An empty Address means every local address.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// KeyConfig describes a shared-secret TSIG key.
type KeyConfig struct {
	Name      string `yaml:"name"`
	Algorithm string `yaml:"algorithm"`
	Secret    string `yaml:"secret"` // base64
}

// TKEYConfig holds the TKEY negotiation parameters.
type TKEYConfig struct {
	Domain string `yaml:"domain"`
	DHKey  string `yaml:"dhkey"`
}

// ZoneConfig is a single zone statement.
type ZoneConfig struct {
	Name           string   `yaml:"name"`
	Class          string   `yaml:"class"`
	Type           string   `yaml:"type"`
	File           string   `yaml:"file"`
	Database       string   `yaml:"database"`
	Masters        []string `yaml:"masters"`
	AllowQuery     []string `yaml:"allow_query"`
	AllowTransfer  []string `yaml:"allow_transfer"`
	AllowUpdate    []string `yaml:"allow_update"`
	TransferSource string   `yaml:"transfer_source"`
	Notify         *bool    `yaml:"notify"`
}

// ViewConfig is a view statement and the zones declared inside it.
type ViewConfig struct {
	Name  string       `yaml:"name"`
	Class string       `yaml:"class"`
	Keys  []KeyConfig  `yaml:"keys"`
	Zones []ZoneConfig `yaml:"zones"`
}

// ClassName returns the view's class mnemonic, IN when unset.
func (v ViewConfig) ClassName() string {
	if v.Class == "" {
		return "IN"
	}
	return v.Class
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string            `yaml:"level"`
	Structured       bool              `yaml:"structured"`
	StructuredFormat string            `yaml:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields,omitempty"`
}

// APIConfig contains management API settings.
//
// Note: APIKey is intentionally treated as a secret and should not be returned by API endpoints.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	APIKey  string `yaml:"api_key,omitempty"`
}

// Config is the root configuration structure.
type Config struct {
	Options OptionsConfig `yaml:"options"`
	Logging LoggingConfig `yaml:"logging"`
	API     APIConfig     `yaml:"api"`
	Keys    []KeyConfig   `yaml:"keys"`
	TKEY    *TKEYConfig   `yaml:"tkey"`
	Zones   []ZoneConfig  `yaml:"zones"`
	Views   []ViewConfig  `yaml:"views"`

	// Path is the file the configuration was read from, empty for built-in defaults.
	Path string `yaml:"-"`
}

// ZoneStatement pairs a zone with the view that declared it. View is nil for
// zones declared at top level.
type ZoneStatement struct {
	View *ViewConfig
	Zone *ZoneConfig
}

// ViewName returns the name of the view the zone belongs to.
func (s ZoneStatement) ViewName() string {
	if s.View == nil || s.View.Name == "" {
		return DefaultViewName
	}
	return s.View.Name
}

// ClassName returns the zone's class mnemonic, inheriting the view's class and
// falling back to IN.
func (s ZoneStatement) ClassName() string {
	if s.Zone != nil && s.Zone.Class != "" {
		return s.Zone.Class
	}
	if s.View != nil {
		return s.View.ClassName()
	}
	return "IN"
}
