package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/domain"
	"github.com/devricklin/imessage-feishu-relay/internal/infra/retry"
)

// Config represents application configuration
type Config struct {
	// Feishu configuration
	Feishu FeishuConfig `yaml:"feishu"`

	// Local Messages database and injection
	IMessage IMessageConfig `yaml:"imessage"`

	// Shared relay state
	State StateConfig `yaml:"state"`

	// Outbound polling cadence
	Relay RelayConfig `yaml:"relay"`

	// Conversation discovery
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Inbound relay
	Inbound InboundConfig `yaml:"inbound"`

	// Status API
	API APIConfig `yaml:"api"`

	Log LogConfig `yaml:"log"`
}

// FeishuConfig contains Feishu configuration
type FeishuConfig struct {
	AppID     string `yaml:"app_id" env:"FEISHU_APP_ID"`
	AppSecret string `yaml:"app_secret" env:"FEISHU_APP_SECRET"`
	BaseURL   string `yaml:"base_url" env:"FEISHU_BASE_URL" env-default:"https://open.feishu.cn"`

	// ChannelOwnerID is the open_id invited into every provisioned group chat
	ChannelOwnerID string `yaml:"channel_owner_id" env:"FEISHU_CHANNEL_OWNER_ID"`

	// AdminChatID receives fatal error notifications only
	AdminChatID string `yaml:"admin_chat_id" env:"ADMIN_CHAT_ID"`
}

// IMessageConfig contains local store configuration
type IMessageConfig struct {
	DBPath           string        `yaml:"db_path" env:"CHAT_DB_PATH"`
	ContactsPath     string        `yaml:"contacts_path" env:"CONTACTS_DB_PATH"` // optional AddressBook database
	ContactsRefresh  time.Duration `yaml:"contacts_refresh" env:"CONTACTS_REFRESH_INTERVAL" env-default:"10m"`
	OsascriptPath    string        `yaml:"osascript_path" env:"OSASCRIPT_PATH" env-default:"osascript"`
	InjectTimeout    time.Duration `yaml:"inject_timeout" env:"INJECT_TIMEOUT" env-default:"30s"`
	MaxInboundLength int           `yaml:"max_inbound_length" env:"MAX_INBOUND_LENGTH" env-default:"1000"`
	BusyTimeout      time.Duration `yaml:"busy_timeout" env:"CHAT_DB_BUSY_TIMEOUT" env-default:"5s"`
	ConnectAttempts  int           `yaml:"connect_attempts" env:"CHAT_DB_CONNECT_ATTEMPTS" env-default:"5"`
	ConnectBaseDelay time.Duration `yaml:"connect_base_delay" env:"CHAT_DB_CONNECT_BASE_DELAY" env-default:"1s"`
	ConnectMaxDelay  time.Duration `yaml:"connect_max_delay" env:"CHAT_DB_CONNECT_MAX_DELAY" env-default:"16s"`
}

// StateConfig contains shared state configuration
type StateConfig struct {
	// Path of the JSON state document, ignored when DSN selects another backend
	Path string `yaml:"path" env:"STATE_PATH"`
	// DSN selects the backend: empty or file://path, memory://, postgres://...
	DSN            string        `yaml:"dsn" env:"STATE_DSN"`
	PollInterval   time.Duration `yaml:"poll_interval" env:"STATE_POLL_INTERVAL" env-default:"5s"`
	LockRetries    int           `yaml:"lock_retries" env:"STATE_LOCK_RETRIES" env-default:"10"`
	LockRetryDelay time.Duration `yaml:"lock_retry_delay" env:"STATE_LOCK_RETRY_DELAY" env-default:"100ms"`
}

// RelayConfig contains outbound relay configuration
type RelayConfig struct {
	IdlePollInterval    time.Duration `yaml:"idle_poll_interval" env:"IDLE_POLL_INTERVAL" env-default:"30s"`
	ActivePollInterval  time.Duration `yaml:"active_poll_interval" env:"ACTIVE_POLL_INTERVAL" env-default:"10s"`
	BurstPollInterval   time.Duration `yaml:"burst_poll_interval" env:"BURST_POLL_INTERVAL" env-default:"500ms"`
	BurstWindow         time.Duration `yaml:"burst_window" env:"BURST_WINDOW" env-default:"10s"`
	BurstThreshold      int           `yaml:"burst_threshold" env:"BURST_THRESHOLD" env-default:"8"`
	ActiveGrace         time.Duration `yaml:"active_grace" env:"ACTIVE_GRACE" env-default:"10m"`
	TimestampCapacity   int           `yaml:"timestamp_capacity" env:"TIMESTAMP_CAPACITY" env-default:"100"`
	LoopFloor           time.Duration `yaml:"loop_floor" env:"LOOP_FLOOR" env-default:"100ms"`
	SkipOwnMessages     bool          `yaml:"skip_own_messages" env:"SKIP_OWN_MESSAGES" env-default:"false"`
	MaxDeliveryAttempts int           `yaml:"max_delivery_attempts" env:"MAX_DELIVERY_ATTEMPTS" env-default:"3"`
	TimeZone            string        `yaml:"time_zone" env:"RELAY_TIMEZONE" env-default:"Local"`
}

// DiscoveryConfig contains discovery scanner configuration
type DiscoveryConfig struct {
	Interval time.Duration `yaml:"interval" env:"DISCOVERY_INTERVAL" env-default:"15s"`
	Overlap  time.Duration `yaml:"overlap" env:"DISCOVERY_OVERLAP" env-default:"24h"`
	// Empty means every conversation is bridged
	AllowedConversations []string `yaml:"allowed_conversations" env:"ALLOWED_CONVERSATIONS" env-separator:","`
	ChannelNameMaxLen    int      `yaml:"channel_name_max_len" env:"CHANNEL_NAME_MAX_LEN" env-default:"60"`
	BackfillOnProvision  bool     `yaml:"backfill_on_provision" env:"BACKFILL_ON_PROVISION" env-default:"false"`
}

// InboundConfig contains inbound relay configuration
type InboundConfig struct {
	// Empty means every remote author may write into bridged chats
	AllowedAuthors []string `yaml:"allowed_authors" env:"ALLOWED_AUTHORS" env-separator:","`
}

// APIConfig contains status API configuration
type APIConfig struct {
	// Empty disables the status API
	Addr string `yaml:"addr" env:"API_ADDR"`

	// URL is where operator tools reach the forwarder's API
	URL string `yaml:"url" env:"RELAY_API_URL" env-default:"http://127.0.0.1:8765"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"console"`
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

// Load reads .env, then the optional config file at path, then environment overrides
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from env: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads configuration from the file named by RELAY_CONFIG, or the environment only
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv("RELAY_CONFIG"))
}

func (c *Config) applyDefaults() {
	homeDir, _ := os.UserHomeDir()
	if c.IMessage.DBPath == "" {
		c.IMessage.DBPath = filepath.Join(homeDir, "Library", "Messages", "chat.db")
	}
	if c.State.Path == "" {
		c.State.Path = filepath.Join(homeDir, ".imessage-feishu-relay", "state.json")
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Feishu.AppID == "" {
		return &ConfigError{Field: "FEISHU_APP_ID", Message: "required"}
	}
	if c.Feishu.AppSecret == "" {
		return &ConfigError{Field: "FEISHU_APP_SECRET", Message: "required"}
	}
	return c.ValidateRelay()
}

// ValidateRelay validates the settings that do not involve Feishu credentials
func (c *Config) ValidateRelay() error {
	r := c.Relay
	if r.IdlePollInterval <= 0 {
		return &ConfigError{Field: "IDLE_POLL_INTERVAL", Message: "must be positive"}
	}
	if r.BurstPollInterval <= 0 {
		return &ConfigError{Field: "BURST_POLL_INTERVAL", Message: "must be positive"}
	}
	if !(r.IdlePollInterval > r.ActivePollInterval && r.ActivePollInterval > r.BurstPollInterval) {
		return &ConfigError{Field: "ACTIVE_POLL_INTERVAL", Message: "intervals must satisfy idle > active > burst"}
	}
	if r.BurstThreshold < 1 {
		return &ConfigError{Field: "BURST_THRESHOLD", Message: "must be at least 1"}
	}
	if r.TimestampCapacity < r.BurstThreshold {
		return &ConfigError{Field: "TIMESTAMP_CAPACITY", Message: "must be at least BURST_THRESHOLD"}
	}
	if c.Discovery.Interval <= 0 {
		return &ConfigError{Field: "DISCOVERY_INTERVAL", Message: "must be positive"}
	}
	if c.State.LockRetries < 1 {
		return &ConfigError{Field: "STATE_LOCK_RETRIES", Message: "must be at least 1"}
	}
	if _, err := c.Location(); err != nil {
		return &ConfigError{Field: "RELAY_TIMEZONE", Message: err.Error()}
	}
	return nil
}

// IsConfigError reports whether err is a configuration error
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ToActivityConfig converts to the classifier configuration
func (c *Config) ToActivityConfig() domain.ActivityConfig {
	return domain.ActivityConfig{
		IdleInterval:      c.Relay.IdlePollInterval,
		ActiveInterval:    c.Relay.ActivePollInterval,
		BurstInterval:     c.Relay.BurstPollInterval,
		BurstWindow:       c.Relay.BurstWindow,
		BurstThreshold:    c.Relay.BurstThreshold,
		ActiveGrace:       c.Relay.ActiveGrace,
		TimestampCapacity: c.Relay.TimestampCapacity,
	}
}

// ToConnectPolicy converts to the local store connection retry policy
func (c *Config) ToConnectPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = c.IMessage.ConnectAttempts
	p.BaseDelay = c.IMessage.ConnectBaseDelay
	p.MaxDelay = c.IMessage.ConnectMaxDelay
	return p
}

// ToLockPolicy converts to the state lock retry policy
func (c *Config) ToLockPolicy() retry.Policy {
	return retry.FixedPolicy(c.State.LockRetries, c.State.LockRetryDelay)
}

// Location returns the time zone used for relayed message timestamps
func (c *Config) Location() (*time.Location, error) {
	if c.Relay.TimeZone == "" || c.Relay.TimeZone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Relay.TimeZone)
}
