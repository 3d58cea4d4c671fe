package consumer

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	MechanismPlain  = "plain"
	MechanismGSSAPI = "gssapi"
)

type SASLConfig struct {
	Mechanism string `koanf:"mechanism"` // ""|plain|gssapi
	User      string `koanf:"user"`
	Password  string `koanf:"password"`

	Principal   string `koanf:"principal"`
	Realm       string `koanf:"realm"`
	ServiceName string `koanf:"service_name"`
	KeytabPath  string `koanf:"keytab_path"`
	Krb5Config  string `koanf:"krb5_config"`
	TicketCache string `koanf:"ticket_cache"`

	RenewCommand   string        `koanf:"renew_command"`
	RenewTimeout   time.Duration `koanf:"renew_timeout"`
	RenewInterval  time.Duration `koanf:"renew_interval"`
	ExpiryMargin   time.Duration `koanf:"expiry_margin"`
	TicketLifetime time.Duration `koanf:"ticket_lifetime"`
}

type BackoffConfig struct {
	Base       time.Duration `koanf:"base"`
	Factor     float64       `koanf:"factor"`
	Cap        time.Duration `koanf:"cap"`
	MaxRetries int           `koanf:"max_retries"` // 0 = retry until ctx cancel
}

type LedgerConfig struct {
	Path           string        `koanf:"path"` // "" disables persistence
	CommitInterval time.Duration `koanf:"commit_interval"`
	Lookahead      int64         `koanf:"lookahead"`
}

type PollConfig struct {
	AssignmentTimeout time.Duration `koanf:"assignment_timeout"`
	FetchTimeout      time.Duration `koanf:"fetch_timeout"`
	RefreshInterval   time.Duration `koanf:"refresh_interval"`
	MaxInFlight       int64         `koanf:"max_in_flight"` // 0 = unbounded
}

type Config struct {
	Driver         string        `koanf:"driver"`
	Brokers        []string      `koanf:"brokers"`
	Topics         []string      `koanf:"topics"`
	GroupID        string        `koanf:"group_id"`
	ClientID       string        `koanf:"client_id"`
	Version        string        `koanf:"version"`
	StartFrom      string        `koanf:"start_from"` // earliest|latest|ledger
	TLSEn          bool          `koanf:"tls_enabled"`
	SessionTimeout time.Duration `koanf:"session_timeout"`

	SASL    SASLConfig    `koanf:"sasl"`
	Backoff BackoffConfig `koanf:"backoff"`
	Ledger  LedgerConfig  `koanf:"ledger"`
	Poll    PollConfig    `koanf:"poll"`
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// LoadConfig merges YAML (if present) with env-vars
// (prefix `STRATA_KAFKA__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	// schema version check (only when YAML is present)
	sv := k.String("schema_version")
	if sv != "" && sv != "v1" {
		return Config{}, fmt.Errorf("consumer schema_version %q not supported (want v1)", sv)
	}

	_ = k.Load(env.Provider("STRATA_KAFKA__", "__", nil), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, validate(cfg)
}

func validate(c Config) error {
	switch c.StartFrom {
	case string(ModeEarliest), string(ModeLatest), string(ModeLedger):
	default:
		return fmt.Errorf("start_from %q not supported (want earliest|latest|ledger)", c.StartFrom)
	}
	switch c.SASL.Mechanism {
	case "", MechanismPlain, MechanismGSSAPI:
	default:
		return fmt.Errorf("sasl mechanism %q not supported (want plain|gssapi)", c.SASL.Mechanism)
	}
	if c.SASL.Mechanism == MechanismGSSAPI && c.SASL.KeytabPath == "" {
		return errors.New("sasl mechanism gssapi requires keytab_path")
	}
	return nil
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

func applyDefaults(c *Config) {
	if c.Driver == "" {
		c.Driver = "sarama"
	}
	if c.ClientID == "" {
		c.ClientID = "strata"
	}
	if c.Version == "" {
		c.Version = "3.6.0"
	}
	if c.StartFrom == "" {
		c.StartFrom = string(ModeEarliest)
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = 30 * time.Second
	}

	if c.SASL.RenewCommand == "" {
		c.SASL.RenewCommand = "kinit"
	}
	if c.SASL.ServiceName == "" {
		c.SASL.ServiceName = "kafka"
	}
	if c.SASL.RenewTimeout == 0 {
		c.SASL.RenewTimeout = 30 * time.Second
	}
	if c.SASL.ExpiryMargin == 0 {
		c.SASL.ExpiryMargin = 5 * time.Minute
	}
	if c.SASL.TicketLifetime == 0 {
		c.SASL.TicketLifetime = 10 * time.Hour
	}
	if c.SASL.RenewInterval == 0 {
		c.SASL.RenewInterval = time.Hour
	}

	if c.Backoff.Base == 0 {
		c.Backoff.Base = 500 * time.Millisecond
	}
	if c.Backoff.Factor == 0 {
		c.Backoff.Factor = 2.0
	}
	if c.Backoff.Cap == 0 {
		c.Backoff.Cap = 30 * time.Second
	}

	if c.Ledger.CommitInterval == 0 {
		c.Ledger.CommitInterval = 5 * time.Second
	}

	if c.Poll.AssignmentTimeout == 0 {
		c.Poll.AssignmentTimeout = 10 * time.Second
	}
	if c.Poll.FetchTimeout == 0 {
		c.Poll.FetchTimeout = 500 * time.Millisecond
	}
	if c.Poll.RefreshInterval == 0 {
		c.Poll.RefreshInterval = 30 * time.Second
	}
}
