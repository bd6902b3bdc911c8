// Package config loads stockline settings.
//
// Settings come from, in increasing precedence: built-in defaults, a
// stockline.toml file and STOCKLINE_* environment variables
// (STOCKLINE_FLOW_DISPLAY_CAP overrides flow.display_cap). The merged
// settings are checked against an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	configName = "stockline"
	configType = "toml"
	envPrefix  = "STOCKLINE"
	homeDir    = ".stockline"
)

// Keys.
const (
	KeyDatabasePath   = "database.path"
	KeyDisplayCap     = "flow.display_cap"
	KeyMaxRows        = "flow.max_rows"
	KeyLabelCap       = "flow.label_cap"
	KeyTaxRateBps     = "flow.tax_rate_bps"
	KeyCurrency       = "flow.currency"
	KeyIdleWindow     = "session.idle_window"
	KeyTurnTimeout    = "dispatch.turn_timeout"
	KeyMetricsAddr    = "metrics.addr"
	KeyInboxDir       = "inbox.dir"
	KeyInboxOutbox    = "inbox.outbox"
	DefaultConfigFile = configName + "." + configType
)

//go:embed schema.cue
var schemaSource string

// Config is the full set of settings.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Flow     FlowConfig     `mapstructure:"flow"`
	Session  SessionConfig  `mapstructure:"session"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Inbox    InboxConfig    `mapstructure:"inbox"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// FlowConfig holds the conversation limits and order pricing.
type FlowConfig struct {
	DisplayCap int    `mapstructure:"display_cap"`
	MaxRows    int    `mapstructure:"max_rows"`
	LabelCap   int    `mapstructure:"label_cap"`
	TaxRateBps int    `mapstructure:"tax_rate_bps"`
	Currency   string `mapstructure:"currency"`
}

type SessionConfig struct {
	// IdleWindow is how long a session may sit untouched before it is
	// reset. Zero disables expiry.
	IdleWindow time.Duration `mapstructure:"idle_window"`
}

type DispatchConfig struct {
	TurnTimeout time.Duration `mapstructure:"turn_timeout"`
}

type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `mapstructure:"addr"`
}

type InboxConfig struct {
	Dir    string `mapstructure:"dir"`
	Outbox string `mapstructure:"outbox"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Path: "stockline.db"},
		Flow: FlowConfig{
			DisplayCap: 3,
			MaxRows:    10,
			LabelCap:   24,
			TaxRateBps: 1800,
			Currency:   "INR",
		},
		Session:  SessionConfig{IdleWindow: 30 * time.Minute},
		Dispatch: DispatchConfig{TurnTimeout: 10 * time.Second},
		Inbox:    InboxConfig{Dir: "inbox", Outbox: "outbox"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyDatabasePath, d.Database.Path)
	v.SetDefault(KeyDisplayCap, d.Flow.DisplayCap)
	v.SetDefault(KeyMaxRows, d.Flow.MaxRows)
	v.SetDefault(KeyLabelCap, d.Flow.LabelCap)
	v.SetDefault(KeyTaxRateBps, d.Flow.TaxRateBps)
	v.SetDefault(KeyCurrency, d.Flow.Currency)
	v.SetDefault(KeyIdleWindow, d.Session.IdleWindow)
	v.SetDefault(KeyTurnTimeout, d.Dispatch.TurnTimeout)
	v.SetDefault(KeyMetricsAddr, d.Metrics.Addr)
	v.SetDefault(KeyInboxDir, d.Inbox.Dir)
	v.SetDefault(KeyInboxOutbox, d.Inbox.Outbox)
}

// Load reads settings. An explicit path must exist; with an empty path
// stockline.toml is looked up in the working directory and then in
// $HOME/.stockline, and a missing file leaves the defaults in place.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-supplied viper instance, which lets the
// CLI bind flags before the settings are decoded.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	setDefaults(v)
	v.SetConfigType(configType)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, homeDir))
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against the schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := def.Unify(ctx.Encode(c.settings()))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// settings returns cfg keyed the way the file and schema name it.
func (c Config) settings() map[string]any {
	return map[string]any{
		"database": map[string]any{"path": c.Database.Path},
		"flow": map[string]any{
			"display_cap":  c.Flow.DisplayCap,
			"max_rows":     c.Flow.MaxRows,
			"label_cap":    c.Flow.LabelCap,
			"tax_rate_bps": c.Flow.TaxRateBps,
			"currency":     c.Flow.Currency,
		},
		"session":  map[string]any{"idle_window": int64(c.Session.IdleWindow)},
		"dispatch": map[string]any{"turn_timeout": int64(c.Dispatch.TurnTimeout)},
		"metrics":  map[string]any{"addr": c.Metrics.Addr},
		"inbox":    map[string]any{"dir": c.Inbox.Dir, "outbox": c.Inbox.Outbox},
	}
}

// fileConfig is the on-disk layout written by WriteDefault.
type fileConfig struct {
	Database struct {
		Path string `toml:"path"`
	} `toml:"database"`
	Flow struct {
		DisplayCap int    `toml:"display_cap"`
		MaxRows    int    `toml:"max_rows"`
		LabelCap   int    `toml:"label_cap"`
		TaxRateBps int    `toml:"tax_rate_bps"`
		Currency   string `toml:"currency"`
	} `toml:"flow"`
	Session struct {
		IdleWindow string `toml:"idle_window"`
	} `toml:"session"`
	Dispatch struct {
		TurnTimeout string `toml:"turn_timeout"`
	} `toml:"dispatch"`
	Metrics struct {
		Addr string `toml:"addr"`
	} `toml:"metrics"`
	Inbox struct {
		Dir    string `toml:"dir"`
		Outbox string `toml:"outbox"`
	} `toml:"inbox"`
}

// Encode renders cfg as TOML that Load reads back unchanged.
func Encode(cfg Config) ([]byte, error) {
	var f fileConfig
	f.Database.Path = cfg.Database.Path
	f.Flow.DisplayCap = cfg.Flow.DisplayCap
	f.Flow.MaxRows = cfg.Flow.MaxRows
	f.Flow.LabelCap = cfg.Flow.LabelCap
	f.Flow.TaxRateBps = cfg.Flow.TaxRateBps
	f.Flow.Currency = cfg.Flow.Currency
	f.Session.IdleWindow = cfg.Session.IdleWindow.String()
	f.Dispatch.TurnTimeout = cfg.Dispatch.TurnTimeout.String()
	f.Metrics.Addr = cfg.Metrics.Addr
	f.Inbox.Dir = cfg.Inbox.Dir
	f.Inbox.Outbox = cfg.Inbox.Outbox

	data, err := toml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

// WriteDefault writes the default settings to path. It refuses to replace
// an existing file.
func WriteDefault(path string) error {
	data, err := Encode(Default())
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write config file: %w", err)
	}
	return f.Close()
}
