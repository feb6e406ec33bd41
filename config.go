package postwhite

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// recognizedConfigKeys is the option set §6 gives a meaning to. Anything
// else in config.yml is a likely typo, not a fatal error: it is logged at
// debug level and otherwise ignored.
var recognizedConfigKeys = map[string]bool{
	"host":            true,
	"port":            true,
	"user":            true,
	"max-connections": true,
	"learning-period": true,
	"require-sasl":    true,
	"reject-message":  true,
	"smtp-host":       true,
	"smtp-port":       true,
	"sender":          true,
	"pid-file":        true,
	"log-file":        true,
	"spool-dir":       true,
	"config-dir":      true,
}

// Config mirrors the recognized option set of §6. It is loaded once at
// startup from <config-dir>/config.yml and treated as immutable, except
// for the fields refreshed by Watch.
type Config struct {
	Host           string
	Port           int
	User           string
	MaxConnections int
	LearningPeriod time.Duration
	RequireSASL    bool
	RejectMessage  string
	SMTPHost       string
	SMTPPort       int
	Sender         string
	PIDFile        string
	LogFile        string
	SpoolDir       string
	ConfigDir      string

	v *viper.Viper
}

// LoadConfig reads <configDir>/config.yml, applying the same defaults the
// teacher daemon seeds into its single gospam.conf.
func LoadConfig(configDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 10045)
	v.SetDefault("max-connections", 20)
	v.SetDefault("learning-period", 60)
	v.SetDefault("require-sasl", false)
	v.SetDefault("reject-message", "User unknown in local recipient table")
	v.SetDefault("smtp-host", "127.0.0.1")
	v.SetDefault("smtp-port", 25)
	v.SetDefault("sender", "postwhite@localhost")
	v.SetDefault("spool-dir", configDir)
	v.SetDefault("config-dir", configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config.yml: %w", err)
		}
	}
	logUnknownKeys(v)

	c := &Config{v: v}
	c.hydrate()

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func logUnknownKeys(v *viper.Viper) {
	for key := range v.AllSettings() {
		if !recognizedConfigKeys[key] {
			log.Debug().Str("key", key).Msg("unrecognized config.yml key")
		}
	}
}

func (c *Config) hydrate() {
	c.Host = c.v.GetString("host")
	c.Port = c.v.GetInt("port")
	c.User = c.v.GetString("user")
	c.MaxConnections = c.v.GetInt("max-connections")
	c.LearningPeriod = time.Duration(c.v.GetInt("learning-period")) * time.Minute
	c.RequireSASL = c.v.GetBool("require-sasl")
	c.RejectMessage = c.v.GetString("reject-message")
	c.SMTPHost = c.v.GetString("smtp-host")
	c.SMTPPort = c.v.GetInt("smtp-port")
	c.Sender = c.v.GetString("sender")
	c.PIDFile = c.v.GetString("pid-file")
	c.LogFile = c.v.GetString("log-file")
	c.SpoolDir = c.v.GetString("spool-dir")
	c.ConfigDir = c.v.GetString("config-dir")
}

func (c *Config) validate() error {
	if c.LearningPeriod <= 0 {
		return fmt.Errorf("learning-period must be positive, got %s", c.LearningPeriod)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max-connections must be positive, got %d", c.MaxConnections)
	}
	if c.SpoolDir == "" || c.ConfigDir == "" {
		return fmt.Errorf("spool-dir and config-dir must both be set")
	}
	return nil
}

// Watch installs a hot-reload hook so edits to config.yml apply without a
// daemon restart. fn receives the freshly hydrated config.
func (c *Config) Watch(fn func(*Config)) {
	c.v.OnConfigChange(func(_ fsnotify.Event) {
		logUnknownKeys(c.v)
		prev := *c
		c.hydrate()
		if err := c.validate(); err != nil {
			// keep serving with the last-known-good config
			*c = prev
			return
		}
		fn(c)
	})
	c.v.WatchConfig()
}
