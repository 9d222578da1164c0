// Package config loads the server configuration from defaults, an optional
// YAML file and UMISYNC_* environment variables, in that order.
package config

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/umi3d/umisync/internal/core/observability/log"
	"github.com/umi3d/umisync/internal/server"
	"github.com/umi3d/umisync/internal/transport"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "UMISYNC_"

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Log       Log       `yaml:"log" envPrefix:"LOG_"`
	Server    Server    `yaml:"server" envPrefix:"SERVER_"`
	Transport Transport `yaml:"transport" envPrefix:"TRANSPORT_"`
	Registry  Registry  `yaml:"registry" envPrefix:"REGISTRY_"`
}

type Log struct {
	Level       string   `yaml:"level" env:"LEVEL"`
	Encoding    string   `yaml:"encoding" env:"ENCODING"`
	Outputs     []string `yaml:"outputs" env:"OUTPUTS" envSeparator:","`
	Development bool     `yaml:"development" env:"DEVELOPMENT"`
}

type Server struct {
	HTTPAddr           string        `yaml:"http_addr" env:"HTTP_ADDR"`
	QUICAddr           string        `yaml:"quic_addr" env:"QUIC_ADDR"`
	CertFile           string        `yaml:"cert_file" env:"CERT_FILE"`
	KeyFile            string        `yaml:"key_file" env:"KEY_FILE"`
	DefaultEnvironment string        `yaml:"default_environment" env:"DEFAULT_ENVIRONMENT"`
	MaxPeers           int           `yaml:"max_peers" env:"MAX_PEERS"`
	AuthTokens         []string      `yaml:"auth_tokens" env:"AUTH_TOKENS" envSeparator:","`
	AllowedOrigins     []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	SendTimeout        time.Duration `yaml:"send_timeout" env:"SEND_TIMEOUT"`
	RateLimit          int           `yaml:"rate_limit" env:"RATE_LIMIT"`
	RateWindow         time.Duration `yaml:"rate_window" env:"RATE_WINDOW"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type Transport struct {
	MaxFrameSize    int           `yaml:"max_frame_size" env:"MAX_FRAME_SIZE"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	EnableDatagrams bool          `yaml:"enable_datagrams" env:"ENABLE_DATAGRAMS"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	KeepAlive       time.Duration `yaml:"keep_alive" env:"KEEP_ALIVE"`
}

type Registry struct {
	WaitTimeout         time.Duration `yaml:"wait_timeout" env:"WAIT_TIMEOUT"`
	StrictMissingEntity bool          `yaml:"strict_missing_entity" env:"STRICT_MISSING_ENTITY"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	srv := server.DefaultConfig()
	tr := transport.DefaultOptions()
	return Config{
		Log: Log{Level: "info", Encoding: "json"},
		Server: Server{
			HTTPAddr:           srv.HTTPAddr,
			DefaultEnvironment: srv.DefaultEnvironment,
			MaxPeers:           srv.MaxPeers,
			SendTimeout:        srv.SendTimeout,
			ShutdownTimeout:    10 * time.Second,
		},
		Transport: Transport{
			MaxFrameSize:    tr.MaxFrameSize,
			WriteTimeout:    tr.WriteTimeout,
			ReadTimeout:     tr.ReadTimeout,
			EnableDatagrams: tr.EnableDatagrams,
			IdleTimeout:     tr.IdleTimeout,
			KeepAlive:       tr.KeepAlive,
		},
		Registry: Registry{WaitTimeout: srv.WaitTimeout},
	}
}

// Load reads path when it is not empty, then applies the environment, then
// validates.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := c.decode(bytes.NewReader(data)); err != nil {
			return nil, err
		}
	}
	if err := env.ParseWithOptions(&c, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Parse reads YAML from r over the defaults, without the environment.
func Parse(r io.Reader) (*Config, error) {
	c := Default()
	if err := c.decode(r); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch c.Log.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("%w: log encoding %q", ErrInvalid, c.Log.Encoding)
	}
	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		return fmt.Errorf("%w: cert_file and key_file go together", ErrInvalid)
	}
	switch {
	case c.Transport.MaxFrameSize <= 0:
		return fmt.Errorf("%w: max_frame_size must be positive", ErrInvalid)
	case c.Transport.WriteTimeout < 0, c.Transport.ReadTimeout < 0:
		return fmt.Errorf("%w: negative transport timeout", ErrInvalid)
	case c.Registry.WaitTimeout < 0:
		return fmt.Errorf("%w: negative wait_timeout", ErrInvalid)
	case c.Server.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: shutdown_timeout must be positive", ErrInvalid)
	}
	if err := c.serverConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// LoggerOptions maps the log section to log.New options.
func (c *Config) LoggerOptions() log.Options {
	level, _ := log.ParseLevel(c.Log.Level)
	return log.Options{
		Level:       level,
		Encoding:    c.Log.Encoding,
		Outputs:     c.Log.Outputs,
		Development: c.Log.Development,
	}
}

func (c *Config) TransportOptions() transport.Options {
	return transport.Options{
		MaxFrameSize:    c.Transport.MaxFrameSize,
		WriteTimeout:    c.Transport.WriteTimeout,
		ReadTimeout:     c.Transport.ReadTimeout,
		EnableDatagrams: c.Transport.EnableDatagrams,
		IdleTimeout:     c.Transport.IdleTimeout,
		KeepAlive:       c.Transport.KeepAlive,
	}
}

func (c *Config) serverConfig() server.Config {
	return server.Config{
		HTTPAddr:            c.Server.HTTPAddr,
		QUICAddr:            c.Server.QUICAddr,
		DefaultEnvironment:  c.Server.DefaultEnvironment,
		MaxPeers:            c.Server.MaxPeers,
		AuthTokens:          c.Server.AuthTokens,
		AllowedOrigins:      c.Server.AllowedOrigins,
		StrictMissingEntity: c.Registry.StrictMissingEntity,
		WaitTimeout:         c.Registry.WaitTimeout,
		SendTimeout:         c.Server.SendTimeout,
		RateLimit:           c.Server.RateLimit,
		RateWindow:          c.Server.RateWindow,
		Transport:           c.TransportOptions(),
	}
}

// ServerConfig builds the server configuration, loading the TLS key pair
// when one is configured.
func (c *Config) ServerConfig() (server.Config, error) {
	sc := c.serverConfig()
	if c.Server.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.Server.CertFile, c.Server.KeyFile)
		if err != nil {
			return server.Config{}, fmt.Errorf("load key pair: %w", err)
		}
		sc.TLS = &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{transport.ALPN},
			MinVersion:   tls.VersionTLS13,
		}
	}
	return sc, nil
}
