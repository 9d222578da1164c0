package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umi3d/umisync/internal/core/observability/log"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	sc, err := c.ServerConfig()
	require.NoError(t, err)
	assert.Equal(t, "default", sc.DefaultEnvironment)
	assert.Nil(t, sc.TLS)
	assert.True(t, sc.Transport.EnableDatagrams)
}

func TestParseYAML(t *testing.T) {
	c, err := Parse(strings.NewReader(`
log:
  level: debug
  encoding: console
server:
  http_addr: 0.0.0.0:9000
  quic_addr: 0.0.0.0:9001
  auth_tokens: [a, b]
  send_timeout: 2s
transport:
  max_frame_size: 1024
registry:
  wait_timeout: 1m
  strict_missing_entity: true
`))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", c.Server.HTTPAddr)
	assert.Equal(t, []string{"a", "b"}, c.Server.AuthTokens)
	assert.Equal(t, 2*time.Second, c.Server.SendTimeout)
	assert.Equal(t, time.Minute, c.Registry.WaitTimeout)
	assert.Equal(t, log.LevelDebug, c.LoggerOptions().Level)

	// untouched keys keep their defaults
	assert.Equal(t, "default", c.Server.DefaultEnvironment)

	sc, err := c.ServerConfig()
	require.NoError(t, err)
	assert.True(t, sc.StrictMissingEntity)
	assert.Equal(t, 1024, sc.Transport.MaxFrameSize)
}

func TestParseEmpty(t *testing.T) {
	c, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), *c)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(strings.NewReader("server:\n  listen: x\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"log level":     func(c *Config) { c.Log.Level = "loud" },
		"encoding":      func(c *Config) { c.Log.Encoding = "xml" },
		"half key pair": func(c *Config) { c.Server.CertFile = "cert.pem" },
		"frame size":    func(c *Config) { c.Transport.MaxFrameSize = 0 },
		"wait timeout":  func(c *Config) { c.Registry.WaitTimeout = -time.Second },
		"max peers":     func(c *Config) { c.Server.MaxPeers = 0 },
		"environment":   func(c *Config) { c.Server.DefaultEnvironment = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalid)
		})
	}
}

func TestLoadAppliesEnvironmentOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "umisync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_addr: 127.0.0.1:7000\n  max_peers: 5\n"), 0o600))

	t.Setenv("UMISYNC_SERVER_MAX_PEERS", "50")
	t.Setenv("UMISYNC_SERVER_AUTH_TOKENS", "x,y")
	t.Setenv("UMISYNC_REGISTRY_WAIT_TIMEOUT", "3s")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", c.Server.HTTPAddr)
	assert.Equal(t, 50, c.Server.MaxPeers)
	assert.Equal(t, []string{"x", "y"}, c.Server.AuthTokens)
	assert.Equal(t, 3*time.Second, c.Registry.WaitTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestServerConfigMissingKeyPair(t *testing.T) {
	c := Default()
	c.Server.CertFile = filepath.Join(t.TempDir(), "cert.pem")
	c.Server.KeyFile = filepath.Join(t.TempDir(), "key.pem")
	_, err := c.ServerConfig()
	assert.Error(t, err)
}
