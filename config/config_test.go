package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andrejsstepanovs/zuul-build/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, DefaultDelay, c.Delay)
	assert.Equal(t, DefaultTimeout, c.Timeout)
	assert.Equal(t, uint32(20), c.PageSize)
	assert.Equal(t, "zuul.builds", c.NATS.Subject)
	assert.Equal(t, "none", c.Embedding.Client)
	assert.Equal(t, retry.DefaultPolicy(), c.Retry.Policy())
	assert.NoError(t, c.Validate())
	assert.Error(t, c.RequireURL())
}

func TestParse(t *testing.T) {
	t.Setenv("ZUUL_TEST_TOKEN", "secret")

	c, err := Parse([]byte(`
url: https://softwarefactory-project.io/zuul/api/tenant/local
token: ${ZUUL_TEST_TOKEN}
delay: 30s
page_size: 50
retry:
  initial: 100ms
  multiplier: 2
  max: 5s
  max_retries: 0
  jitter: false
archive: sf
nats:
  url: nats://localhost:4222
metrics_addr: ":9090"
embedding:
  client: ollama
  model: nomic-embed-text
`))
	require.NoError(t, err)

	assert.Equal(t, "https://softwarefactory-project.io/zuul/api/tenant/local", c.URL)
	assert.Equal(t, "secret", c.Token)
	assert.Equal(t, 30*time.Second, c.Delay)
	assert.Equal(t, DefaultTimeout, c.Timeout)
	assert.Equal(t, uint32(50), c.PageSize)
	assert.Equal(t, "sf", c.Archive)
	assert.Equal(t, "nats://localhost:4222", c.NATS.URL)
	assert.Equal(t, "zuul.builds", c.NATS.Subject)
	assert.Equal(t, ":9090", c.MetricsAddr)
	assert.Equal(t, EmbeddingConfig{Client: "ollama", Model: "nomic-embed-text"}, c.Embedding)
	assert.Equal(t, retry.Policy{
		Initial:    100 * time.Millisecond,
		Multiplier: 2,
		Max:        5 * time.Second,
		MaxRetries: 0,
		Jitter:     false,
	}, c.Retry.Policy())
	assert.NoError(t, c.Validate())
	assert.NoError(t, c.RequireURL())
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("delay: [1, 2"))
	assert.Error(t, err)

	_, err = Parse([]byte("delay: soon"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	t.Chdir(t.TempDir())

	c, err := Load(DefaultFile, false)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)

	_, err = Load("missing.yaml", true)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(".env", []byte("ZUUL_TEST_URL=https://zuul.example.com/api/\nZUUL_TEST_KEEP=from-file\n"), 0o600))
	t.Setenv("ZUUL_TEST_KEEP", "from-env")
	path := filepath.Join(t.TempDir(), "zuul.yaml")
	require.NoError(t, os.WriteFile(path, []byte("url: ${ZUUL_TEST_URL}\ntoken: ${ZUUL_TEST_KEEP}\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("ZUUL_TEST_URL") })

	c, err = Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "https://zuul.example.com/api/", c.URL)
	assert.Equal(t, "from-env", c.Token, "the process environment wins over .env")
}

func TestValidate(t *testing.T) {
	negative := -1
	testCases := []struct {
		name   string
		modify func(c *Config)
	}{
		{name: "invalid url", modify: func(c *Config) { c.URL = "zuul.example.com" }},
		{name: "zero delay", modify: func(c *Config) { c.Delay = 0 }},
		{name: "negative timeout", modify: func(c *Config) { c.Timeout = -time.Second }},
		{name: "page size too large", modify: func(c *Config) { c.PageSize = 5000 }},
		{name: "multiplier below one", modify: func(c *Config) { c.Retry.Multiplier = 0.5 }},
		{name: "negative retries", modify: func(c *Config) { c.Retry.MaxRetries = &negative }},
		{name: "negative retry delay", modify: func(c *Config) { c.Retry.Initial = -time.Second }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.modify(c)
			assert.Error(t, c.Validate())
		})
	}
}
