package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(`
db:
  driver: sqlite
jwt:
  secret: test-secret
`), 0o600))
	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("CONFIG_ENV", "base")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8085", cfg.Server.Port)
	assert.Equal(t, "notifyhub.db", cfg.DB.Path)
	assert.Equal(t, 64, cfg.Notification.BrokerBufferSize)
	assert.Equal(t, OverflowDropOldest, cfg.Notification.OverflowPolicy)
	assert.Equal(t, 20, cfg.Notification.DefaultPageSize)
	assert.Equal(t, 100, cfg.Notification.MaxPageSize)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.DB.Driver = "mysql" }, wantErr: true},
		{name: "unknown overflow policy", mutate: func(c *Config) { c.Notification.OverflowPolicy = "block" }, wantErr: true},
		{name: "default page above max", mutate: func(c *Config) { c.Notification.DefaultPageSize = 500 }, wantErr: true},
		{name: "missing jwt secret", mutate: func(c *Config) { c.JWT.Secret = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.JWT.Secret = "s"
			cfg.applyDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
