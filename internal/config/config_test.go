package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"themesync/internal/errors"
	"themesync/internal/rate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "themesync.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
		"key": "k",
		"pass": "p",
		"name": "demo",
		"theme_id": "7",
		"base_path": "theme",
		"timeout": "30s",
		"rate": {"policy": "position", "burst": 36, "leak_rate": 2, "cooldown": 1500},
		"journal": {"path": "/tmp/journal"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "k", cfg.Key)
	assert.Equal(t, Duration(30*time.Second), cfg.Timeout)
	assert.Equal(t, rate.PolicyPosition, cfg.Rate.Policy)
	assert.Equal(t, 36, cfg.Rate.Burst)
	assert.Equal(t, Duration(1500*time.Millisecond), cfg.Rate.Cooldown)
	assert.Equal(t, rate.DefaultThreshold, cfg.Rate.Threshold, "unset fields keep defaults")
	assert.Equal(t, []string{".DS_Store"}, cfg.Ignore)
	assert.Equal(t, "/tmp/journal", cfg.Journal.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `{"timeout": "soon"}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestFinalize(t *testing.T) {
	cfg := Default()
	cfg.Name = "demo"
	cfg.ThemeID = "7"
	cfg.BasePath = "theme"
	t.Setenv("THEMESYNC_KEY", "env-key")
	t.Setenv("THEMESYNC_PASS", "env-pass")

	require.NoError(t, cfg.Finalize())

	assert.Equal(t, "demo.myshopify.com", cfg.Host)
	assert.Equal(t, "http://demo.myshopify.com?preview_theme_id=7", cfg.Preview)
	assert.True(t, filepath.IsAbs(cfg.BasePath))
	assert.Equal(t, "env-key", cfg.Key)
	assert.Equal(t, "env-pass", cfg.Pass)
	assert.Equal(t, "https://demo.myshopify.com/admin", cfg.BaseURL())

	cfg.APIURL = "http://127.0.0.1:9292/admin/"
	assert.Equal(t, "http://127.0.0.1:9292/admin", cfg.BaseURL())

	cfg.SetTheme("9", "Draft")
	assert.Equal(t, "Draft", cfg.ThemeName)
	assert.Equal(t, "http://demo.myshopify.com?preview_theme_id=9", cfg.Preview)
}

func TestFinalize_EmptyBasePathIsWorkingDir(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Finalize())

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, wd, cfg.BasePath)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Key, cfg.Pass, cfg.Host = "k", "p", "demo.myshopify.com"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing key", mutate: func(c *Config) { c.Key = "" }, wantErr: true},
		{name: "missing pass", mutate: func(c *Config) { c.Pass = "" }, wantErr: true},
		{name: "missing host", mutate: func(c *Config) { c.Host = "" }, wantErr: true},
		{name: "bad policy", mutate: func(c *Config) { c.Rate.Policy = "fast" }, wantErr: true},
		{name: "bad leak rate", mutate: func(c *Config) {
			c.Rate.Policy = rate.PolicyPosition
			c.Rate.LeakRate = -2
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, errors.ErrorTypeConfiguration, errors.TypeOf(err))
		})
	}
}
