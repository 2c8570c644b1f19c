// internal/config/config.go
package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"themesync/internal/errors"
	"themesync/internal/rate"

	"github.com/goccy/go-json"
)

// DefaultPath is the config file read when --config is not given.
const DefaultPath = "themesync.json"

// Duration accepts either a Go duration string ("1s", "250ms") or a number of milliseconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}

	ms, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(time.Duration(ms * float64(time.Millisecond)))
	return nil
}

type Config struct {
	Key         string   `json:"key"`
	Pass        string   `json:"pass"`
	Name        string   `json:"name"` // shop name, host defaults to <name>.myshopify.com
	Host        string   `json:"host"`
	ThemeID     string   `json:"theme_id"`
	ThemeName   string   `json:"theme_name"`
	BasePath    string   `json:"base_path"`
	Preview     string   `json:"preview"`
	OpenBrowser bool     `json:"open_browser"`
	LogLevel    string   `json:"log_level"` // debug, info, warn, error
	Ignore      []string `json:"ignore"`
	Timeout     Duration `json:"timeout"`

	// APIURL overrides the admin API root derived from Host, e.g. for the local stub.
	APIURL string `json:"api_url"`

	Rate struct {
		Policy    string   `json:"policy"` // telemetry, position, bucket
		Burst     int      `json:"burst"`
		LeakRate  float64  `json:"leak_rate"`
		Cooldown  Duration `json:"cooldown"`
		Threshold float64  `json:"threshold"`
	} `json:"rate"`

	Breaker struct {
		Enabled  bool     `json:"enabled"`
		Failures uint32   `json:"failures"`
		Timeout  Duration `json:"timeout"`
	} `json:"breaker"`

	Journal struct {
		Path string `json:"path"`
	} `json:"journal"`
}

// Default returns a Config with every optional field filled in.
func Default() *Config {
	cfg := &Config{
		LogLevel: "info",
		Ignore:   []string{".DS_Store"},
		Timeout:  Duration(120 * time.Second),
	}
	cfg.Rate.Policy = rate.PolicyTelemetry
	cfg.Rate.Burst = rate.DefaultBurst
	cfg.Rate.LeakRate = rate.DefaultLeakRate
	cfg.Rate.Cooldown = Duration(rate.DefaultCooldown)
	cfg.Rate.Threshold = rate.DefaultThreshold
	return cfg
}

// Load reads path over the defaults. A missing file at DefaultPath is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	file, err := os.Open(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) && path == DefaultPath {
			return cfg, nil
		}
		return nil, err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	return cfg, nil
}

// Finalize fills derived fields: credentials from the environment, host, preview URL and
// an absolute base path.
func (c *Config) Finalize() error {
	if c.Key == "" {
		c.Key = os.Getenv("THEMESYNC_KEY")
	}
	if c.Pass == "" {
		c.Pass = os.Getenv("THEMESYNC_PASS")
	}

	if c.Host == "" && c.Name != "" {
		c.Host = c.Name + ".myshopify.com"
	}
	c.Preview = c.previewURL()

	if c.BasePath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting current directory: %w", err)
		}
		c.BasePath = wd
	} else {
		abs, err := filepath.Abs(c.BasePath)
		if err != nil {
			return fmt.Errorf("resolving base path: %w", err)
		}
		c.BasePath = abs
	}
	return nil
}

// SetTheme records the theme a session resolved to.
func (c *Config) SetTheme(id, name string) {
	c.ThemeID = id
	c.ThemeName = name
	c.Preview = c.previewURL()
}

func (c *Config) previewURL() string {
	return "http://" + c.Host + "?preview_theme_id=" + c.ThemeID
}

// Validate checks everything a session needs before it starts.
func (c *Config) Validate() error {
	if c.Key == "" {
		return errors.Configuration("API key for the shop does not exist")
	}
	if c.Pass == "" {
		return errors.Configuration("password for the shop does not exist")
	}
	if c.Host == "" {
		return errors.Configuration("host for the shop does not exist")
	}
	if c.Timeout < 0 {
		return errors.Configuration("timeout must not be negative")
	}
	return c.RateParams().Validate()
}

func (c *Config) RateParams() rate.Params {
	return rate.Params{
		Policy:    c.Rate.Policy,
		Burst:     c.Rate.Burst,
		LeakRate:  c.Rate.LeakRate,
		Cooldown:  time.Duration(c.Rate.Cooldown),
		Threshold: c.Rate.Threshold,
	}
}

// BaseURL is the admin API root.
func (c *Config) BaseURL() string {
	if c.APIURL != "" {
		return strings.TrimRight(c.APIURL, "/")
	}
	return "https://" + c.Host + "/admin"
}
