// Package config loads and validates Ena's configuration surface
// (spec.md §6). Loading itself is treated as an external collaborator per
// spec.md §1 ("configuration loading from file" is out of scope) — this
// package deliberately stays small: one YAML unmarshal and one validation
// pass, no flag binding, no env-var layering, no live reload.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/PluieElectrique/ena/internal/enaerrors"
)

// RateLimitClass configures one named rate-limiter class (§4.1, §6).
type RateLimitClass struct {
	Interval      float64 `yaml:"interval"`
	MaxPerInterval int    `yaml:"max_interval"`
	MaxConcurrent int     `yaml:"max_concurrent"`
}

// RetryBackoffConfig configures the exponential backoff schedule (§4.2).
type RetryBackoffConfig struct {
	Base   float64 `yaml:"base"`
	Factor float64 `yaml:"factor"`
	Max    float64 `yaml:"max"`
}

// NetworkConfig groups the rate-limiting and retry surface.
type NetworkConfig struct {
	RateLimiting map[string]RateLimitClass `yaml:"rate_limiting"`
	RetryBackoff RetryBackoffConfig        `yaml:"retry_backoff"`
}

// ScrapingConfig is the default board scraping policy, overridable per board.
type ScrapingConfig struct {
	PollIntervalSeconds int  `yaml:"poll_interval"`
	FetchArchive        bool `yaml:"fetch_archive"`
	DownloadMedia       bool `yaml:"download_media"`
	DownloadThumbs      bool `yaml:"download_thumbs"`
}

// PollInterval returns the scraping config's poll interval as a Duration.
func (s ScrapingConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// BoardOverride is a per-board override of the default ScrapingConfig; nil
// fields inherit the default.
type BoardOverride struct {
	PollIntervalSeconds *int  `yaml:"poll_interval"`
	FetchArchive        *bool `yaml:"fetch_archive"`
	DownloadMedia       *bool `yaml:"download_media"`
	DownloadThumbs      *bool `yaml:"download_thumbs"`
}

// Resolve merges a board's override onto the default scraping config.
func (b BoardOverride) Resolve(def ScrapingConfig) ScrapingConfig {
	out := def
	if b.PollIntervalSeconds != nil {
		out.PollIntervalSeconds = *b.PollIntervalSeconds
	}
	if b.FetchArchive != nil {
		out.FetchArchive = *b.FetchArchive
	}
	if b.DownloadMedia != nil {
		out.DownloadMedia = *b.DownloadMedia
	}
	if b.DownloadThumbs != nil {
		out.DownloadThumbs = *b.DownloadThumbs
	}
	return out
}

// DatabaseMediaConfig is the §6 "database_media" surface.
type DatabaseMediaConfig struct {
	DatabaseURL string `yaml:"database_url"`
	Charset     string `yaml:"charset"`
	MediaDir    string `yaml:"media_dir"`
}

// AsagiCompatConfig is the §6 "asagi_compat" surface.
type AsagiCompatConfig struct {
	AdjustTimestamps      bool `yaml:"adjust_timestamps"`
	RefetchArchivedThreads bool `yaml:"refetch_archived_threads"`
	AlwaysAddArchiveTimes bool `yaml:"always_add_archive_times"`
	CreateIndexCounters   bool `yaml:"create_index_counters"`
}

// Config is the full, immutable configuration surface. Once Load returns, no
// field is ever mutated.
type Config struct {
	Scraping      ScrapingConfig           `yaml:"scraping"`
	Boards        map[string]BoardOverride `yaml:"boards"`
	Network       NetworkConfig            `yaml:"network"`
	DatabaseMedia DatabaseMediaConfig      `yaml:"database_media"`
	AsagiCompat   AsagiCompatConfig        `yaml:"asagi_compat"`

	// ArchivePollIntervalSeconds is the archive.json poll cadence
	// (spec.md §4.5 step 2: "archive_poll_interval ≫ poll_interval").
	ArchivePollIntervalSeconds int `yaml:"archive_poll_interval"`
}

// BoardNames returns the configured board short tags in a deterministic
// (sorted) order, so Supervisor spawns pipelines reproducibly.
func (c Config) BoardNames() []string {
	names := make([]string, 0, len(c.Boards))
	for name := range c.Boards {
		names = append(names, name)
	}
	sortStrings(names)
	return names
}

// ScrapingFor resolves the effective scraping policy for a board.
func (c Config) ScrapingFor(board string) ScrapingConfig {
	if o, ok := c.Boards[board]; ok {
		return o.Resolve(c.Scraping)
	}
	return c.Scraping
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Load reads and parses the YAML file at path, then validates it.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, errors.Wrap(err, "parse config file")
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate enforces the ConfigInvariant error kind of spec.md §7: any
// violation here is fatal at startup.
func (c Config) Validate() error {
	if c.Scraping.PollIntervalSeconds <= 0 {
		return enaerrors.NewConfigInvariant("scraping.poll_interval", "must be positive")
	}
	if c.DatabaseMedia.DatabaseURL == "" {
		return enaerrors.NewConfigInvariant("database_media.database_url", "must not be empty")
	}
	if c.DatabaseMedia.MediaDir == "" {
		return enaerrors.NewConfigInvariant("database_media.media_dir", "must not be empty")
	}
	if c.Network.RetryBackoff.Base < 1 {
		return enaerrors.NewConfigInvariant("network.retry_backoff.base", "must be >= 1 second")
	}
	if c.Network.RetryBackoff.Factor < 2 {
		return enaerrors.NewConfigInvariant("network.retry_backoff.factor", "must be >= 2")
	}
	if c.Network.RetryBackoff.Max < 0 {
		return enaerrors.NewConfigInvariant("network.retry_backoff.max", "must be >= 0")
	}
	for class, rl := range c.Network.RateLimiting {
		if rl.Interval <= 0 {
			return enaerrors.NewConfigInvariant("network.rate_limiting."+class+".interval", "must be positive")
		}
		if rl.MaxPerInterval <= 0 {
			return enaerrors.NewConfigInvariant("network.rate_limiting."+class+".max_interval", "must be positive")
		}
		if rl.MaxConcurrent <= 0 {
			return enaerrors.NewConfigInvariant("network.rate_limiting."+class+".max_concurrent", "must be positive")
		}
	}
	for board, override := range c.Boards {
		if override.PollIntervalSeconds != nil && *override.PollIntervalSeconds <= 0 {
			return enaerrors.NewConfigInvariant("boards."+board+".poll_interval", "must be positive")
		}
	}
	return nil
}
