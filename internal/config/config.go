// Package config loads and validates property-monitor configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/JakeFAU/property-monitor/internal/backoff"
	"github.com/JakeFAU/property-monitor/internal/export"
	"github.com/JakeFAU/property-monitor/internal/extract"
	"github.com/JakeFAU/property-monitor/internal/fetcher"
	"github.com/JakeFAU/property-monitor/internal/logging"
	"github.com/JakeFAU/property-monitor/internal/policy/ratelimit"
	pubsubpub "github.com/JakeFAU/property-monitor/internal/publisher/pubsub"
	"github.com/JakeFAU/property-monitor/internal/scraper"
	"github.com/JakeFAU/property-monitor/internal/storage/gcs"
	"github.com/JakeFAU/property-monitor/internal/storage/local"
	"github.com/JakeFAU/property-monitor/internal/storage/postgres"
)

// EnvPrefix is prepended to every environment override, e.g. PROPMON_FETCH_CONCURRENCY.
const EnvPrefix = "PROPMON"

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Mirror kinds.
const (
	MirrorNone  = ""
	MirrorGCS   = "gcs"
	MirrorLocal = "local"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Site       SiteConfig         `mapstructure:"site"`
	Scrape     ScrapeConfig       `mapstructure:"scrape"`
	Fetch      FetchConfig        `mapstructure:"fetch"`
	Backoff    backoff.Config     `mapstructure:"backoff"`
	Politeness scraper.Politeness `mapstructure:"politeness"`
	Store      StoreConfig        `mapstructure:"store"`
	Export     ExportConfig       `mapstructure:"export"`
	Notify     NotifyConfig       `mapstructure:"notify"`
	Logging    logging.Config     `mapstructure:"logging"`
	Watch      WatchConfig        `mapstructure:"watch"`
}

// SiteConfig describes the search being scraped and how to read its cards.
type SiteConfig struct {
	scraper.Site `mapstructure:",squash"`
	Selectors    extract.Selectors `mapstructure:"selectors"`
}

// ScrapeConfig sizes a single run.
type ScrapeConfig struct {
	Pages      int           `mapstructure:"pages"`
	RunTimeout time.Duration `mapstructure:"run_timeout"`
}

// FetchConfig governs the fetcher and its optional per-host throttle.
type FetchConfig struct {
	fetcher.Config `mapstructure:",squash"`
	RateLimit      ratelimit.Config `mapstructure:"rate_limit"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Driver   string          `mapstructure:"driver"`
	Postgres postgres.Config `mapstructure:"postgres"`
}

// ExportConfig controls the artifact and its optional mirror.
type ExportConfig struct {
	export.Config `mapstructure:",squash"`
	Mirror        MirrorConfig `mapstructure:"mirror"`
}

// MirrorConfig picks where exports are copied.
type MirrorConfig struct {
	Kind  string       `mapstructure:"kind"`
	GCS   gcs.Config   `mapstructure:"gcs"`
	Local local.Config `mapstructure:"local"`
}

// NotifyConfig enables run notifications over Pub/Sub.
type NotifyConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	PubSub  pubsubpub.Config `mapstructure:"pubsub"`
}

// WatchConfig drives the scheduled mode.
type WatchConfig struct {
	Schedule   string `mapstructure:"schedule"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	site := scraper.DefaultSite()
	sel := extract.DefaultSelectors()
	fc := fetcher.DefaultConfig()
	bc := backoff.DefaultConfig()
	pol := scraper.DefaultPoliteness()
	ec := export.DefaultConfig()
	lc := logging.DefaultConfig()

	v.SetDefault("site.url_template", site.URLTemplate)
	v.SetDefault("site.link_base", site.LinkBase)
	v.SetDefault("site.page_size", site.PageSize)
	v.SetDefault("site.selectors.card", sel.Card)
	v.SetDefault("site.selectors.price", sel.Price)
	v.SetDefault("site.selectors.address", sel.Address)
	v.SetDefault("site.selectors.description", sel.Description)
	v.SetDefault("site.selectors.bedrooms", sel.Bedrooms)
	v.SetDefault("site.selectors.link", sel.Link)

	v.SetDefault("scrape.pages", 20)
	v.SetDefault("scrape.run_timeout", time.Duration(0))

	v.SetDefault("fetch.concurrency", fc.Concurrency)
	v.SetDefault("fetch.max_attempts", fc.MaxAttempts)
	v.SetDefault("fetch.timeout", fc.Timeout)
	// Env values are split on whitespace, so multi-word UA strings only work from the file.
	v.SetDefault("fetch.user_agents", fetcher.DefaultUserAgents)
	v.SetDefault("fetch.block_markers", fc.BlockMarkers)
	v.SetDefault("fetch.rate_limit.rps", 0.0)
	v.SetDefault("fetch.rate_limit.burst", 1)

	v.SetDefault("backoff.base", bc.Base)
	v.SetDefault("backoff.unit", bc.Unit)
	v.SetDefault("backoff.jitter", bc.Jitter)
	v.SetDefault("backoff.max", bc.Max)

	v.SetDefault("politeness.min", pol.Min)
	v.SetDefault("politeness.max", pol.Max)

	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.table", "properties")
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("store.postgres.min_conns", 0)
	v.SetDefault("store.postgres.max_conn_lifetime", time.Hour)

	v.SetDefault("export.dir", ec.Dir)
	v.SetDefault("export.prefix", ec.Prefix)
	v.SetDefault("export.format", ec.Format)
	v.SetDefault("export.mirror.kind", MirrorNone)
	v.SetDefault("export.mirror.gcs.bucket", "")
	v.SetDefault("export.mirror.gcs.prefix", "exports")
	v.SetDefault("export.mirror.local.base_dir", "")

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic_id", "property-monitor-runs")

	v.SetDefault("logging.development", lc.Development)
	v.SetDefault("logging.level", lc.Level)
	v.SetDefault("logging.file", lc.File)
	v.SetDefault("logging.max_size_mb", lc.MaxSizeMB)
	v.SetDefault("logging.max_backups", lc.MaxBackups)
	v.SetDefault("logging.max_age_days", lc.MaxAgeDays)
	v.SetDefault("logging.compress", lc.Compress)

	v.SetDefault("watch.schedule", "@every 6h")
	v.SetDefault("watch.listen_addr", ":8080")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.Site.Validate(); err != nil {
		return err
	}
	if c.Scrape.Pages < 0 {
		return errors.New("scrape.pages must be >= 0")
	}
	if c.Scrape.RunTimeout < 0 {
		return errors.New("scrape.run_timeout must be >= 0")
	}
	if c.Fetch.Concurrency <= 0 {
		return errors.New("fetch.concurrency must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return errors.New("fetch.max_attempts must be > 0")
	}
	if c.Fetch.Timeout <= 0 {
		return errors.New("fetch.timeout must be > 0")
	}
	if c.Fetch.RateLimit.RPS < 0 {
		return errors.New("fetch.rate_limit.rps must be >= 0")
	}
	if c.Backoff.Base <= 1 {
		return errors.New("backoff.base must be > 1")
	}
	if c.Politeness.Min < 0 || c.Politeness.Max < c.Politeness.Min {
		return errors.New("politeness.min must be >= 0 and <= politeness.max")
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			return errors.New("store.postgres.dsn is required when store.driver is postgres")
		}
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store.Driver)
	}
	if err := c.Export.Config.Validate(); err != nil {
		return err
	}
	switch c.Export.Mirror.Kind {
	case MirrorNone:
	case MirrorGCS:
		if c.Export.Mirror.GCS.Bucket == "" {
			return errors.New("export.mirror.gcs.bucket is required when export.mirror.kind is gcs")
		}
	case MirrorLocal:
		if c.Export.Mirror.Local.BaseDir == "" {
			return errors.New("export.mirror.local.base_dir is required when export.mirror.kind is local")
		}
	default:
		return fmt.Errorf("export.mirror.kind %q is not supported", c.Export.Mirror.Kind)
	}
	if c.Notify.Enabled && (c.Notify.PubSub.ProjectID == "" || c.Notify.PubSub.TopicID == "") {
		return errors.New("notify.pubsub.project_id and topic_id must be set when notify is enabled")
	}
	if _, err := cron.ParseStandard(c.Watch.Schedule); err != nil {
		return fmt.Errorf("watch.schedule: %w", err)
	}
	return nil
}
