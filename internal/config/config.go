// Package config loads and validates site-capture configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/site-capture/internal/capture"
	"github.com/JakeFAU/site-capture/internal/crawler"
	"github.com/JakeFAU/site-capture/internal/policy/ratelimit"
	"github.com/JakeFAU/site-capture/internal/render"
)

// EnvPrefix is prepended to every environment override, e.g.
// SITECAPTURE_CAPTURE_MODE=json.
const EnvPrefix = "SITECAPTURE"

// Config captures every knob loaded via Viper.
type Config struct {
	Logging      LoggingConfig      `mapstructure:"logging"`
	Discovery    DiscoveryConfig    `mapstructure:"discovery"`
	Render       RenderConfig       `mapstructure:"render"`
	Capture      CaptureConfig      `mapstructure:"capture"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	RateLimit    ratelimit.Config   `mapstructure:"rate_limit"`
	Output       OutputConfig       `mapstructure:"output"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Database     DatabaseConfig     `mapstructure:"database"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Server       ServerConfig       `mapstructure:"server"`
	Progress     ProgressConfig     `mapstructure:"progress"`
}

// LoggingConfig toggles zap development features and the rotating file.
type LoggingConfig struct {
	Development bool              `mapstructure:"development"`
	Level       string            `mapstructure:"level"`
	File        LoggingFileConfig `mapstructure:"file"`
}

// LoggingFileConfig configures the lumberjack log file.
type LoggingFileConfig struct {
	// Path defaults to <output.dir>/logs/sitecapture.log; "-" disables it.
	Path string `mapstructure:"path"`
	// Level filters the file separately from the console.
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DiscoveryConfig governs link discovery.
type DiscoveryConfig struct {
	MaxDepth        int           `mapstructure:"max_depth"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay   time.Duration `mapstructure:"retry_max_delay"`
	Delay           time.Duration `mapstructure:"delay"`
	UserAgent       string        `mapstructure:"user_agent"`
	RespectRobots   bool          `mapstructure:"respect_robots"`
	MaxURLs         int           `mapstructure:"max_urls"`
	ExcludeMarkers  []string      `mapstructure:"exclude_markers"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors"`
}

// RenderConfig configures the headless browser.
type RenderConfig struct {
	Enabled          bool              `mapstructure:"enabled"`
	Headless         bool              `mapstructure:"headless"`
	NoSandbox        bool              `mapstructure:"no_sandbox"`
	ExecPath         string            `mapstructure:"exec_path"`
	PageLoadTimeout  time.Duration     `mapstructure:"page_load_timeout"`
	ScriptTimeout    time.Duration     `mapstructure:"script_timeout"`
	ScrollSteps      int               `mapstructure:"scroll_steps"`
	SettleDelay      time.Duration     `mapstructure:"settle_delay"`
	UserAgent        string            `mapstructure:"user_agent"`
	WindowWidth      int               `mapstructure:"window_width"`
	WindowHeight     int               `mapstructure:"window_height"`
	ReapProcessNames []string          `mapstructure:"reap_process_names"`
	PDF              render.PDFOptions `mapstructure:"pdf"`
}

// CaptureConfig selects the mode and strategy chain.
type CaptureConfig struct {
	Mode             string        `mapstructure:"mode"`
	Strategies       []string      `mapstructure:"strategies"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay"`
	MinArtifactBytes int           `mapstructure:"min_artifact_bytes"`
	Precheck         bool          `mapstructure:"precheck"`
}

// OrchestratorConfig paces the capture loop.
type OrchestratorConfig struct {
	Workers       int           `mapstructure:"workers"`
	InterURLDelay time.Duration `mapstructure:"inter_url_delay"`
	MaxURLs       int           `mapstructure:"max_urls"`
}

// OutputConfig sets where run files land.
type OutputConfig struct {
	Dir          string        `mapstructure:"dir"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
}

// StorageConfig holds optional remote mirrors.
type StorageConfig struct {
	GCS GCSConfig `mapstructure:"gcs"`
}

// GCSConfig enables the GCS mirror when Bucket is set.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// DatabaseConfig enables the Postgres run store when DSN is set.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig enables run notifications when Topic is set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxConcurrentRuns bounds runs started through the API.
	MaxConcurrentRuns int `mapstructure:"max_concurrent_runs"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	Spinner    bool `mapstructure:"spinner"`
	BufferSize int  `mapstructure:"buffer_size"`
}

// Load builds a Config from defaults, a YAML file and the environment, in
// increasing order of precedence. With an empty path, sitecapture.yaml is
// looked up in the working directory and then $HOME/.sitecapture.
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
	} else {
		v.SetConfigName("sitecapture")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.sitecapture")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.level", "debug")
	v.SetDefault("logging.file.max_size_mb", 50)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 14)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("discovery.max_depth", 2)
	v.SetDefault("discovery.request_timeout", "10s")
	v.SetDefault("discovery.max_retries", 3)
	v.SetDefault("discovery.retry_base_delay", "1s")
	v.SetDefault("discovery.retry_max_delay", "8s")
	v.SetDefault("discovery.delay", "1s")
	v.SetDefault("discovery.user_agent", crawler.DefaultUserAgent)
	v.SetDefault("discovery.respect_robots", false)
	v.SetDefault("discovery.max_urls", 0)
	v.SetDefault("discovery.exclude_markers", crawler.DefaultExcludeMarkers)
	v.SetDefault("discovery.ignore_tls_errors", false)

	pdf := render.DefaultPDFOptions()
	v.SetDefault("render.enabled", true)
	v.SetDefault("render.headless", true)
	v.SetDefault("render.no_sandbox", false)
	v.SetDefault("render.exec_path", "")
	v.SetDefault("render.page_load_timeout", "30s")
	v.SetDefault("render.script_timeout", "30s")
	v.SetDefault("render.scroll_steps", 10)
	v.SetDefault("render.settle_delay", "500ms")
	v.SetDefault("render.user_agent", crawler.DefaultUserAgent)
	v.SetDefault("render.window_width", 1920)
	v.SetDefault("render.window_height", 1080)
	v.SetDefault("render.reap_process_names", []string{})
	v.SetDefault("render.pdf.paper_width", pdf.PaperWidth)
	v.SetDefault("render.pdf.paper_height", pdf.PaperHeight)
	v.SetDefault("render.pdf.margin", pdf.Margin)
	v.SetDefault("render.pdf.scale", pdf.Scale)
	v.SetDefault("render.pdf.print_background", pdf.PrintBackground)
	v.SetDefault("render.pdf.prefer_css_page_size", pdf.PreferCSSPageSize)
	v.SetDefault("render.pdf.landscape", pdf.Landscape)

	v.SetDefault("capture.mode", string(crawler.ModePDF))
	v.SetDefault("capture.strategies", []string{})
	v.SetDefault("capture.max_retries", 2)
	v.SetDefault("capture.retry_base_delay", "5s")
	v.SetDefault("capture.retry_max_delay", "30s")
	v.SetDefault("capture.min_artifact_bytes", capture.DefaultMinArtifactBytes)
	v.SetDefault("capture.precheck", true)

	v.SetDefault("orchestrator.workers", 1)
	v.SetDefault("orchestrator.inter_url_delay", "3s")
	v.SetDefault("orchestrator.max_urls", 0)

	v.SetDefault("rate_limit.rps", 2.0)
	v.SetDefault("rate_limit.burst", 2)

	v.SetDefault("output.dir", "output")
	v.SetDefault("output.flush_timeout", "30s")

	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "site-capture")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "capture_runs")
	v.SetDefault("database.max_conns", 4)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.max_concurrent_runs", 2)

	v.SetDefault("progress.spinner", true)
	v.SetDefault("progress.buffer_size", 1024)
}

// Validate enforces required values and sane limits. Every error wraps
// crawler.ErrConfiguration.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Discovery.MaxDepth >= 0, "discovery.max_depth must be >= 0")
	check(c.Discovery.RequestTimeout > 0, "discovery.request_timeout must be > 0")
	check(c.Discovery.MaxRetries >= 0, "discovery.max_retries must be >= 0")
	check(c.Discovery.Delay >= 0, "discovery.delay must be >= 0")
	check(c.Discovery.MaxURLs >= 0, "discovery.max_urls must be >= 0")

	check(c.Render.PageLoadTimeout > 0, "render.page_load_timeout must be > 0")
	check(c.Render.ScriptTimeout > 0, "render.script_timeout must be > 0")
	check(c.Render.ScrollSteps >= 0, "render.scroll_steps must be >= 0")
	check(c.Render.PDF.Scale > 0 && c.Render.PDF.Scale <= 2, "render.pdf.scale must be in (0, 2]")

	mode, err := crawler.ParseCaptureMode(c.Capture.Mode)
	if err != nil {
		errs = append(errs, fmt.Errorf("capture.mode: %q is not pdf or json", c.Capture.Mode))
	}
	if err == nil && !c.Render.Enabled {
		for _, name := range c.Strategies(mode) {
			if needsBrowser(name) {
				errs = append(errs, fmt.Errorf("capture.strategies: %q needs render.enabled", name))
			}
		}
	}
	check(c.Capture.MaxRetries > 0, "capture.max_retries must be > 0")
	check(c.Capture.RetryBaseDelay >= 0, "capture.retry_base_delay must be >= 0")

	check(c.Orchestrator.Workers > 0, "orchestrator.workers must be > 0")
	check(c.Orchestrator.InterURLDelay >= 0, "orchestrator.inter_url_delay must be >= 0")
	check(c.Orchestrator.MaxURLs >= 0, "orchestrator.max_urls must be >= 0")

	check(c.RateLimit.RPS >= 0, "rate_limit.rps must be >= 0")
	check(strings.TrimSpace(c.Output.Dir) != "", "output.dir is required")
	check(c.Output.FlushTimeout > 0, "output.flush_timeout must be > 0")
	check(c.PubSub.Topic == "" || c.PubSub.ProjectID != "", "pubsub.project_id is required when pubsub.topic is set")
	check(c.Server.MaxConcurrentRuns > 0, "server.max_concurrent_runs must be > 0")
	check(c.Server.ShutdownTimeout > 0, "server.shutdown_timeout must be > 0")

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", crawler.ErrConfiguration, errors.Join(errs...))
}

// Mode returns the validated capture mode.
func (c Config) Mode() crawler.CaptureMode {
	mode, err := crawler.ParseCaptureMode(c.Capture.Mode)
	if err != nil {
		return crawler.ModePDF
	}
	return mode
}

// Strategies returns the configured strategy names, or the mode's defaults.
// Defaults that need a browser are dropped when rendering is disabled.
func (c Config) Strategies(mode crawler.CaptureMode) []string {
	if len(c.Capture.Strategies) > 0 {
		return c.Capture.Strategies
	}
	defaults := capture.DefaultStrategies(mode)
	if c.Render.Enabled {
		return defaults
	}
	out := make([]string, 0, len(defaults))
	for _, name := range defaults {
		if !needsBrowser(name) {
			out = append(out, name)
		}
	}
	return out
}

func needsBrowser(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case capture.NameRendered, capture.NameRenderedRecord:
		return true
	default:
		return false
	}
}

// FetchAttempts is the total number of GETs per page: the first plus
// max_retries retries.
func (d DiscoveryConfig) FetchAttempts() int {
	return d.MaxRetries + 1
}

// LogFilePath resolves the rotating log file location; empty disables it.
func (c Config) LogFilePath() string {
	switch c.Logging.File.Path {
	case "-":
		return ""
	case "":
		return filepath.Join(c.Output.Dir, "logs", "sitecapture.log")
	default:
		return c.Logging.File.Path
	}
}
