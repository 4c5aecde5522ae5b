package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the pagerun daemon settings.
type Config struct {
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	CallTimeoutMS int
	TabTimeoutMS  int
	Concurrency   int

	ResultsDir       string
	ResultsMaxSizeMB int

	LogLevel string
	LogFile  string

	// NotifyURL receives a plain-text summary after each run when set.
	NotifyURL string

	Browser BrowserOptions
}

// BrowserOptions select and configure the browser runs are driven against.
// They are handed to the browser package explicitly.
type BrowserOptions struct {
	// Kind is a registered possible-browser name: "remote" or "exec".
	Kind       string            `yaml:"kind"`
	CDPAddress string            `yaml:"cdp_address"`
	CDPPort    int               `yaml:"cdp_port"`
	ExecPath   string            `yaml:"exec_path"`
	ProfileDir string            `yaml:"profile_dir"`
	Headless   bool              `yaml:"headless"`
	WindowSize string            `yaml:"window_size"`
	Flags      map[string]string `yaml:"flags"`
	// StartTimeoutMS bounds how long a launched browser may take to answer.
	StartTimeoutMS int `yaml:"start_timeout_ms"`
}

// Load reads configuration from environment variables and an optional .env
// file. PAGERUN_BROWSER_OPTIONS_FILE names a YAML file whose values fill
// the browser options before the environment overrides them.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	var browser BrowserOptions
	if path := os.Getenv("PAGERUN_BROWSER_OPTIONS_FILE"); path != "" {
		if err := LoadBrowserOptionsFile(path, &browser); err != nil {
			return nil, err
		}
	}
	browser.Kind = getEnvOrDefault("PAGERUN_BROWSER", orDefault(browser.Kind, "remote"))
	browser.CDPAddress = getEnvOrDefault("CHROMIUM_CDP_ADDRESS", orDefault(browser.CDPAddress, "127.0.0.1"))
	browser.CDPPort = getEnvIntOrDefault("CHROMIUM_CDP_PORT", orDefaultInt(browser.CDPPort, 9222))
	browser.ExecPath = getEnvOrDefault("PAGERUN_BROWSER_PATH", browser.ExecPath)
	browser.ProfileDir = getEnvOrDefault("PAGERUN_BROWSER_PROFILE_DIR", orDefault(browser.ProfileDir, "./browser_profile"))
	browser.Headless = getEnvBoolOrDefault("PAGERUN_BROWSER_HEADLESS", browser.Headless)
	browser.StartTimeoutMS = orDefaultInt(browser.StartTimeoutMS, 15000)

	cfg := &Config{
		BindAddr:         getEnvOrDefault("PAGERUN_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:   getEnvListOrDefault("PAGERUN_PORT_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192"}),
		PortAutoFallback: getEnvBoolOrDefault("PAGERUN_PORT_AUTO_FALLBACK", true),
		CallTimeoutMS:    getEnvIntOrDefault("PAGERUN_CALL_TIMEOUT_MS", 60000),
		TabTimeoutMS:     getEnvIntOrDefault("PAGERUN_TAB_TIMEOUT_MS", 30000),
		Concurrency:      getEnvIntOrDefault("PAGERUN_CONCURRENCY", 1),
		ResultsDir:       getEnvOrDefault("PAGERUN_RESULTS_DIR", "./results"),
		ResultsMaxSizeMB: getEnvIntOrDefault("PAGERUN_RESULTS_MAX_SIZE_MB", 50),
		LogLevel:         strings.ToLower(getEnvOrDefault("PAGERUN_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("PAGERUN_LOG_FILE", "logs/pagerun.log"),
		NotifyURL:        os.Getenv("PAGERUN_NOTIFY_URL"),
		Browser:          browser,
	}
	if cfg.CallTimeoutMS < 1000 {
		cfg.CallTimeoutMS = 1000
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return cfg, nil
}

// LoadBrowserOptionsFile decodes a YAML browser options file into opts.
func LoadBrowserOptionsFile(path string, opts *BrowserOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("browser options: %w", err)
	}
	if err := yaml.Unmarshal(data, opts); err != nil {
		return fmt.Errorf("browser options %s: %w", path, err)
	}
	if opts.CDPPort < 0 || opts.CDPPort > 65535 {
		return fmt.Errorf("browser options %s: cdp_port %d out of range", path, opts.CDPPort)
	}
	return nil
}

func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMS) * time.Millisecond
}

func (c *Config) TabTimeout() time.Duration {
	return time.Duration(c.TabTimeoutMS) * time.Millisecond
}

// CDPURL returns the DevTools HTTP endpoint.
func (b BrowserOptions) CDPURL() string {
	return "http://" + b.CDPAddress + ":" + strconv.Itoa(b.CDPPort)
}

func (b BrowserOptions) StartTimeout() time.Duration {
	return time.Duration(b.StartTimeoutMS) * time.Millisecond
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orDefaultInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}
