package config

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"clubhall/internal/booking"
)

type Config struct {
	Server struct {
		Port                int     `yaml:"port"`
		ReadTimeoutSeconds  int     `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds int     `yaml:"write_timeout_seconds"`
		RateLimitRPS        float64 `yaml:"rate_limit_rps"`
		RateLimitBurst      int     `yaml:"rate_limit_burst"`
		// TrustedProxies lists the addresses or CIDRs whose X-Forwarded-For is honoured.
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Audit struct {
		Enabled       bool   `yaml:"enabled"`
		Path          string `yaml:"path"`
		ExportOnStart bool   `yaml:"export_on_start"`
	} `yaml:"audit"`

	Redis struct {
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Booking struct {
		Weekday            string `yaml:"weekday"`
		DefaultAdvanceDays int    `yaml:"default_advance_days"`
		Horizon            int    `yaml:"horizon"`
		AutoConfirm        *bool  `yaml:"auto_confirm"`
		Timezone           string `yaml:"timezone"`
	} `yaml:"booking"`

	Halls struct {
		Path                  string `yaml:"path"`
		ReloadIntervalSeconds int    `yaml:"reload_interval_seconds"`
	} `yaml:"halls"`

	Worker struct {
		CompletionIntervalSeconds int `yaml:"completion_interval_seconds"`
	} `yaml:"worker"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/clubhall.db"
	}

	if _, err = cfg.BookingPolicy(); err != nil {
		return nil, err
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) ServerAddr() string {
	if c.Server.Port <= 0 {
		return ":8080"
	}
	return fmt.Sprintf(":%d", c.Server.Port)
}

func (c *Config) ReadTimeout() time.Duration {
	if c.Server.ReadTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.ReadTimeoutSeconds) * time.Second
}

func (c *Config) WriteTimeout() time.Duration {
	if c.Server.WriteTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Server.WriteTimeoutSeconds) * time.Second
}

// RateLimit returns requests per second and burst per client address.
func (c *Config) RateLimit() (float64, int) {
	rps, burst := c.Server.RateLimitRPS, c.Server.RateLimitBurst
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = int(rps * 2)
	}
	return rps, burst
}

// TrustedProxies parses server.trusted_proxies. A bare address is a single-host prefix.
func (c *Config) TrustedProxies() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range c.Server.TrustedProxies {
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func (c *Config) CacheTTL() time.Duration {
	if c.Redis.CacheTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

func (c *Config) HealthCheckPort() int {
	if c.Monitoring.HealthCheckPort == 0 {
		return 8090
	}
	return c.Monitoring.HealthCheckPort
}

func (c *Config) PrometheusPort() int {
	if c.Monitoring.PrometheusPort == 0 {
		return 9090
	}
	return c.Monitoring.PrometheusPort
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}

func (c *Config) AuditPath() string {
	if c.Audit.Path == "" {
		return "exports"
	}
	return c.Audit.Path
}

func (c *Config) HallsPath() string {
	if c.Halls.Path == "" {
		return "configs/halls.yaml"
	}
	return c.Halls.Path
}

func (c *Config) HallsReloadInterval() time.Duration {
	if c.Halls.ReloadIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Halls.ReloadIntervalSeconds) * time.Second
}

func (c *Config) CompletionInterval() time.Duration {
	if c.Worker.CompletionIntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Worker.CompletionIntervalSeconds) * time.Second
}

// BookingPolicy builds the engine policy from the booking section.
func (c *Config) BookingPolicy() (booking.Policy, error) {
	p := booking.DefaultPolicy()

	if c.Booking.Weekday != "" {
		wd, err := ParseWeekday(c.Booking.Weekday)
		if err != nil {
			return p, err
		}
		p.Weekday = wd
	}
	if c.Booking.DefaultAdvanceDays > 0 {
		p.DefaultAdvanceDays = c.Booking.DefaultAdvanceDays
	}
	if c.Booking.Horizon > 0 {
		p.Horizon = c.Booking.Horizon
	}
	if c.Booking.AutoConfirm != nil {
		p.AutoConfirm = *c.Booking.AutoConfirm
	}
	if c.Booking.Timezone != "" {
		loc, err := time.LoadLocation(c.Booking.Timezone)
		if err != nil {
			return p, fmt.Errorf("booking.timezone: %w", err)
		}
		p.Location = loc
	}
	return p, nil
}

// ParseWeekday accepts English day names, case-insensitively.
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("booking.weekday: unknown day %q", s)
}
