package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"devgate/internal/logger"
	"devgate/internal/store"
)

// PortAuto is the port spec value requesting dynamic allocation from the
// configured range.
const PortAuto = "auto"

// Defaults applied by Load when the file omits a value.
const (
	DefaultHTTPAddr      = ":80"
	DefaultHTTPSAddr     = ":443"
	DefaultReservedTLD   = ".test"
	DefaultPortRangeFrom = 42000
	DefaultPortRangeTo   = 42999
	DefaultIdleTimeout   = 5 * time.Minute
	DefaultSweepInterval = 30 * time.Second
)

// FileConfig is the top-level TOML structure.
type FileConfig struct {
	Server    ServerConfig    `toml:"server" mapstructure:"server"`
	RateLimit RateLimitConfig `toml:"rate_limit" mapstructure:"rate_limit"`
	Store     store.Config    `toml:"store" mapstructure:"store"`
	Log       LogConfig       `toml:"log" mapstructure:"log"`
	Projects  []Project       `toml:"projects" mapstructure:"projects"`
	Mappings  []Mapping       `toml:"mappings" mapstructure:"mappings"`
}

type ServerConfig struct {
	HTTPAddr      string        `toml:"http_addr" mapstructure:"http_addr"`
	HTTPSAddr     string        `toml:"https_addr" mapstructure:"https_addr"`
	AdminAddr     string        `toml:"admin_addr" mapstructure:"admin_addr"`
	ReservedTLD   string        `toml:"reserved_tld" mapstructure:"reserved_tld"`
	PortRangeFrom int           `toml:"port_range_from" mapstructure:"port_range_from"`
	PortRangeTo   int           `toml:"port_range_to" mapstructure:"port_range_to"`
	SweepInterval time.Duration `toml:"sweep_interval" mapstructure:"sweep_interval"`
	CertDir       string        `toml:"cert_dir" mapstructure:"cert_dir"`
}

type RateLimitConfig struct {
	Window    time.Duration `toml:"window" mapstructure:"window"`
	Threshold int           `toml:"threshold" mapstructure:"threshold"`
}

type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Project describes one managed domain. Read-only to the supervisor.
type Project struct {
	Domain      string        `toml:"domain" mapstructure:"domain"`
	Root        string        `toml:"root" mapstructure:"root"`
	Port        string        `toml:"port" mapstructure:"port"` // "auto" or fixed 1-65535
	IdleTimeout time.Duration `toml:"idle_timeout" mapstructure:"idle_timeout"`
	Command     string        `toml:"command" mapstructure:"command"`
	Args        []string      `toml:"args" mapstructure:"args"`
	Env         []string      `toml:"env" mapstructure:"env"`
	Passthrough bool          `toml:"passthrough" mapstructure:"passthrough"` // deliver output to the terminal instead of capturing
}

// Mapping is a legacy static domain -> port entry with no process lifecycle.
type Mapping struct {
	Domain string `toml:"domain" mapstructure:"domain"`
	Port   int    `toml:"port" mapstructure:"port"`
}

// FixedPort parses the port spec. ok is false for "auto".
func (p Project) FixedPort() (port int, ok bool, err error) {
	spec := strings.TrimSpace(p.Port)
	if spec == "" || spec == PortAuto {
		return 0, false, nil
	}
	n, perr := strconv.Atoi(spec)
	if perr != nil || n < 1 || n > 65535 {
		return 0, false, fmt.Errorf("project %s: invalid port spec %q", p.Domain, p.Port)
	}
	return n, true, nil
}

// LogSetup converts the file section to the logger package's writer config.
func (c LogConfig) LogSetup() logger.Config {
	return logger.Config{
		Dir:        c.Dir,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// Load parses and validates a TOML config file.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	fc.applyDefaults()
	if err := fc.validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (fc *FileConfig) applyDefaults() {
	s := &fc.Server
	if s.HTTPAddr == "" {
		s.HTTPAddr = DefaultHTTPAddr
	}
	if s.HTTPSAddr == "" {
		s.HTTPSAddr = DefaultHTTPSAddr
	}
	if s.ReservedTLD == "" {
		s.ReservedTLD = DefaultReservedTLD
	}
	if s.PortRangeFrom == 0 && s.PortRangeTo == 0 {
		s.PortRangeFrom = DefaultPortRangeFrom
		s.PortRangeTo = DefaultPortRangeTo
	}
	if s.SweepInterval <= 0 {
		s.SweepInterval = DefaultSweepInterval
	}
	for i := range fc.Projects {
		p := &fc.Projects[i]
		if p.Port == "" {
			p.Port = PortAuto
		}
		if p.IdleTimeout == 0 {
			p.IdleTimeout = DefaultIdleTimeout
		}
	}
}

func (fc *FileConfig) validate() error {
	s := fc.Server
	if s.PortRangeFrom < 1 || s.PortRangeTo > 65535 || s.PortRangeFrom > s.PortRangeTo {
		return fmt.Errorf("server: invalid port range %d-%d", s.PortRangeFrom, s.PortRangeTo)
	}
	if !strings.HasPrefix(s.ReservedTLD, ".") {
		return fmt.Errorf("server: reserved_tld must start with '.': %q", s.ReservedTLD)
	}
	seen := make(map[string]string)
	for _, p := range fc.Projects {
		if p.Domain == "" {
			return fmt.Errorf("project with empty domain")
		}
		if prev, dup := seen[p.Domain]; dup {
			return fmt.Errorf("duplicate domain %q (already used by a %s)", p.Domain, prev)
		}
		seen[p.Domain] = "project"
		if p.Command == "" {
			return fmt.Errorf("project %s: command required", p.Domain)
		}
		if p.Root != "" && !filepath.IsAbs(p.Root) {
			return fmt.Errorf("project %s: root must be an absolute path", p.Domain)
		}
		if p.IdleTimeout < 0 {
			return fmt.Errorf("project %s: negative idle_timeout", p.Domain)
		}
		if _, _, err := p.FixedPort(); err != nil {
			return err
		}
	}
	for _, m := range fc.Mappings {
		if m.Domain == "" {
			return fmt.Errorf("mapping with empty domain")
		}
		if prev, dup := seen[m.Domain]; dup {
			return fmt.Errorf("duplicate domain %q (already used by a %s)", m.Domain, prev)
		}
		seen[m.Domain] = "mapping"
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("mapping %s: invalid port %d", m.Domain, m.Port)
		}
	}
	return nil
}

// Domains returns every configured domain, projects first.
func (fc *FileConfig) Domains() []string {
	out := make([]string, 0, len(fc.Projects)+len(fc.Mappings))
	for _, p := range fc.Projects {
		out = append(out, p.Domain)
	}
	for _, m := range fc.Mappings {
		out = append(out, m.Domain)
	}
	return out
}

// WriteExample renders a commented starter config, used by `devgate init`.
func WriteExample(path string) error {
	const example = `# devgate configuration

[server]
http_addr = ":80"
https_addr = ":443"
admin_addr = "127.0.0.1:9072"
reserved_tld = ".test"
port_range_from = 42000
port_range_to = 42999
sweep_interval = "30s"

[rate_limit]
window = "60s"
threshold = 1000

[store]
type = "sqlite"
path = "devgate.db"

[log]
dir = "logs"

[[projects]]
domain = "app.test"
root = "/home/me/src/app"
port = "auto"
idle_timeout = "5m"
command = "npm run dev"

[[mappings]]
domain = "legacy.test"
port = 3999
`
	return os.WriteFile(path, []byte(example), 0o644)
}
