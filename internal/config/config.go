package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/kardianos/osext"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"diamondfocus/internal/alarm"
)

const (
	DefaultFocusSeconds = 1500
	DefaultBreakSeconds = 300
	DefaultAlarm        = "sciFiAlarm"
	DefaultSocketPath   = "/tmp/diamondfocus.sock"
)

type PomodoroConfig struct {
	FocusSeconds int    `mapstructure:"focus_seconds" yaml:"focus_seconds"`
	BreakSeconds int    `mapstructure:"break_seconds" yaml:"break_seconds"`
	AutoSwitch   bool   `mapstructure:"auto_switch" yaml:"auto_switch"`
	AlertEnabled bool   `mapstructure:"alert_enabled" yaml:"alert_enabled"`
	AlarmName    string `mapstructure:"alarm_name" yaml:"alarm_name"`
}

type Config struct {
	DatabasePath string         `mapstructure:"database_path" yaml:"database_path"`
	SocketPath   string         `mapstructure:"socket_path" yaml:"socket_path"`
	PidFile      string         `mapstructure:"pid_file" yaml:"pid_file"`
	Pomodoro     PomodoroConfig `mapstructure:"pomodoro" yaml:"pomodoro"`
}

// Default returns the configuration used when no file or env override exists.
func Default() Config {
	return Config{
		DatabasePath: "diamondfocus.db",
		SocketPath:   DefaultSocketPath,
		PidFile:      "diamondfocus.pid",
		Pomodoro: PomodoroConfig{
			FocusSeconds: DefaultFocusSeconds,
			BreakSeconds: DefaultBreakSeconds,
			AutoSwitch:   true,
			AlertEnabled: true,
			AlarmName:    DefaultAlarm,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("database_path", d.DatabasePath)
	v.SetDefault("socket_path", d.SocketPath)
	v.SetDefault("pid_file", d.PidFile)
	v.SetDefault("pomodoro.focus_seconds", d.Pomodoro.FocusSeconds)
	v.SetDefault("pomodoro.break_seconds", d.Pomodoro.BreakSeconds)
	v.SetDefault("pomodoro.auto_switch", d.Pomodoro.AutoSwitch)
	v.SetDefault("pomodoro.alert_enabled", d.Pomodoro.AlertEnabled)
	v.SetDefault("pomodoro.alarm_name", d.Pomodoro.AlarmName)
}

func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/diamondfocus")
		if exeDir, err := osext.ExecutableFolder(); err == nil {
			viper.AddConfigPath(exeDir)
		}
		viper.AddConfigPath("/etc/diamondfocus/")
	}

	viper.SetEnvPrefix("DIAMONDFOCUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("Config file not found, using defaults.")
		} else {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := decode(viper.GetViper())
	if err != nil {
		return nil, err
	}
	log.Printf("Configuration loaded: %+v", *cfg)
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Pomodoro = cfg.Pomodoro.Sanitize()
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	return &cfg, nil
}

// Watch re-reads the config file on every change and hands the new pomodoro
// section to onChange. Files that fail to decode are logged and skipped.
func Watch(onChange func(PomodoroConfig)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("Config file changed: %s (%s)", e.Name, e.Op)
		cfg, err := decode(viper.GetViper())
		if err != nil {
			log.Printf("Warning: ignoring config change: %v", err)
			return
		}
		onChange(cfg.Pomodoro)
	})
	viper.WatchConfig()
}

// Sanitize replaces out-of-range values with defaults.
func (p PomodoroConfig) Sanitize() PomodoroConfig {
	if p.FocusSeconds <= 0 {
		log.Printf("Warning: focus_seconds %d invalid, using %d", p.FocusSeconds, DefaultFocusSeconds)
		p.FocusSeconds = DefaultFocusSeconds
	}
	if p.BreakSeconds <= 0 {
		log.Printf("Warning: break_seconds %d invalid, using %d", p.BreakSeconds, DefaultBreakSeconds)
		p.BreakSeconds = DefaultBreakSeconds
	}
	if _, ok := alarm.Sounds[p.AlarmName]; !ok {
		if p.AlarmName != "" {
			log.Printf("Warning: unknown alarm_name %q (have %s), using %s", p.AlarmName, strings.Join(alarm.Names(), ", "), DefaultAlarm)
		}
		p.AlarmName = DefaultAlarm
	}
	return p
}

// Live holds the current pomodoro settings and is safe for concurrent use.
// The daemon updates it from the config watcher; the session controller
// reads it whenever it needs a configured duration.
type Live struct {
	mu  sync.RWMutex
	cfg PomodoroConfig
}

func NewLive(cfg PomodoroConfig) *Live {
	return &Live{cfg: cfg}
}

func (l *Live) Pomodoro() PomodoroConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

func (l *Live) Set(cfg PomodoroConfig) {
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
}

// WriteDefault writes the default configuration as YAML to path. Existing
// files are kept unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
