// Package config loads gdb-bridge configuration from defaults, an optional
// config.yaml, GDBBRIDGE_* environment variables and command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"gdb-bridge/internal/logger"
)

// EnvPrefix is prepended to every environment variable, e.g. GDBBRIDGE_SERVER_PORT.
const EnvPrefix = "GDBBRIDGE"

// Config holds all configuration sections.
type Config struct {
	Server   ServerConfig         `mapstructure:"server"`
	Debugger DebuggerConfig       `mapstructure:"debugger"`
	Files    FilesConfig          `mapstructure:"files"`
	Logging  logger.LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	StaticDir string `mapstructure:"staticDir"` // optional web client
}

// DebuggerConfig describes the debugger subprocess.
type DebuggerConfig struct {
	Path        string   `mapstructure:"path"`
	Args        []string `mapstructure:"args"`
	WorkDir     string   `mapstructure:"workDir"`
	QuitCommand string   `mapstructure:"quitCommand"`

	// KillGrace is how long a released debugger may take to honor the quit
	// command before it is killed. Zero disables the kill.
	KillGrace time.Duration `mapstructure:"killGrace"`

	// KillOnDisconnect releases the debugger as soon as its client goes away
	// instead of waiting for the next connection.
	KillOnDisconnect bool `mapstructure:"killOnDisconnect"`
}

// FilesConfig controls directory listing and watching.
type FilesConfig struct {
	// ReportErrors answers failed listings with an error field instead of
	// dropping the reply.
	ReportErrors  bool          `mapstructure:"reportErrors"`
	WatchDebounce time.Duration `mapstructure:"watchDebounce"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.staticDir", "")

	v.SetDefault("debugger.path", "gdb")
	v.SetDefault("debugger.args", []string{"--interpreter=mi2"})
	v.SetDefault("debugger.workDir", "")
	v.SetDefault("debugger.quitCommand", "q")
	v.SetDefault("debugger.killGrace", 5*time.Second)
	v.SetDefault("debugger.killOnDisconnect", false)

	v.SetDefault("files.reportErrors", true)
	v.SetDefault("files.watchDebounce", 500*time.Millisecond)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stderr")
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"port":      "server.port",
	"host":      "server.host",
	"gdb":       "debugger.path",
	"static":    "server.staticDir",
	"log-level": "logging.level",
}

// RegisterFlags adds the flags understood by Load to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("port", 8080, "port to listen on")
	fs.String("host", "", "interface to listen on")
	fs.String("gdb", "gdb", "path to the debugger executable")
	fs.String("static", "", "directory with a web client to serve")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("config", "", "directory containing config.yaml")
}

// Load reads configuration. fs may be nil; only flags the user actually set
// override file and environment values.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// camelCase keys do not map onto SNAKE_CASE env vars by themselves.
	_ = v.BindEnv("server.staticDir", EnvPrefix+"_SERVER_STATIC_DIR")
	_ = v.BindEnv("debugger.workDir", EnvPrefix+"_DEBUGGER_WORK_DIR")
	_ = v.BindEnv("debugger.quitCommand", EnvPrefix+"_DEBUGGER_QUIT_COMMAND")
	_ = v.BindEnv("debugger.killGrace", EnvPrefix+"_DEBUGGER_KILL_GRACE")
	_ = v.BindEnv("debugger.killOnDisconnect", EnvPrefix+"_DEBUGGER_KILL_ON_DISCONNECT")
	_ = v.BindEnv("files.reportErrors", EnvPrefix+"_FILES_REPORT_ERRORS")
	_ = v.BindEnv("files.watchDebounce", EnvPrefix+"_FILES_WATCH_DEBOUNCE")
	_ = v.BindEnv("logging.outputPath", EnvPrefix+"_LOGGING_OUTPUT_PATH")
	// GDBPATH is the conventional override for the debugger location.
	_ = v.BindEnv("debugger.path", EnvPrefix+"_DEBUGGER_PATH", "GDBPATH")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.AddConfigPath(f.Value.String())
		}
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/gdb-bridge/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if strings.TrimSpace(cfg.Debugger.Path) == "" {
		errs = append(errs, "debugger.path is required")
	}
	if cfg.Debugger.QuitCommand == "" {
		errs = append(errs, "debugger.quitCommand is required")
	}
	if cfg.Debugger.KillGrace < 0 {
		errs = append(errs, "debugger.killGrace must not be negative")
	}
	if cfg.Files.WatchDebounce <= 0 {
		errs = append(errs, "files.watchDebounce must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
