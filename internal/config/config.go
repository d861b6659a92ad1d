package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the root configuration for the widget client.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Backend   BackendConfig   `json:"backend"`
	Widget    WidgetConfig    `json:"widget"`
	Transport TransportConfig `json:"transport"`
	Storage   StorageConfig   `json:"storage"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

// BackendConfig points at the messaging backend the widget talks to.
type BackendConfig struct {
	APIBase   string `json:"apiBase"`          // REST base URL
	WSBase    string `json:"wsBase"`           // push channel base URL (ws:// or wss://)
	CompanyID string `json:"companyId"`
	APIKey    string `json:"apiKey,omitempty"` // optional widget token sent as a bearer header
}

type WidgetConfig struct {
	ID             string `json:"id"`
	DefinitionPath string `json:"definitionPath,omitempty"` // widget.yaml, optional
	PageURL        string `json:"pageUrl,omitempty"`        // reported for targeting checks
	Device         string `json:"device,omitempty"`         // "desktop" | "mobile"
}

// TransportConfig tunes the push channel and the polling fallback.
type TransportConfig struct {
	HeartbeatSeconds     int `json:"heartbeatSeconds"`
	ReconnectBaseSeconds int `json:"reconnectBaseSeconds"`
	ReconnectCapSeconds  int `json:"reconnectCapSeconds"`
	ReconnectMaxAttempts int `json:"reconnectMaxAttempts"`
	MessagePollSeconds   int `json:"messagePollSeconds"`
	TypingPollSeconds    int `json:"typingPollSeconds"`
	OfflineWaitSeconds   int `json:"offlineWaitSeconds"` // wait for agent acceptance
}

type StorageConfig struct {
	DBPath string `json:"dbPath"`
}

// DefaultConfigDir returns the default config directory (~/.chatwidget).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatwidget"
	}
	return filepath.Join(home, ".chatwidget")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = expandPath(path)

	// Optional .env next to the config file; values feed ${VAR} expansion.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Storage.DBPath = expandPath(cfg.Storage.DBPath)
	cfg.General.LogFile = expandPath(cfg.General.LogFile)
	cfg.Widget.DefinitionPath = expandPath(cfg.Widget.DefinitionPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = expandPath(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config file: %w", err)
	}
	return nil
}

func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Backend.APIBase == "" {
		errs = append(errs, "backend.apiBase is required")
	}
	if cfg.Widget.ID == "" {
		errs = append(errs, "widget.id is required")
	}
	switch cfg.Widget.Device {
	case "", "desktop", "mobile":
		// valid
	default:
		errs = append(errs, "widget.device must be one of: desktop, mobile")
	}

	if cfg.Transport.HeartbeatSeconds < 1 {
		errs = append(errs, "transport.heartbeatSeconds must be >= 1")
	}
	if cfg.Transport.ReconnectBaseSeconds < 1 {
		errs = append(errs, "transport.reconnectBaseSeconds must be >= 1")
	}
	if cfg.Transport.ReconnectCapSeconds < cfg.Transport.ReconnectBaseSeconds {
		errs = append(errs, "transport.reconnectCapSeconds must be >= reconnectBaseSeconds")
	}
	if cfg.Transport.ReconnectMaxAttempts < 0 || cfg.Transport.ReconnectMaxAttempts > 100 {
		errs = append(errs, "transport.reconnectMaxAttempts must be between 0 and 100")
	}
	if cfg.Transport.MessagePollSeconds < 1 {
		errs = append(errs, "transport.messagePollSeconds must be >= 1")
	}
	if cfg.Transport.TypingPollSeconds < 1 {
		errs = append(errs, "transport.typingPollSeconds must be >= 1")
	}
	if cfg.Transport.OfflineWaitSeconds < 1 {
		errs = append(errs, "transport.offlineWaitSeconds must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
