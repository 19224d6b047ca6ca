package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// GetConfigPath returns the default config file path (~/.convoflow/config.json).
func GetConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".convoflow", "config.json")
}

// Load reads configuration from a JSON file.
// If path is empty, uses the default config path.
// If the file doesn't exist, returns DefaultConfig().
// Environment overrides are applied last so secrets can stay out of the file.
func Load(path string) (Config, error) {
	if path == "" {
		path = GetConfigPath()
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return Config{}, err
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)
	return cfg, nil
}

// Save writes configuration to a JSON file.
// If path is empty, uses the default config path.
func Save(cfg Config, path string) error {
	if path == "" {
		path = GetConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnv overlays environment variables onto cfg. Only secrets and
// deployment-specific endpoints are overridable this way.
func applyEnv(cfg *Config) {
	if v := os.Getenv("CONVOFLOW_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("CONVOFLOW_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CONVOFLOW_AUTH_TOKEN"); v != "" {
		cfg.Server.AuthToken = v
	}
	if v := os.Getenv("CONVOFLOW_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Reason.APIKey = v
	}
	if v := os.Getenv("GHL_ACCESS_TOKEN"); v != "" {
		cfg.CRM.AccessToken = v
	}
	if v := os.Getenv("GHL_LOCATION_ID"); v != "" {
		cfg.CRM.LocationID = v
	}
	if v := os.Getenv("AIRTABLE_API_KEY"); v != "" {
		cfg.Tracker.APIKey = v
	}
	if v := os.Getenv("CONVOFLOW_DEBOUNCE_SECONDS"); v != "" {
		if s, err := strconv.Atoi(v); err == nil && s > 0 {
			cfg.Debounce.WindowSeconds = s
		}
	}
}
