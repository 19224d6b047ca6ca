package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Schema Tests ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 18921, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Debounce.WindowSeconds)
	assert.Equal(t, "debounce:", cfg.Debounce.KeyPrefix)
	assert.Equal(t, DefaultRequiredFields, cfg.Debounce.RequiredFields)
	assert.Equal(t, 1, cfg.Reason.PollIntervalSeconds)
	assert.Equal(t, 120, cfg.Reason.RunTimeoutSeconds)
	assert.Equal(t, "IG", cfg.CRM.MessageType)
	assert.Equal(t, "bot failure", cfg.Actions.FailureTag)
}

func TestConfig_JSON_RoundTrip(t *testing.T) {
	original := Config{
		Redis: RedisConfig{URL: "redis://localhost:6379", DB: 2},
		Debounce: DebounceConfig{
			WindowSeconds: 45,
			JitterSeconds: 5,
			KeyPrefix:     "cf:",
		},
		CRM: CRMConfig{LocationID: "loc1", MessageType: "SMS"},
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Config
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379", decoded.Redis.URL)
	assert.Equal(t, 2, decoded.Redis.DB)
	assert.Equal(t, 45, decoded.Debounce.WindowSeconds)
	assert.Equal(t, "cf:", decoded.Debounce.KeyPrefix)
	assert.Equal(t, "SMS", decoded.CRM.MessageType)
}

func TestConfig_CamelCaseJSON(t *testing.T) {
	jsonStr := `{
		"server": {"port": 9090, "authToken": "tok", "rateLimitPerSec": 2},
		"debounce": {"windowSeconds": 60, "keyPrefix": "d:", "requiredFields": ["contact_id"]},
		"reason": {"pollIntervalSeconds": 2, "runTimeoutSeconds": 30},
		"crm": {"locationId": "L1", "messageLimit": 20}
	}`

	cfg := DefaultConfig()
	err := json.Unmarshal([]byte(jsonStr), &cfg)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "tok", cfg.Server.AuthToken)
	assert.Equal(t, 60, cfg.Debounce.WindowSeconds)
	assert.Equal(t, []string{"contact_id"}, cfg.Debounce.RequiredFields)
	assert.Equal(t, 2, cfg.Reason.PollIntervalSeconds)
	assert.Equal(t, "L1", cfg.CRM.LocationID)
	assert.Equal(t, 20, cfg.CRM.MessageLimit)
}

// --- Loader Tests ---

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Port, cfg.Server.Port)
}

func TestLoad_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := DefaultConfig()
	cfg.Debounce.WindowSeconds = 90
	cfg.Redis.URL = "redis://example:6379"
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90, loaded.Debounce.WindowSeconds)
	assert.Equal(t, "redis://example:6379", loaded.Redis.URL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	os.Setenv("CONVOFLOW_REDIS_URL", "redis://env:6379")
	os.Setenv("CONVOFLOW_DEBOUNCE_SECONDS", "75")
	defer os.Unsetenv("CONVOFLOW_REDIS_URL")
	defer os.Unsetenv("CONVOFLOW_DEBOUNCE_SECONDS")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, "redis://env:6379", cfg.Redis.URL)
	assert.Equal(t, 75, cfg.Debounce.WindowSeconds)
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}
