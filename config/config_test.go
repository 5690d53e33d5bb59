package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/livebind/binding"
	"github.com/c360/livebind/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "livebind.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfig = `{
	"nats": {"url": "nats://localhost:4222"},
	"defaults": {"wait": true, "reset": false},
	"metrics": {"port": 9090, "path": "/metrics"},
	"gateway": {"addr": ":8080"},
	"bindings": [
		{"key": "profile", "bucket": "users", "kv_key": "profile", "mode": "value"},
		{"key": "items", "bucket": "catalog", "prefix": "items", "mode": "list", "wait": false, "reset": "cleared"}
	]
}`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, ":8080", cfg.Gateway.Addr)
	require.Len(t, cfg.Bindings, 2)

	profile := cfg.Bindings[0]
	assert.Equal(t, binding.ModeValue, profile.BindingMode())
	assert.Empty(t, profile.BindOptions())

	items := cfg.Bindings[1]
	assert.Equal(t, binding.ModeList, items.BindingMode())
	assert.Len(t, items.BindOptions(), 2)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.True(t, errors.IsFatal(err))
}

func TestLoadMalformedJSON(t *testing.T) {
	_, err := Load(writeConfig(t, `{broken`))
	assert.True(t, errors.IsInvalid(err))
}

func TestValidateRequiresNATSURL(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	assert.True(t, errors.Is(err, errors.ErrMissingConfig))
}

func TestValidateBindingRules(t *testing.T) {
	base := func() *Config {
		return &Config{NATS: NATSConfig{URL: "nats://localhost:4222"}}
	}

	tests := []struct {
		name    string
		binding BindingConfig
		wantErr string
	}{
		{
			name:    "missing key",
			binding: BindingConfig{Bucket: "users", KVKey: "profile", Mode: "value"},
			wantErr: "key validation",
		},
		{
			name:    "missing bucket",
			binding: BindingConfig{Key: "profile", KVKey: "profile", Mode: "value"},
			wantErr: "bucket validation",
		},
		{
			name:    "value mode without kv_key",
			binding: BindingConfig{Key: "profile", Bucket: "users", Mode: "value"},
			wantErr: "value mode requires kv_key",
		},
		{
			name:    "list mode with kv_key",
			binding: BindingConfig{Key: "items", Bucket: "catalog", KVKey: "oops", Mode: "list"},
			wantErr: "list mode takes a prefix",
		},
		{
			name:    "unknown mode",
			binding: BindingConfig{Key: "items", Bucket: "catalog", Mode: "stream"},
			wantErr: "unknown mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			cfg.Bindings = []BindingConfig{tt.binding}

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateRejectsDuplicateKeys(t *testing.T) {
	cfg := &Config{
		NATS: NATSConfig{URL: "nats://localhost:4222"},
		Bindings: []BindingConfig{
			{Key: "profile", Bucket: "users", KVKey: "a", Mode: "value"},
			{Key: "profile", Bucket: "users", KVKey: "b", Mode: "value"},
		},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate binding key")
}

func TestListModeWithEmptyPrefixIsWholeBucket(t *testing.T) {
	cfg := &Config{
		NATS:     NATSConfig{URL: "nats://localhost:4222"},
		Bindings: []BindingConfig{{Key: "all", Bucket: "catalog", Mode: "list"}},
	}
	assert.NoError(t, cfg.Validate())
}

func TestDefaultOptions(t *testing.T) {
	cfg := &Config{Defaults: DefaultsConfig{Wait: true, Reset: "offline"}}

	defaults := cfg.DefaultOptions()
	assert.True(t, defaults.Wait)
	assert.Equal(t, "offline", defaults.Reset)
	assert.NotNil(t, defaults.Serialize)
}

func TestDefaultOptionsFallBackToPackageDefaults(t *testing.T) {
	cfg := &Config{}

	defaults := cfg.DefaultOptions()
	assert.False(t, defaults.Wait)
	assert.Equal(t, true, defaults.Reset)
}

func TestBindOptionsCarryOverrides(t *testing.T) {
	wait := true
	bc := BindingConfig{Wait: &wait, Reset: false}

	resolved := binding.Options{}
	for _, opt := range bc.BindOptions() {
		opt(&resolved)
	}
	assert.True(t, resolved.Wait)
	assert.Equal(t, false, resolved.Reset)
}
