package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setRequired sets the minimum environment for a valid configuration.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("STRIPE_API_KEY", "sk_test_123")
	t.Setenv("FUSIONAUTH_URL", "https://auth.example.com")
	t.Setenv("FUSIONAUTH_API_KEY", "fa-key")
	t.Setenv("AUTH_SIGNING_KEY", "0123456789abcdef0123")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Stripe.SignatureTolerance)
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, uint32(5), cfg.FusionAuth.TripAfter)
	assert.Equal(t, int64(262144), cfg.Webhook.MaxBodyBytes)

	policy := cfg.RetryPolicy()
	assert.Equal(t, 3, policy.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, policy.BaseDelay)

	owner, groups := cfg.Mapper().Keys()
	assert.Equal(t, "user_id", owner)
	assert.Equal(t, "group_ids", groups)
}

func TestLoad_MissingRequired(t *testing.T) {
	for _, key := range []string{
		"STRIPE_WEBHOOK_SECRET",
		"STRIPE_API_KEY",
		"FUSIONAUTH_URL",
		"FUSIONAUTH_API_KEY",
		"AUTH_SIGNING_KEY",
	} {
		t.Run(key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(key, "")

			_, err := Load()
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, ErrValidation, cfgErr.Type)
		})
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("WEBHOOK_MAX_RETRIES", "5")
	t.Setenv("WEBHOOK_BASE_DELAY", "250ms")
	t.Setenv("METADATA_OWNER_KEY", "account")
	t.Setenv("BILLING_PLANS", "pro=price_pro:g1|g2,team=price_team:g3")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 5, cfg.RetryPolicy().MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryPolicy().BaseDelay)

	owner, _ := cfg.Mapper().Keys()
	assert.Equal(t, "account", owner)

	plans, err := cfg.Plans()
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "price_pro", plans["pro"].PriceID)
	assert.True(t, plans["pro"].Groups.Has("g2"))
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  ConfigErrorType
	}{
		{name: "bad duration", key: "WEBHOOK_BASE_DELAY", value: "soon", want: ErrParsing},
		{name: "zero delay", key: "WEBHOOK_BASE_DELAY", value: "0s", want: ErrValidation},
		{name: "negative retries", key: "WEBHOOK_MAX_RETRIES", value: "-1", want: ErrValidation},
		{name: "bad url", key: "FUSIONAUTH_URL", value: "not a url", want: ErrValidation},
		{name: "short signing key", key: "AUTH_SIGNING_KEY", value: "short", want: ErrValidation},
		{name: "unknown backend", key: "STORAGE_BACKEND", value: "mongo", want: ErrValidation},
		{name: "bad plans", key: "BILLING_PLANS", value: "pro", want: ErrValidation},
		{name: "bad env", key: "APP_ENV", value: "qa", want: ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.want, cfgErr.Type)
		})
	}
}

func TestLoad_StorageBackendRequirements(t *testing.T) {
	tests := []struct {
		backend string
		env     map[string]string
		wantErr bool
	}{
		{backend: StoragePostgres, wantErr: true},
		{backend: StoragePostgres, env: map[string]string{"DATABASE_URL": "postgres://localhost/db"}},
		{backend: StorageRedis, wantErr: true},
		{backend: StorageRedis, env: map[string]string{"REDIS_ADDR": "localhost:6379"}},
		{backend: StorageFirestore, wantErr: true},
		{backend: StorageFirestore, env: map[string]string{"FIRESTORE_PROJECT_ID": "proj"}},
		{backend: StorageTiered, env: map[string]string{"REDIS_ADDR": "localhost:6379"}, wantErr: true},
		{backend: StorageTiered, env: map[string]string{"REDIS_ADDR": "localhost:6379", "DATABASE_URL": "postgres://localhost/db"}},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			setRequired(t)
			t.Setenv("STORAGE_BACKEND", tt.backend)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoad_DotenvFile(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("LOG_LEVEL=debug\nSTRIPE_API_KEY=sk_from_file\n"), 0o600))

	// Clear the variable the file sets so the test does not leak it.
	t.Setenv("LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv("LOG_LEVEL"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Existing variables win over the file.
	assert.Equal(t, "sk_test_123", cfg.Stripe.APIKey)
}

func TestLoad_MissingDotenvFile(t *testing.T) {
	setRequired(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, ErrDotenv, cfgErr.Type)
}
