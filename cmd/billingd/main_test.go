package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	billing "github.com/BitCodeHub/stackaudit-ai-sub001"
	"github.com/BitCodeHub/stackaudit-ai-sub001/plan"
	"github.com/BitCodeHub/stackaudit-ai-sub001/provider/providertest"
	"github.com/BitCodeHub/stackaudit-ai-sub001/store/memory"
	"github.com/BitCodeHub/stackaudit-ai-sub001/store/sqlite"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := loadConfig(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, time.Minute, cfg.SubscriptionCacheTTL)
	assert.Equal(t, 10_000, cfg.CacheSize)
	assert.Equal(t, driverPostgres, cfg.StoreDriver)
	assert.Error(t, cfg.validate())
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "billingd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
stripe_secret_key: sk_file
stripe_pro_price_id: price_pro_file
subscription_cache_ttl: 2m
`), 0o600))
	t.Setenv("STRIPE_SECRET_KEY", "sk_env")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_env")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DATABASE_URL", "postgres://billing@localhost/billing")

	cfg, err := loadConfig(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "sk_env", cfg.StripeSecretKey)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, 2*time.Minute, cfg.SubscriptionCacheTTL)
	assert.Equal(t, plan.PriceIDs{Pro: "price_pro_file"}, cfg.priceIDs())
	assert.NoError(t, cfg.validate())
}

func TestStoreDriverConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STRIPE_SECRET_KEY", "sk_test")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")

	for _, tt := range []struct {
		name    string
		driver  string
		url     string
		wantErr string
	}{
		{"postgres", "postgres", "postgres://localhost/billing", ""},
		{"postgres without url", "postgres", "", "DATABASE_URL is required"},
		{"sqlite", "sqlite", "file:billing.db", ""},
		{"mongo without url", "mongo", "", "DATABASE_URL is required"},
		{"memory", "memory", "", ""},
		{"unknown", "cassandra", "cql://localhost", "unknown store driver"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STORE_DRIVER", tt.driver)
			t.Setenv("DATABASE_URL", tt.url)

			cfg, err := loadConfig(viper.New(), "")
			require.NoError(t, err)
			assert.Equal(t, tt.driver, cfg.StoreDriver)
			assert.Equal(t, tt.url, cfg.DatabaseURL)

			err = cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("sqlite", func(t *testing.T) {
		cfg := &config{StoreDriver: driverSQLite, DatabaseURL: filepath.Join(t.TempDir(), "billing.db")}
		st, err := newStore(ctx, cfg, logger)
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })

		require.NoError(t, st.Migrate(ctx))
		assert.NoError(t, st.Ping(ctx))
		assert.IsType(t, &sqlite.Store{}, st)
	})

	t.Run("memory", func(t *testing.T) {
		st, err := newStore(ctx, &config{StoreDriver: driverMemory}, logger)
		require.NoError(t, err)
		assert.IsType(t, &memory.Store{}, st)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := newStore(ctx, &config{StoreDriver: "cassandra"}, logger)
		assert.ErrorContains(t, err, "unknown store driver")
	})
}

func TestDotEnvIsLoaded(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("APP_URL=https://dotenv.test\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("APP_URL") })

	cfg, err := loadConfig(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "https://dotenv.test", cfg.AppURL)
}

func TestPlansCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STRIPE_PRO_PRICE_ID", "price_pro_env")

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"plans"})
	require.NoError(t, cmd.Execute())

	var listings []plan.Listing
	require.NoError(t, json.Unmarshal(out.Bytes(), &listings))
	require.Len(t, listings, 3)
	assert.Equal(t, plan.Pro, listings[1].ID)
	assert.Equal(t, "$49.00", listings[1].PriceFormatted)
}

func TestRouter(t *testing.T) {
	eng := billing.New(memory.New(), providertest.New(), billing.WithSweepSchedule(""))
	h := newRouter(eng)

	for _, tt := range []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusNoContent},
		{"/metrics", http.StatusOK},
		{"/billing/pricing", http.StatusOK},
	} {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHeaderIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := headerIdentity(req)
	assert.False(t, ok)

	req.Header.Set(headerAccountID, "acct_1")
	req.Header.Set(headerPlan, "pro")
	id, ok := headerIdentity(req)
	require.True(t, ok)
	assert.Equal(t, billing.Identity{AccountID: "acct_1", Plan: plan.Pro}, id)
}
