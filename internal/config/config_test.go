package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadFileCatalogDefaults(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"POLICY_CATALOG_PATH":      "/etc/bizadmin/policies.yaml",
		"DATABASE_URL":             "",
		"PORT":                     "",
		"PRICING_EXAMPLE_QUANTITY": "",
		"OBS_ENABLE_PROMETHEUS":    "",
		"RATE_LIMIT":               "",
		"SECURE_HEADERS":           "",
		"HTTP_MAX_BODY_BYTES":      "",
		"CIRCUIT_STORE_OPEN_FOR":   "",
	})
	require.NoError(t, err)
	require.False(t, cfg.UsesDatabase())
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, 100, cfg.ExampleQuantity)
	require.True(t, cfg.MetricsEnabled)
	require.Equal(t, 500*time.Millisecond, cfg.ReadyProbeTimeout)
	require.Equal(t, "120-M", cfg.RateLimit)
	require.True(t, cfg.SecureHeaders)
	require.Equal(t, int64(64<<10), cfg.MaxBodyBytes)
	require.Equal(t, 30*time.Second, cfg.CircuitStoreOpenFor)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadForTests(map[string]string{
		"DATABASE_URL":             "postgres://localhost/bizadmin",
		"PORT":                     ":9000",
		"PRICING_EXAMPLE_QUANTITY": "20",
		"PRICING_CURRENCY_SYMBOL":  "$",
		"CORS_ALLOWED_ORIGINS":     "https://a.example, https://b.example",
		"OBS_ENABLE_PROMETHEUS":    "off",
	})
	require.NoError(t, err)
	require.True(t, cfg.UsesDatabase())
	require.Equal(t, ":9000", cfg.HTTPAddr())
	require.Equal(t, 20, cfg.ExampleQuantity)
	require.Equal(t, "$", cfg.CurrencySymbol)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	require.False(t, cfg.MetricsEnabled)
}

func TestLoadRequiresCatalog(t *testing.T) {
	_, err := LoadForTests(map[string]string{
		"DATABASE_URL":        "",
		"POLICY_CATALOG_PATH": "",
	})
	require.Error(t, err)
}
