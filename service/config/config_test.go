package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("WEBHOOK_AUTH_TOKEN", "secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, "secret", cfg.WebhookAuthToken)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, DefaultGSOLMint, cfg.GSOLMintAddress)
	assert.Equal(t, DefaultSunriseProgramID, cfg.SunriseProgramID)
	assert.Equal(t, []string{"https://api.mainnet-beta.solana.com"}, cfg.SolanaRPCURLs)
	assert.Equal(t, 6, cfg.MaxGraphDegree)
	assert.Equal(t, 2, cfg.DefaultGraphDegree)
	assert.Equal(t, 60*time.Second, cfg.GraphQueryTimeout)
	assert.Equal(t, 30*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, 10*time.Second, cfg.TemporalResultWait)
	assert.False(t, cfg.NATSEnabled)
	assert.False(t, cfg.TemporalEnabled)
	assert.Equal(t, "gsoltrack-ingest", cfg.TemporalTaskQueue)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SOLANA_RPC_URL", "https://a.example, https://b.example,")
	t.Setenv("SOLANA_RPC_RPS", "2.5")
	t.Setenv("MAX_GRAPH_DEGREE", "4")
	t.Setenv("DEFAULT_GRAPH_DEGREE", "1")
	t.Setenv("GRAPH_QUERY_TIMEOUT", "5s")
	t.Setenv("NATS_ENABLED", "true")
	t.Setenv("TEMPORAL_ENABLED", "1")
	t.Setenv("WEBHOOK_TIMEOUT", "20s")
	t.Setenv("TEMPORAL_RESULT_WAIT", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.SolanaRPCURLs)
	assert.Equal(t, 2.5, cfg.SolanaRPCRPS)
	assert.Equal(t, 4, cfg.MaxGraphDegree)
	assert.Equal(t, 1, cfg.DefaultGraphDegree)
	assert.Equal(t, 5*time.Second, cfg.GraphQueryTimeout)
	assert.True(t, cfg.NATSEnabled)
	assert.True(t, cfg.TemporalEnabled)
	assert.Equal(t, 20*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, 3*time.Second, cfg.TemporalResultWait)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing database url",
			env:     map[string]string{"WEBHOOK_AUTH_TOKEN": "secret"},
			wantErr: "DATABASE_URL is required",
		},
		{
			name:    "missing webhook token",
			env:     map[string]string{"DATABASE_URL": "postgres://localhost/test"},
			wantErr: "WEBHOOK_AUTH_TOKEN is required",
		},
		{
			name: "invalid timeout",
			env: map[string]string{
				"DATABASE_URL":        "postgres://localhost/test",
				"WEBHOOK_AUTH_TOKEN":  "secret",
				"GRAPH_QUERY_TIMEOUT": "soon",
			},
			wantErr: "invalid duration",
		},
		{
			name: "invalid degree",
			env: map[string]string{
				"DATABASE_URL":       "postgres://localhost/test",
				"WEBHOOK_AUTH_TOKEN": "secret",
				"MAX_GRAPH_DEGREE":   "six",
			},
			wantErr: "invalid integer",
		},
		{
			name: "default degree above ceiling",
			env: map[string]string{
				"DATABASE_URL":         "postgres://localhost/test",
				"WEBHOOK_AUTH_TOKEN":   "secret",
				"MAX_GRAPH_DEGREE":     "3",
				"DEFAULT_GRAPH_DEGREE": "4",
			},
			wantErr: "DefaultGraphDegree (4)",
		},
		{
			name: "invalid bool",
			env: map[string]string{
				"DATABASE_URL":       "postgres://localhost/test",
				"WEBHOOK_AUTH_TOKEN": "secret",
				"NATS_ENABLED":       "maybe",
			},
			wantErr: "invalid boolean",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			t.Setenv("WEBHOOK_AUTH_TOKEN", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_ReportsAllErrors(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("WEBHOOK_AUTH_TOKEN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
	assert.Contains(t, err.Error(), "WEBHOOK_AUTH_TOKEN is required")
}

func TestMustLoad_Panics(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("WEBHOOK_AUTH_TOKEN", "")

	assert.Panics(t, func() { MustLoad() })
}

func TestValidate(t *testing.T) {
	valid := Config{
		DatabaseURL:        "postgres://localhost/test",
		WebhookAuthToken:   "secret",
		MaxGraphDegree:     6,
		DefaultGraphDegree: 2,
		GraphQueryTimeout:  time.Minute,
		WebhookTimeout:     30 * time.Second,
	}
	require.NoError(t, valid.Validate())

	temporal := valid
	temporal.TemporalEnabled = true
	assert.Error(t, temporal.Validate())

	temporal.TemporalHost = "localhost:7233"
	temporal.TemporalNamespace = "default"
	temporal.TemporalTaskQueue = "q"
	assert.ErrorContains(t, temporal.Validate(), "TemporalResultWait")

	temporal.TemporalResultWait = temporal.WebhookTimeout
	assert.ErrorContains(t, temporal.Validate(), "TemporalResultWait")

	temporal.TemporalResultWait = 10 * time.Second
	assert.NoError(t, temporal.Validate())

	noTimeout := valid
	noTimeout.GraphQueryTimeout = 0
	assert.ErrorContains(t, noTimeout.Validate(), "GraphQueryTimeout")

	noWebhookTimeout := valid
	noWebhookTimeout.WebhookTimeout = 0
	assert.ErrorContains(t, noWebhookTimeout.Validate(), "WebhookTimeout")
}
