package config_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deveasyclick/billpay/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSecrets struct {
	maps    map[string]map[string]string
	strings map[string]string
}

func (f *fakeSecrets) GetSecret(_ context.Context, name string) (string, error) {
	v, ok := f.strings[name]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (f *fakeSecrets) GetSecretMap(_ context.Context, name string) (map[string]string, error) {
	m, ok := f.maps[name]
	if !ok {
		return nil, errors.New("not found")
	}
	return m, nil
}

func setDBEnv(t *testing.T) {
	t.Setenv("POSTGRES_USER", "billpay")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "billpay")
	t.Setenv("POSTGRES_HOST", "localhost")
}

func TestLoad_Defaults(t *testing.T) {
	setDBEnv(t)

	cfg, err := config.Load(context.Background(), nil, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 3*time.Second, cfg.ConfirmationDelay)
	assert.Equal(t, 60*time.Second, cfg.ReconciliationDelay)
	assert.Equal(t, 3, cfg.ReconciliationMaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.CatalogSyncInterval)
	assert.False(t, cfg.AWSUseSecrets)
	assert.Contains(t, cfg.DSN(), "dbname=billpay")
}

func TestLoad_ParsesDurations(t *testing.T) {
	setDBEnv(t)
	t.Setenv("CONFIRMATION_DELAY", "250ms")
	t.Setenv("CATALOG_SYNC_INTERVAL", "0")

	cfg, err := config.Load(context.Background(), nil, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.ConfirmationDelay)
	assert.Equal(t, time.Duration(0), cfg.CatalogSyncInterval)
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	setDBEnv(t)
	t.Setenv("RECONCILIATION_DELAY", "soon")

	_, err := config.Load(context.Background(), nil, zap.NewNop())
	assert.ErrorContains(t, err, "RECONCILIATION_DELAY")
}

func TestLoad_IncompleteDatabase(t *testing.T) {
	t.Setenv("POSTGRES_USER", "")
	t.Setenv("POSTGRES_PASSWORD", "")
	t.Setenv("POSTGRES_DB", "")
	t.Setenv("POSTGRES_HOST", "")

	_, err := config.Load(context.Background(), nil, zap.NewNop())
	assert.ErrorIs(t, err, config.ErrIncompleteDatabase)
}

func TestLoad_SecretsOverride(t *testing.T) {
	t.Setenv("POSTGRES_USER", "")
	t.Setenv("POSTGRES_PASSWORD", "")
	t.Setenv("POSTGRES_DB", "billpay")
	t.Setenv("POSTGRES_HOST", "localhost")
	t.Setenv("VTPASS_API_KEY", "env-key")

	secrets := &fakeSecrets{
		maps: map[string]map[string]string{
			config.SecretDBCredentials: {"POSTGRES_USER": "sm-user", "POSTGRES_PASSWORD": "sm-pass"},
			config.SecretVTPassKeys:    {"VTPASS_SECRET_KEY": "sm-secret"},
		},
		strings: map[string]string{config.SecretInterswitchBasicToken: " sm-basic \n"},
	}

	cfg, err := config.Load(context.Background(), secrets, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "sm-user", cfg.PostgresUser)
	assert.Equal(t, "sm-pass", cfg.PostgresPassword)
	assert.Equal(t, "env-key", cfg.VTPass.APIKey)
	assert.Equal(t, "sm-secret", cfg.VTPass.SecretKey)
	assert.Equal(t, "sm-basic", cfg.Interswitch.BasicToken)
	assert.True(t, cfg.AWSUseSecrets)
}
