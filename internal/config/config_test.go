package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnvOverrides(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/escrow")
	t.Setenv("CHAIN_ID", "11155111")
	t.Setenv("CONTRACT_ADDRESSES", "0xAbC,0xDef")
	t.Setenv("CONFIRMATION_DEPTH", "32")
	t.Setenv("SUBSCRIBER_WORKERS", "6")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(11155111), cfg.Chain.ChainID)
	assert.Equal(t, []string{"0xabc", "0xdef"}, cfg.Chain.ContractAddresses)
	assert.Equal(t, uint64(32), cfg.Chain.ConfirmationDepth)
	assert.Equal(t, 6, cfg.Subscriber.Workers)
	assert.Equal(t, maxInt(4, 2*6+2), cfg.Database.MaxOpenConns)
	assert.Equal(t, 2000, cfg.Tailer.MaxWindowBlocks)
	assert.Equal(t, 1000, cfg.PubSub.MaxInFlight)
}

func TestLoad_MissingDBURLFails(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
}
