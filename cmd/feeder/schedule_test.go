package main

import (
	"testing"

	"github.com/fentz26/petfeeder/internal/config"
	"github.com/fentz26/petfeeder/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFeedingTime(t *testing.T) {
	ft, err := parseFeedingTime("07:30=40")
	require.NoError(t, err)
	assert.Equal(t, models.FeedingTime{Time: "07:30", PortionGrams: 40}, ft)

	_, err = parseFeedingTime("07:30")
	assert.Error(t, err)
	_, err = parseFeedingTime("07:30=lots")
	assert.Error(t, err)
}

func TestFormatDays(t *testing.T) {
	assert.Equal(t, "daily", formatDays([]int{0, 1, 2, 3, 4, 5, 6}))
	assert.Equal(t, "Mon,Fri", formatDays([]int{1, 5}))
	assert.Equal(t, "Sun", formatDays([]int{0, 9}))
}

func TestBridgeNATSUsesEmbeddedPort(t *testing.T) {
	cfg := config.Default()
	cfg.NATS.Embedded = true
	cfg.ChangeFeed.Backend = config.BackendNATS

	got := bridgeNATS(cfg)
	assert.Equal(t, "nats://127.0.0.1:4222", got.NATS.URL)
	assert.Empty(t, cfg.NATS.URL)

	cfg.ChangeFeed.Backend = config.BackendLocal
	assert.Same(t, cfg, bridgeNATS(cfg))
}

func TestSecretNames(t *testing.T) {
	assert.NoError(t, checkSecretName(config.SecretStorePassword))
	assert.NoError(t, checkSecretName(config.SecretTelegramToken))
	assert.Error(t, checkSecretName("api.key"))
}
