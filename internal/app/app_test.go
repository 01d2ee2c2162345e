package app

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/dvloznov/community-sacco/internal/config"
	"github.com/dvloznov/community-sacco/internal/infra/inmemory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloserRunsInReverse(t *testing.T) {
	var order []int
	var c Closer
	c.Add(func() { order = append(order, 1) })
	c.Add(func() { order = append(order, 2) })
	c.Add(func() { order = append(order, 3) })

	c.Close()
	c.Close()

	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestLocalFallbacks(t *testing.T) {
	ctx := context.Background()
	log := zerolog.Nop()
	var closer Closer
	defer closer.Close()

	store, err := OpenLedger(ctx, config.DatabaseConfig{}, &closer, log)
	require.NoError(t, err)
	assert.IsType(t, &inmemory.Store{}, store)

	docs, err := OpenDocuments(ctx, config.DocumentsConfig{Dir: t.TempDir()}, &closer, log)
	require.NoError(t, err)
	ref, err := docs.Save(ctx, "id.pdf", "application/pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)
	data, err := docs.Fetch(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))

	wh, err := OpenWarehouse(ctx, config.WarehouseConfig{}, &closer, log)
	require.NoError(t, err)
	assert.Nil(t, wh)

	assert.Nil(t, OpenCache(ctx, config.RedisConfig{}, &closer, log))

	gateway, err := NewGateway(&config.Config{}, log)
	require.NoError(t, err)
	assert.Nil(t, gateway)

	extractor, err := NewExtractor(ctx, config.ScreeningConfig{})
	require.NoError(t, err)
	assert.Nil(t, extractor)
}

func TestNewGatewayWithCredentials(t *testing.T) {
	cfg := &config.Config{Daraja: config.DarajaConfig{
		Environment:    "sandbox",
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
	}}
	gateway, err := NewGateway(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, gateway)

	cfg.Daraja.ShortCode = ""
	_, err = NewGateway(cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestUnreachableCacheIsSkipped(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	var closer Closer

	cache := OpenCache(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1"}, &closer, log)
	assert.Nil(t, cache)
	assert.Contains(t, buf.String(), "Redis unavailable")
}
