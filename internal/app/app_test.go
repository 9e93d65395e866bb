package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ams-control-plane/backend/internal/config"
	"ams-control-plane/backend/internal/db"
	"ams-control-plane/backend/internal/notify"
	"ams-control-plane/backend/internal/notify/devcapture"
)

func testConfig() *config.Config {
	return &config.Config{
		JWTAccessSecret:   "access-secret-0123456789abcdefghijklmnop",
		JWTRefreshSecret:  "refresh-secret-0123456789abcdefghijklmno",
		JWTIssuer:         "ams-auth",
		JWTAudience:       "ams-api",
		BcryptCost:        4,
		MaxActiveSessions: 5,
		BlacklistBackend:  "postgres",
		SMSDefaultRegion:  "US",
		DevCodeCapture:    true,
	}
}

func TestBuild_InMemory(t *testing.T) {
	a, err := Build(context.Background(), testConfig(), Options{})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Pool)
	assert.NotNil(t, a.Auth)
	assert.NotNil(t, a.Access)
	assert.NotNil(t, a.DevCodes)
	assert.Empty(t, a.Checks)
}

func TestBuild_Refusals(t *testing.T) {
	_, err := Build(context.Background(), testConfig(), Options{RequireDatabase: true})
	assert.ErrorIs(t, err, db.ErrEmptyDSN)

	prod := testConfig()
	prod.Env = "production"
	_, err = Build(context.Background(), prod, Options{})
	assert.ErrorIs(t, err, ErrMemoryInProduction)

	bad := testConfig()
	bad.JWTRefreshSecret = bad.JWTAccessSecret
	_, err = Build(context.Background(), bad, Options{})
	assert.Error(t, err)
}

func TestNewNotifier(t *testing.T) {
	ctx := context.Background()
	capture := devcapture.NewStore()
	n := newNotifier(testConfig(), capture)

	msg := notify.Message{Channel: notify.ChannelPhone, Target: "+16502530000", Code: "123456", Kind: notify.KindVerifyOTP, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, n.Send(ctx, msg))
	code, _, ok := capture.Get(ctx, notify.ChannelPhone, "+16502530000")
	assert.True(t, ok)
	assert.Equal(t, "123456", code)

	bare := newNotifier(&config.Config{}, nil)
	err := bare.Send(ctx, notify.Message{Channel: notify.ChannelEmail, Target: "a@example.com"})
	assert.True(t, errors.Is(err, notify.ErrNoRoute))
}
