package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/backend/internal/config"
	"storefront/backend/internal/notify"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	assert.Error(t, err)

	err = validateSecurityConfig(config.Config{Env: "prod", AuthSecret: "0123456789abcdef0123456789abcdef", AllowedOrigin: "*"})
	assert.Error(t, err, "wildcard origin in prod")
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", AllowedOrigin: "*"})
	assert.NoError(t, err)

	err = validateSecurityConfig(config.Config{Env: "prod", AuthSecret: "0123456789abcdef0123456789abcdef", AllowedOrigin: "https://shop.example.com"})
	assert.NoError(t, err)
}

func TestValidateRuntimeConfigRequiresDatabaseWithNATS(t *testing.T) {
	err := validateRuntimeConfig(config.Config{NATSURL: "nats://localhost:4222"})
	assert.Error(t, err)

	err = run(context.Background(), config.Config{NATSURL: "nats://localhost:4222"}, zerolog.Nop())
	assert.ErrorContains(t, err, "DATABASE_URL")

	assert.NoError(t, validateRuntimeConfig(config.Config{NATSURL: "nats://localhost:4222", DatabaseURL: "postgres://localhost/storefront"}))
	assert.NoError(t, validateRuntimeConfig(config.Config{}), "in-memory with the in-process queue")
}

func TestBuildNotifierFallsBackToLog(t *testing.T) {
	n, err := buildNotifier(config.Config{}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, notify.LogNotifier{}, n)

	n, err = buildNotifier(config.Config{SMTP: config.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "shop@example.com", TLS: "opportunistic"}}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &notify.EmailNotifier{}, n)
}
