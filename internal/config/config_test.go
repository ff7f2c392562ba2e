package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	assert.Empty(t, cfg.AuthSecret, "expected empty AUTH_SECRET when unset")
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PREORDER_HOLD_HOURS", "GUEST_CART_TTL_HOURS", "NOTIFY_WORKERS", "SMTP_HOST", "PREORDER_AUTO_NOTIFY"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, 48*time.Hour, cfg.PreOrderHold)
	assert.Equal(t, 72*time.Hour, cfg.GuestCartTTL)
	assert.Equal(t, 2, cfg.NotifyWorkers)
	assert.False(t, cfg.PreOrderAutoNotify)
	assert.False(t, cfg.SMTP.Enabled())
}

func TestLoadRejectsNonPositiveDurations(t *testing.T) {
	t.Setenv("PREORDER_HOLD_HOURS", "-3")
	t.Setenv("EXPIRY_SWEEP_SECONDS", "abc")
	t.Setenv("PREORDER_AUTO_NOTIFY", "true")

	cfg := Load()
	assert.Equal(t, 48*time.Hour, cfg.PreOrderHold)
	assert.Equal(t, 300*time.Second, cfg.ExpirySweepInterval)
	assert.True(t, cfg.PreOrderAutoNotify)
}
