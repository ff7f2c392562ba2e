package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"storefront/backend/internal/config"
	"storefront/backend/internal/domain"
)

type fakeDialer struct {
	sent []*mail.Msg
	err  error
}

func (f *fakeDialer) DialAndSendWithContext(_ context.Context, messages ...*mail.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, messages...)
	return nil
}

func body(t *testing.T, msg *mail.Msg) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := msg.WriteTo(&buf)
	require.NoError(t, err)
	return buf.String()
}

func TestEmailNotifierBackInStock(t *testing.T) {
	d := &fakeDialer{}
	n := &EmailNotifier{client: d, from: "shop@example.com", logger: zerolog.Nop()}

	err := n.SendBackInStock(context.Background(), domain.BackInStockNotification{
		Email:   "buyer@example.com",
		Variant: &domain.VariantSelector{Group: "Size", Value: "M"},
	}, domain.Product{ID: "p1", Name: "Cotton Tee"})
	require.NoError(t, err)

	require.Len(t, d.sent, 1)
	rcpts, err := d.sent[0].GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"buyer@example.com"}, rcpts)
	assert.Equal(t, []string{"Cotton Tee is back in stock"}, d.sent[0].GetGenHeader(mail.HeaderSubject))
	assert.Contains(t, body(t, d.sent[0]), "Size: M")
}

func TestEmailNotifierPreOrderReady(t *testing.T) {
	d := &fakeDialer{}
	n := &EmailNotifier{client: d, from: "shop@example.com", logger: zerolog.Nop()}
	expires := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	err := n.SendPreOrderReady(context.Background(), domain.PreOrder{
		ID: "po1", Email: "buyer@example.com", Quantity: 2, ExpiresAt: &expires,
	}, domain.Product{Name: "Enamel Mug"})
	require.NoError(t, err)
	assert.Contains(t, body(t, d.sent[0]), "1 May 2026 10:00 UTC")
}

func TestEmailNotifierReportsFailures(t *testing.T) {
	n := &EmailNotifier{client: &fakeDialer{err: errors.New("connection refused")}, from: "shop@example.com", logger: zerolog.Nop()}

	err := n.SendBackInStock(context.Background(), domain.BackInStockNotification{Email: "buyer@example.com"}, domain.Product{Name: "Mug"})
	assert.ErrorContains(t, err, "connection refused")

	err = n.SendBackInStock(context.Background(), domain.BackInStockNotification{Email: "not an address"}, domain.Product{Name: "Mug"})
	assert.ErrorContains(t, err, "invalid to address")
}

func TestNewEmailNotifierBuildsClient(t *testing.T) {
	n, err := NewEmailNotifier(config.SMTPConfig{Host: "localhost", Port: 1025, From: "shop@example.com", TLS: "opportunistic"}, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, n.client)
}
