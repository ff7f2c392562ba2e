package notify

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	"storefront/backend/internal/config"
	"storefront/backend/internal/domain"
)

// dialer is the part of *mail.Client the notifier needs.
type dialer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// EmailNotifier sends notifications over SMTP.
type EmailNotifier struct {
	client dialer
	from   string
	logger zerolog.Logger
}

func NewEmailNotifier(cfg config.SMTPConfig, logger zerolog.Logger) (*EmailNotifier, error) {
	client, err := mail.NewClient(cfg.Host, clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	return &EmailNotifier{client: client, from: cfg.From, logger: logger}, nil
}

func clientOptions(cfg config.SMTPConfig) []mail.Option {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(30 * time.Second),
	}

	switch cfg.TLS {
	case "ssl":
		opts = append(opts, mail.WithSSL())
	case "mandatory":
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts,
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
			mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
		)
	}
	return opts
}

var (
	backInStockBody = template.Must(template.New("back_in_stock").Parse(
		`Good news! {{.Product}}{{if .Variant}} ({{.Variant}}){{end}} is back in stock.

Stock is limited, so order soon if you still want it.
`))
	preOrderReadyBody = template.Must(template.New("pre_order_ready").Parse(
		`Your pre-order for {{.Quantity}} x {{.Product}}{{if .Variant}} ({{.Variant}}){{end}} is ready.

Please complete your order before {{.ExpiresAt}}. After that the reservation is released.
`))
)

type messageData struct {
	Product   string
	Variant   string
	Quantity  int
	ExpiresAt string
}

func variantLabel(v *domain.VariantSelector) string {
	if v == nil {
		return ""
	}
	return v.Group + ": " + v.Value
}

func (n *EmailNotifier) SendBackInStock(ctx context.Context, sub domain.BackInStockNotification, product domain.Product) error {
	return n.send(ctx, sub.Email, product.Name+" is back in stock", backInStockBody, messageData{
		Product: product.Name,
		Variant: variantLabel(sub.Variant),
	})
}

func (n *EmailNotifier) SendPreOrderReady(ctx context.Context, p domain.PreOrder, product domain.Product) error {
	data := messageData{
		Product:  product.Name,
		Variant:  variantLabel(p.Variant),
		Quantity: p.Quantity,
	}
	if p.ExpiresAt != nil {
		data.ExpiresAt = p.ExpiresAt.UTC().Format("2 Jan 2006 15:04 MST")
	}
	return n.send(ctx, p.Email, "Your pre-order for "+product.Name+" is ready", preOrderReadyBody, data)
}

func (n *EmailNotifier) send(ctx context.Context, to, subject string, body *template.Template, data messageData) error {
	var buf bytes.Buffer
	if err := body.Execute(&buf, data); err != nil {
		return fmt.Errorf("render %s: %w", body.Name(), err)
	}

	msg := mail.NewMsg()
	if err := msg.From(n.from); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid to address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, buf.String())

	if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
		n.logger.Error().Err(err).Str("to", to).Str("template", body.Name()).Msg("smtp: failed to send email")
		return fmt.Errorf("failed to send email: %w", err)
	}
	n.logger.Debug().Str("to", to).Str("template", body.Name()).Msg("smtp: email sent")
	return nil
}
