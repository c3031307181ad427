package email

import (
	"context"
	"fmt"

	"notifgate/internal/domain/notification"

	"github.com/resend/resend-go/v2"
)

var _ notification.Provider = (*ResendProvider)(nil)

// ResendProvider sends emails using the Resend SDK.
type ResendProvider struct {
	client      *resend.Client
	fromAddress string
	fromName    string
}

// NewResendProvider creates a new Resend email provider.
func NewResendProvider(apiKey, fromAddress, fromName string) *ResendProvider {
	return NewResendProviderWithClient(resend.NewClient(apiKey), fromAddress, fromName)
}

// NewResendProviderWithClient uses a preconfigured client, e.g. one pointed at a test server.
func NewResendProviderWithClient(client *resend.Client, fromAddress, fromName string) *ResendProvider {
	return &ResendProvider{
		client:      client,
		fromAddress: fromAddress,
		fromName:    fromName,
	}
}

// Name returns the provider identifier.
func (p *ResendProvider) Name() string {
	return "resend"
}

// Send delivers an email via the Resend API and returns the message ID.
func (p *ResendProvider) Send(ctx context.Context, msg *notification.Message) (string, error) {
	from := p.fromAddress
	if p.fromName != "" {
		from = fmt.Sprintf("%s <%s>", p.fromName, p.fromAddress)
	}

	params := &resend.SendEmailRequest{
		From:    from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	}

	sent, err := p.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return "", fmt.Errorf("resend: %w", err)
	}

	return sent.Id, nil
}
