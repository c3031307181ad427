package notification

import "context"

// Message is the rendered email ready for delivery.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Provider defines the contract for an email delivery backend.
// Implementations live in infra/email/.
type Provider interface {
	// Send delivers a rendered message and returns the provider's message ID.
	Send(ctx context.Context, msg *Message) (string, error)

	// Name identifies the provider in errors and logs.
	Name() string
}

// TemplateRenderer defines the contract for rendering notification emails.
// Implementations live in infra/template/.
type TemplateRenderer interface {
	// Render produces a subject line, HTML body, and plain-text body for the given notification type.
	Render(typeName string, data map[string]any) (subject, html, text string, err error)
}
