package messaging

import (
	"context"
	"fmt"
	"strings"

	"club_attendance_engine/internal/domain/notify"

	"github.com/resend/resend-go/v2"
)

// EmailProvider delivers through the Resend API. Email is the last-resort
// channel for members with no reachable phone.
type EmailProvider struct {
	client *resend.Client
	from   string
}

func NewEmailProvider(apiKey, from string) *EmailProvider {
	return &EmailProvider{
		client: resend.NewClient(apiKey),
		from:   from,
	}
}

func (p *EmailProvider) Send(ctx context.Context, ch notify.Channel, kind notify.Kind, params notify.Params) (string, error) {
	req := &resend.SendEmailRequest{
		From:    p.from,
		To:      []string{ch.Address},
		Subject: kind.Subject(params),
		Text:    kind.Render(params),
	}
	sent, err := p.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		if strings.Contains(err.Error(), "rate limit") || strings.Contains(err.Error(), "429") {
			return "", fmt.Errorf("resend: %w", notify.ErrRateLimited)
		}
		return "", fmt.Errorf("resend send failed: %w", err)
	}
	return sent.Id, nil
}
