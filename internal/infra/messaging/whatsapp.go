package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"club_attendance_engine/internal/domain/notify"

	"github.com/google/uuid"
)

// WhatsAppProvider delivers through a WhatsApp Business gateway. The
// gateway applies its own approved template per kind; we pass the kind
// and named parameters through.
type WhatsAppProvider struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewWhatsAppProvider(baseURL, token string, timeout time.Duration) *WhatsAppProvider {
	return &WhatsAppProvider{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type whatsAppRequest struct {
	To       string        `json:"to"`
	Template string        `json:"template"`
	Params   notify.Params `json:"params"`
}

type whatsAppResponse struct {
	MessageID string `json:"message_id"`
}

func (p *WhatsAppProvider) Send(ctx context.Context, ch notify.Channel, kind notify.Kind, params notify.Params) (string, error) {
	body, err := json.Marshal(whatsAppRequest{To: ch.Address, Template: string(kind), Params: params})
	if err != nil {
		return "", fmt.Errorf("failed to encode whatsapp request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("whatsapp gateway: %w", notify.ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whatsapp gateway returned %d: %s", resp.StatusCode, string(payload))
	}

	var parsed whatsAppResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || parsed.MessageID == "" {
		// Delivery succeeded; correlate with a local ID when the gateway
		// returns none.
		return uuid.NewString(), nil
	}
	return parsed.MessageID, nil
}
