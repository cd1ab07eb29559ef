package notify

import (
	"context"
	"errors"
)

// ChannelKind names a delivery transport.
type ChannelKind string

const (
	ChannelWhatsApp ChannelKind = "whatsapp" // address is a phone number
	ChannelTelegram ChannelKind = "telegram" // address is a chat ID
	ChannelEmail    ChannelKind = "email"
)

// Channel is a resolved recipient address.
type Channel struct {
	Kind    ChannelKind
	Address string
}

// Params are the named template parameters of a message.
type Params map[string]string

// ErrRateLimited is the contract error providers return when the external
// service asks to slow down. The dispatcher retries it with backoff; any
// other provider error is recorded as a failure and not retried.
var ErrRateLimited = errors.New("provider rate limited")

// Provider delivers one templated message through an external service.
// Implementations must treat the service as opaque and possibly failing;
// they return the provider message ID on success.
type Provider interface {
	Send(ctx context.Context, ch Channel, kind Kind, params Params) (messageID string, err error)
}
