package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"club_attendance_engine/internal/domain/class"
	"club_attendance_engine/internal/domain/notify"

	"github.com/sirupsen/logrus"
)

// Custom application-level errors for the dispatcher
var ErrNoChannel = fmt.Errorf("no contact channel resolves for recipient")
var ErrNoProvider = fmt.Errorf("no provider registered for channel kind")

// Dispatcher resolves a recipient's contact channel and delivers one
// templated message through the matching provider. A single recipient's
// failure is always contained here: callers record it and move on, and no
// domain transaction is ever rolled back because a send failed.
type Dispatcher struct {
	classes     class.Repository
	providers   map[notify.ChannelKind]notify.Provider
	logger      *logrus.Entry
	maxRetries  int           // retry bound for rate-limited sends
	backoffBase time.Duration // doubled per attempt
}

func NewDispatcher(
	classes class.Repository,
	providers map[notify.ChannelKind]notify.Provider,
	logger *logrus.Entry,
	maxRetries int,
	backoffBase time.Duration,
) *Dispatcher {
	return &Dispatcher{
		classes:     classes,
		providers:   providers,
		logger:      logger,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
	}
}

// ResolveChannel walks the contact fallback chain for an enrollment:
// linked Telegram chat, then the enrollment's own phone, then the account
// phone, then — for dependent profiles with only a synthetic placeholder
// contact — the guardian account's phone, then email when an email provider
// is registered. It fails with ErrNoChannel when nothing resolves; callers
// skip the recipient.
func (d *Dispatcher) ResolveChannel(ctx context.Context, enrollmentID int64) (notify.Channel, error) {
	enr, err := d.classes.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return notify.Channel{}, fmt.Errorf("failed to load enrollment %d: %w", enrollmentID, err)
	}

	var acct *class.Account
	if enr.AccountID.Valid {
		acct, err = d.classes.GetAccount(ctx, enr.AccountID.Int64)
		if err != nil {
			return notify.Channel{}, fmt.Errorf("failed to load account %d: %w", enr.AccountID.Int64, err)
		}
	}

	if acct != nil && acct.TelegramChatID.Valid {
		return notify.Channel{Kind: notify.ChannelTelegram, Address: strconv.FormatInt(acct.TelegramChatID.Int64, 10)}, nil
	}
	if enr.Phone.Valid && enr.Phone.String != "" && !enr.HasPlaceholderContact() {
		return notify.Channel{Kind: notify.ChannelWhatsApp, Address: enr.Phone.String}, nil
	}
	if acct != nil && acct.Phone.Valid && acct.Phone.String != "" {
		return notify.Channel{Kind: notify.ChannelWhatsApp, Address: acct.Phone.String}, nil
	}

	// Guardian fallback for dependent profiles.
	var guardian *class.Account
	dependent := enr.HasPlaceholderContact() || (acct != nil && acct.IsDependent)
	if dependent && acct != nil && acct.GuardianID.Valid {
		guardian, err = d.classes.GetAccount(ctx, acct.GuardianID.Int64)
		if err != nil {
			return notify.Channel{}, fmt.Errorf("failed to load guardian account %d: %w", acct.GuardianID.Int64, err)
		}
		if guardian.Phone.Valid && guardian.Phone.String != "" {
			return notify.Channel{Kind: notify.ChannelWhatsApp, Address: guardian.Phone.String}, nil
		}
	}

	// Email fallback, only after every phone option failed and only when an
	// email provider is actually registered; otherwise the recipient counts
	// as unreachable instead of producing a doomed send.
	if _, ok := d.providers[notify.ChannelEmail]; ok {
		if enr.Email.Valid && enr.Email.String != "" && enr.Email.String != class.PlaceholderContact {
			return notify.Channel{Kind: notify.ChannelEmail, Address: enr.Email.String}, nil
		}
		if acct != nil && acct.Email.Valid && acct.Email.String != "" {
			return notify.Channel{Kind: notify.ChannelEmail, Address: acct.Email.String}, nil
		}
		if guardian != nil && guardian.Email.Valid && guardian.Email.String != "" {
			return notify.Channel{Kind: notify.ChannelEmail, Address: guardian.Email.String}, nil
		}
	}

	return notify.Channel{}, ErrNoChannel
}

// Send delivers through the provider for the channel kind. Rate-limit
// responses are retried with doubling backoff up to the configured bound;
// any other provider error is final for this attempt.
func (d *Dispatcher) Send(ctx context.Context, ch notify.Channel, kind notify.Kind, params notify.Params) (string, error) {
	provider, ok := d.providers[ch.Kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoProvider, ch.Kind)
	}

	backoff := d.backoffBase
	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		messageID, err := provider.Send(ctx, ch, kind, params)
		if err == nil {
			return messageID, nil
		}
		lastErr = err
		if !errors.Is(err, notify.ErrRateLimited) {
			return "", err
		}
		if attempt == d.maxRetries {
			break
		}
		d.logger.WithFields(logrus.Fields{
			"channel_kind": ch.Kind,
			"kind":         kind,
			"attempt":      attempt + 1,
			"backoff":      backoff.String(),
		}).Warn("Provider rate limited, backing off")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return "", fmt.Errorf("send gave up after %d retries: %w", d.maxRetries, lastErr)
}

// DeliverTo is the resolve-then-send convenience used by the fan-out
// paths. ErrNoChannel propagates for the caller to record and skip.
func (d *Dispatcher) DeliverTo(ctx context.Context, enrollmentID int64, kind notify.Kind, params notify.Params) (string, error) {
	ch, err := d.ResolveChannel(ctx, enrollmentID)
	if err != nil {
		return "", err
	}
	return d.Send(ctx, ch, kind, params)
}
