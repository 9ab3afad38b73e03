// Package notify delivers budget alerts over email and a chat webhook. Each
// channel is attempted independently; a failing channel never blocks another.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/cloudcost/pkg/config"
	"github.com/pario-ai/cloudcost/pkg/logging"
	"github.com/pario-ai/cloudcost/pkg/models"
)

// DefaultTimeout bounds a single channel send when none is configured.
const DefaultTimeout = 10 * time.Second

// Notice is an alert joined with the budget it belongs to.
type Notice struct {
	Alert  models.BudgetAlert
	Budget models.Budget
}

// Channel is one delivery path for alerts.
type Channel interface {
	Name() string
	// Enabled reports whether the channel is switched on and fully configured.
	Enabled() bool
	Send(ctx context.Context, n Notice) error
}

// Dispatcher fans an alert out to the email and chat channels.
type Dispatcher struct {
	email   Channel
	chat    Channel
	timeout time.Duration
	logger  *zap.Logger
}

// NewDispatcher builds the email and chat channels from cfg.
func NewDispatcher(cfg config.NotifyConfig, logger *zap.Logger) *Dispatcher {
	return NewDispatcherWith(NewEmailChannel(cfg.Email), NewChatChannel(cfg.Chat, nil), cfg.Timeout, logger)
}

// NewDispatcherWith uses the given channels. Either may be nil.
func NewDispatcherWith(email, chat Channel, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		email:   email,
		chat:    chat,
		timeout: timeout,
		logger:  logging.OrNop(logger),
	}
}

// Dispatch attempts every channel once and reports which ones delivered.
// Channel errors are logged and never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notice) models.DispatchResult {
	return models.DispatchResult{
		EmailSent: d.send(ctx, d.email, n),
		ChatSent:  d.send(ctx, d.chat, n),
	}
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, n Notice) (sent bool) {
	if ch == nil || !ch.Enabled() {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	log := d.logger.With(
		zap.String("channel", ch.Name()),
		zap.Int64("alert_id", n.Alert.ID),
		zap.String("budget", n.Budget.Name),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("notification channel panicked", zap.String("panic", fmt.Sprint(r)))
			sent = false
		}
	}()

	start := time.Now()
	if err := ch.Send(ctx, n); err != nil {
		log.Warn("notification failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return false
	}
	log.Debug("notification sent", zap.Duration("elapsed", time.Since(start)))
	return true
}
