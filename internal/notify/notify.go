// Package notify delivers emergency halt notifications.
//
// When a running session halts on an emergency answer, the instructed action
// is pushed to a duty contact over Twilio SMS. Delivery is best effort: a
// failed notification never blocks or fails the session.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Notifier sends an emergency notification for a halted session.
type Notifier interface {
	NotifyEmergency(ctx context.Context, flowTitle, actionText, lastAnswer string) error
}

// Opts holds configuration options for the Twilio notifier.
type Opts struct {
	// AccountSID is the Twilio Account SID. Falls back to TWILIO_ACCOUNT_SID.
	AccountSID string
	// AuthToken is the Twilio Auth Token. Falls back to TWILIO_AUTH_TOKEN.
	AuthToken string
	// From is the sending phone number. Falls back to TWILIO_FROM_NUMBER.
	From string
	// To is the duty contact phone number. Falls back to EMERGENCY_CONTACT_NUMBER.
	To string
}

// Option defines a configuration option for the Twilio notifier.
type Option func(*Opts)

// WithAccountSID sets the Twilio Account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio Auth Token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sending phone number.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithTo sets the duty contact phone number.
func WithTo(to string) Option {
	return func(o *Opts) { o.To = to }
}

// messageCreator abstracts the Twilio message API for testing.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioNotifier sends emergency notifications as SMS via Twilio.
type TwilioNotifier struct {
	messages messageCreator
	from     string
	to       string
}

// NewTwilioNotifier creates a Twilio-backed notifier based on provided
// options, with environment variable fallbacks for each credential.
func NewTwilioNotifier(opts ...Option) (*TwilioNotifier, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.To == "" {
		cfg.To = os.Getenv("EMERGENCY_CONTACT_NUMBER")
	}
	slog.Debug("TwilioNotifier.NewTwilioNotifier: creating notifier",
		"AccountSID_set", cfg.AccountSID != "", "From_set", cfg.From != "", "To_set", cfg.To != "")
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		slog.Error("Twilio credentials not set")
		return nil, fmt.Errorf("Twilio credentials not set")
	}
	if cfg.From == "" || cfg.To == "" {
		slog.Error("Twilio phone numbers not set")
		return nil, fmt.Errorf("Twilio from and to numbers not set")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioNotifier{messages: client.Api, from: cfg.From, to: cfg.To}, nil
}

// NotifyEmergency sends the halted flow's emergency action to the duty
// contact.
func (n *TwilioNotifier) NotifyEmergency(ctx context.Context, flowTitle, actionText, lastAnswer string) error {
	body := fmt.Sprintf("EMERGENCY HALT [%s]\nAction: %s\nReported: %s", flowTitle, actionText, lastAnswer)
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(n.to)
	params.SetFrom(n.from)
	params.SetBody(body)

	resp, err := n.messages.CreateMessage(params)
	if err != nil {
		slog.Error("TwilioNotifier.NotifyEmergency: send failed", "error", err, "flowTitle", flowTitle)
		return fmt.Errorf("failed to send emergency SMS: %w", err)
	}
	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Info("TwilioNotifier.NotifyEmergency: notification sent", "flowTitle", flowTitle, "sid", sid)
	return nil
}

// LogNotifier records emergency notifications in the log only. It is the
// degraded mode used when Twilio credentials are not configured.
type LogNotifier struct{}

// NotifyEmergency logs the emergency instead of delivering it.
func (LogNotifier) NotifyEmergency(ctx context.Context, flowTitle, actionText, lastAnswer string) error {
	slog.Warn("LogNotifier.NotifyEmergency: emergency halt (delivery not configured)",
		"flowTitle", flowTitle, "action", actionText, "lastAnswer", lastAnswer)
	return nil
}

// MockNotifier is a notifier that records notifications for testing.
type MockNotifier struct {
	mu     sync.Mutex
	Err    error
	Events []MockEvent
}

// MockEvent is one recorded notification.
type MockEvent struct {
	FlowTitle  string
	ActionText string
	LastAnswer string
}

// NotifyEmergency records the notification and returns the configured error.
func (m *MockNotifier) NotifyEmergency(ctx context.Context, flowTitle, actionText, lastAnswer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Events = append(m.Events, MockEvent{FlowTitle: flowTitle, ActionText: actionText, LastAnswer: lastAnswer})
	return nil
}
