// Package notify defines operator notifications.
package notify

import (
	"context"
	"time"
)

// Well-known channels. Per-attempt digests use the add target's
// abbreviation as their channel.
const (
	ChannelLoginError    = "Login Error"
	ChannelCriticalError = "Critical Error"
	ChannelRegisterFail  = "Register Fail"
	ChannelParseError    = "Parse Error"
	ChannelSpecRejected  = "Spec Rejected"
	ChannelStopped       = "Stopped"
)

// Message is one notification.
type Message struct {
	Channel string
	Text    string
	Time    time.Time
}

// Sink delivers notifications to an operator. Implementations may be slow;
// callers hand messages to service.NotificationService rather than calling
// a Sink directly. Deliver must not retain msgs after it returns.
type Sink interface {
	Deliver(ctx context.Context, msgs []Message) error
}
