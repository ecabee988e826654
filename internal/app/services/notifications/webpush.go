package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// WebPushConfig holds the VAPID identity used to sign push messages.
type WebPushConfig struct {
	Subscriber      string `yaml:"subscriber" validate:"omitempty,email"`
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
}

// WebPusher sends notifications over the Web Push protocol.
type WebPusher struct {
	cfg WebPushConfig
}

var _ Pusher = (*WebPusher)(nil)

// NewWebPusher builds a pusher from the VAPID configuration.
func NewWebPusher(cfg WebPushConfig) *WebPusher {
	return &WebPusher{cfg: cfg}
}

func (p *WebPusher) Push(ctx context.Context, subscription string, payload []byte, ttl int) (int, error) {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(subscription), &sub); err != nil {
		return 0, fmt.Errorf("decode subscription: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &sub, &webpush.Options{
		Subscriber:      p.cfg.Subscriber,
		VAPIDPublicKey:  p.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: p.cfg.VAPIDPrivateKey,
		TTL:             ttl,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
