// Package broker fans out record writes to every device subscribed to the
// same date.
package broker

import (
	"context"

	"github.com/censo/censo/backend/go-services/internal/record"
)

// Message is published after every successful remote write.
type Message struct {
	Key      string           `json:"key"`
	Origin   string           `json:"origin"`
	Document *record.Document `json:"document"`
}

// Broker delivers messages published for a key to that key's subscribers,
// in publish order.
type Broker interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, key string, fn func(Message)) (unsubscribe func(), err error)
}
