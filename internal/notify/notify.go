package notify

import "context"

// Sender delivers a text message to a chat. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}
