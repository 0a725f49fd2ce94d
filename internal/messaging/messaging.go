package messaging

import (
	"context"
	"errors"
)

// ErrPermanentlyUnreachable marks a recipient the transport can never deliver
// to again (blocked the bot, deleted account, chat gone). Callers remove such
// recipients from the registry instead of retrying.
var ErrPermanentlyUnreachable = errors.New("messaging: recipient permanently unreachable")

// Sender is the outbound send collaborator. A nil error is a successful
// delivery; ErrPermanentlyUnreachable means drop the recipient; anything else
// is a transient failure worth retrying later.
type Sender interface {
	Send(ctx context.Context, recipientID, text string) error
}
