// Package messaging handles the WhatsApp transport via Twilio.
//
// It owns outbound sends, the inbound webhook, and media retrieval. Phone
// numbers cross this boundary in canonical digits-only form; the
// "whatsapp:+" dressing is applied only at the wire.
package messaging

import (
	"context"
	"fmt"
	"strings"

	"github.com/iqcalorie/caloriebot/internal/models"
)

// minPhoneDigits rejects obviously malformed sender IDs before any lookup.
const minPhoneDigits = 6

// Service abstracts the outbound messaging transport.
type Service interface {
	// SendMessage delivers one message to a canonical recipient.
	SendMessage(ctx context.Context, to, body string) error
	// ValidateAndCanonicalizeRecipient normalizes a raw recipient into
	// digits-only form.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)
}

// TurnProcessor handles one inbound message and returns reply chunks.
// ErrUnauthorized and ErrDuplicateTurn mean nothing should be sent.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, in models.InboundMessage) ([]string, error)
}

// CanonicalizePhone strips everything but digits from a recipient string,
// including the "whatsapp:+" prefix Twilio puts on WhatsApp addresses.
func CanonicalizePhone(recipient string) (string, error) {
	var b strings.Builder
	for _, r := range recipient {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < minPhoneDigits {
		return "", fmt.Errorf("recipient %q too short after normalization", recipient)
	}
	return digits, nil
}
