package sriqueue

import (
	"context"
	"strings"
	"time"

	"osiris/internal/core/id"
)

// ReceptionStatus is the answer of the reception service.
type ReceptionStatus string

const (
	ReceptionReceived ReceptionStatus = "RECIBIDA"
	ReceptionReturned ReceptionStatus = "DEVUELTA"
)

// AuthorizationStatus is the answer of the authorization service.
type AuthorizationStatus string

const (
	AuthorizationGranted    AuthorizationStatus = "AUTORIZADO"
	AuthorizationDenied     AuthorizationStatus = "NO AUTORIZADO"
	AuthorizationInProgress AuthorizationStatus = "EN PROCESO"
)

// codeAlreadyReceived is the reception message for an access key the
// authority already holds. The document counts as sent.
const codeAlreadyReceived = "43"

// Message is one observation returned by the authority.
type Message struct {
	Identifier     string `json:"identifier"`
	Text           string `json:"text"`
	AdditionalInfo string `json:"additionalInfo,omitempty"`
	Type           string `json:"type,omitempty"`
}

// Reception is the result of submitting a signed document.
type Reception struct {
	Status   ReceptionStatus
	Messages []Message
}

// AlreadyReceived reports a returned document whose key the authority already has.
func (r *Reception) AlreadyReceived() bool {
	for _, m := range r.Messages {
		if m.Identifier == codeAlreadyReceived {
			return true
		}
	}
	return false
}

// AuthorizationResult is the result of an authorization query.
type AuthorizationResult struct {
	Status       AuthorizationStatus
	Number       string
	AuthorizedAt time.Time
	Messages     []Message
}

// Authority talks to the tax authority. Implementations return
// apperror.ExternalSubmission for transport failures and timeouts.
type Authority interface {
	Sign(ctx context.Context, payload string) (string, error)
	Submit(ctx context.Context, signedXML string) (*Reception, error)
	Authorize(ctx context.Context, accessKey string) (*AuthorizationResult, error)
}

// DeadLetter receives items that exhausted their attempts. Best-effort.
type DeadLetter interface {
	Push(ctx context.Context, item *Item) error
}

// Notifier wakes the worker when new work is committed. Best-effort.
type Notifier interface {
	Wake(ctx context.Context, itemID id.ID) error
}

// FormatMessages renders authority messages for storage and logs.
func FormatMessages(msgs []Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		p := m.Identifier + ": " + m.Text
		if m.AdditionalInfo != "" {
			p += " (" + m.AdditionalInfo + ")"
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, "; ")
}
