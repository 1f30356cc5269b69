// Package notify is the outbound presentation boundary: it turns request
// snapshots into broadcast posts, broadcast edits and private deliveries.
// The lifecycle engine calls into this package and never the other way
// around; delivery failures after a committed store write are reported,
// not rolled back.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"reqline/internal/domain"
)

// ErrDeliveryBlocked means the private surface refused delivery because
// the specialist has never initiated contact with it. The claim that
// triggered the delivery stays committed; only the delivery is retryable.
var ErrDeliveryBlocked = errors.New("private delivery blocked: specialist has not opened the private channel")

// Card is the snapshot of a request handed to the adapter for rendering.
// Phone is included only on private and operator deliveries; broadcast
// renderings omit it.
type Card struct {
	RequestID     string `json:"request_id"`
	PublicRef     string `json:"public_ref,omitempty"`
	Category      string `json:"category"`
	CategoryTitle string `json:"category_title"`
	Name          string `json:"name"`
	Phone         string `json:"phone,omitempty"`
	City          string `json:"city"`
	Description   string `json:"description"`
	CreatedAt     string `json:"created_at"`
	ClaimantName  string `json:"claimant_name,omitempty"`
	Note          string `json:"note,omitempty"`
	Reopened      bool   `json:"reopened,omitempty"`
	Voided        bool   `json:"voided,omitempty"`
}

// Adapter is the surface the engine publishes through.
type Adapter interface {
	// Publish posts a new broadcast message with a claim affordance and
	// returns the surface reference that becomes the request's public_ref.
	Publish(ctx context.Context, category string, card Card) (string, error)
	// Edit rewrites an existing broadcast message, typically to strip the
	// claim affordance and annotate the claimant.
	Edit(ctx context.Context, category, surfaceRef string, card Card) error
	// DeliverPrivate pushes full request detail to the claiming
	// specialist's private channel.
	DeliverPrivate(ctx context.Context, specialist domain.Identity, card Card) error
	// DeliverOperator sends the operator copy of a fresh submission.
	DeliverOperator(ctx context.Context, card Card) error
	// Retract removes a stale private-surface affordance after a cancel.
	// Best effort; callers log and continue on failure.
	Retract(ctx context.Context, specialist domain.Identity, surfaceRef string) error
}

// BroadcastText renders the public channel body. No phone number here:
// the broadcast is visible to every specialist in the category.
func BroadcastText(card Card) string {
	var b strings.Builder
	switch {
	case card.Voided:
		b.WriteString("This request is no longer available.\n")
		return b.String()
	case card.ClaimantName != "":
		fmt.Fprintf(&b, "Taken by %s\n\n", card.ClaimantName)
	case card.Reopened:
		b.WriteString("Request available again\n")
		if card.Note != "" {
			fmt.Fprintf(&b, "Specialist's comment: %s\n", card.Note)
		}
		b.WriteString("\n")
	default:
		b.WriteString("New request\n\n")
	}
	fmt.Fprintf(&b, "Name: %s | %s\n", card.Name, card.CategoryTitle)
	fmt.Fprintf(&b, "City: %s\n", card.City)
	fmt.Fprintf(&b, "Description: %s\n", card.Description)
	fmt.Fprintf(&b, "Submitted: %s\n", card.CreatedAt)
	return b.String()
}

// PrivateText renders the full-detail card delivered to the claimant.
func PrivateText(card Card) string {
	var b strings.Builder
	b.WriteString("You claimed a request\n\n")
	fmt.Fprintf(&b, "Name: %s\n", card.Name)
	fmt.Fprintf(&b, "Phone: %s\n", card.Phone)
	fmt.Fprintf(&b, "City: %s\n", card.City)
	fmt.Fprintf(&b, "Category: %s\n", card.CategoryTitle)
	fmt.Fprintf(&b, "Description: %s\n", card.Description)
	return b.String()
}

// OperatorText renders the operator copy, phone included.
func OperatorText(card Card) string {
	var b strings.Builder
	b.WriteString("New request received\n\n")
	fmt.Fprintf(&b, "Name: %s\n", card.Name)
	fmt.Fprintf(&b, "Phone: %s\n", card.Phone)
	fmt.Fprintf(&b, "City: %s\n", card.City)
	fmt.Fprintf(&b, "Category: %s\n", card.CategoryTitle)
	fmt.Fprintf(&b, "Description: %s\n", card.Description)
	fmt.Fprintf(&b, "Submitted: %s\n", card.CreatedAt)
	return b.String()
}
