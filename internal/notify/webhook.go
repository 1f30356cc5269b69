package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"reqline/internal/config"
	"reqline/internal/domain"
)

const (
	defaultTimeout = 5 * time.Second
	defaultRetries = 3
)

// Webhook delivers notifications over HTTP: one destination URL per
// category for broadcast posts, one gateway for private deliveries and
// one for the operator copy. Transient failures are retried with
// exponential backoff; a DeliveryBlocked response is never retried.
type Webhook struct {
	Categories  map[string]string // category key -> destination URL
	PrivateURL  string
	OperatorURL string
	Secret      string
	Client      *http.Client
	MaxRetries  uint64
}

// NewWebhook builds a Webhook adapter from service config.
func NewWebhook(cfg *config.Config) *Webhook {
	timeout := defaultTimeout
	if cfg.Notify.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.Notify.TimeoutSeconds) * time.Second
	}
	retries := uint64(defaultRetries)
	if cfg.Notify.MaxRetries > 0 {
		retries = uint64(cfg.Notify.MaxRetries)
	}
	cats := make(map[string]string, len(cfg.Categories.Catalog))
	for key, cat := range cfg.Categories.Catalog {
		cats[key] = cat.Destination
	}
	return &Webhook{
		Categories:  cats,
		PrivateURL:  cfg.Notify.PrivateURL,
		OperatorURL: cfg.Notify.OperatorURL,
		Secret:      cfg.Notify.Secret,
		Client:      &http.Client{Timeout: timeout},
		MaxRetries:  retries,
	}
}

type outboundMessage struct {
	Kind         string `json:"kind"` // publish | edit | private | operator | retract
	Ref          string `json:"ref,omitempty"`
	SpecialistID string `json:"specialist_id,omitempty"`
	Text         string `json:"text"`
	Claimable    bool   `json:"claimable"`
	Card         Card   `json:"card"`
}

type publishResponse struct {
	Ref string `json:"ref"`
}

func (w *Webhook) Publish(ctx context.Context, category string, card Card) (string, error) {
	dest, ok := w.Categories[category]
	if !ok || strings.TrimSpace(dest) == "" {
		return "", fmt.Errorf("no broadcast destination for category %s", category)
	}
	msg := outboundMessage{
		Kind:      "publish",
		Text:      BroadcastText(card),
		Claimable: true,
		Card:      card,
	}
	body, err := w.post(ctx, dest, msg, true)
	if err != nil {
		return "", err
	}
	var resp publishResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Ref != "" {
		return resp.Ref, nil
	}
	// Destination did not assign a reference; mint one so the broadcast
	// message stays addressable for later edits.
	return uuid.NewString(), nil
}

func (w *Webhook) Edit(ctx context.Context, category, surfaceRef string, card Card) error {
	dest, ok := w.Categories[category]
	if !ok || strings.TrimSpace(dest) == "" {
		return fmt.Errorf("no broadcast destination for category %s", category)
	}
	msg := outboundMessage{
		Kind: "edit",
		Ref:  surfaceRef,
		Text: BroadcastText(card),
		Card: card,
	}
	_, err := w.post(ctx, dest, msg, true)
	return err
}

func (w *Webhook) DeliverPrivate(ctx context.Context, specialist domain.Identity, card Card) error {
	if strings.TrimSpace(w.PrivateURL) == "" {
		return errors.New("private delivery gateway not configured")
	}
	msg := outboundMessage{
		Kind:         "private",
		SpecialistID: specialist.ID,
		Text:         PrivateText(card),
		Card:         card,
	}
	// No retry here: a blocked channel stays blocked until the specialist
	// opens it, and duplicating private cards on flaky networks is worse
	// than asking the user to re-trigger delivery.
	_, err := w.post(ctx, w.PrivateURL, msg, false)
	return err
}

func (w *Webhook) DeliverOperator(ctx context.Context, card Card) error {
	if strings.TrimSpace(w.OperatorURL) == "" {
		return nil
	}
	msg := outboundMessage{
		Kind: "operator",
		Text: OperatorText(card),
		Card: card,
	}
	_, err := w.post(ctx, w.OperatorURL, msg, true)
	return err
}

func (w *Webhook) Retract(ctx context.Context, specialist domain.Identity, surfaceRef string) error {
	if strings.TrimSpace(w.PrivateURL) == "" {
		return nil
	}
	msg := outboundMessage{
		Kind:         "retract",
		Ref:          surfaceRef,
		SpecialistID: specialist.ID,
	}
	_, err := w.post(ctx, w.PrivateURL, msg, false)
	return err
}

func (w *Webhook) post(ctx context.Context, dest string, msg outboundMessage, retry bool) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	attempt := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest, bytes.NewReader(data))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Reqline-Kind", msg.Kind)
		if strings.TrimSpace(w.Secret) != "" {
			req.Header.Set("X-Reqline-Secret", w.Secret)
		}
		res, err := w.Client.Do(req)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
		switch {
		case res.StatusCode >= 200 && res.StatusCode < 300:
			return body, nil
		case res.StatusCode == http.StatusForbidden || res.StatusCode == http.StatusNotFound:
			// The surface knows this recipient and refuses: not transient.
			return nil, backoff.Permanent(ErrDeliveryBlocked)
		case res.StatusCode >= 500:
			return nil, fmt.Errorf("destination %s: status %d: %s", dest, res.StatusCode, strings.TrimSpace(string(body)))
		default:
			return nil, backoff.Permanent(fmt.Errorf("destination %s: status %d: %s", dest, res.StatusCode, strings.TrimSpace(string(body))))
		}
	}
	if !retry {
		body, err := attempt()
		return body, unwrapPermanent(err)
	}
	var body []byte
	op := func() error {
		var err error
		body, err = attempt()
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), w.MaxRetries), ctx)
	if err := backoff.RetryNotify(op, bo, func(err error, next time.Duration) {
		log.Printf("notify: delivery to %s failed, retrying in %s: %v", dest, next, err)
	}); err != nil {
		return nil, unwrapPermanent(err)
	}
	return body, nil
}

func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
