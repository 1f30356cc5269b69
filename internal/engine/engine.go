package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"reqline/internal/config"
	"reqline/internal/domain"
	"reqline/internal/engine/permit"
	"reqline/internal/events"
	"reqline/internal/notify"
	"reqline/internal/repo"
	"reqline/internal/token"
)

// Engine owns the request lifecycle. The store is the single source of
// truth: every transition is one conditional write, and outbound
// notifications never gate a committed transition.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Permits permit.Service
	Events  events.Writer
	Tokens  token.Service
	Notify  notify.Adapter
	Config  *config.Config
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config, adapter notify.Adapter) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Permits: permit.Service{DB: db},
		Events:  events.Writer{DB: db},
		Tokens:  token.Service{Secret: cfg.Tokens.Secret},
		Notify:  adapter,
		Config:  cfg,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// SubmitOptions is a completed, validated intake payload.
type SubmitOptions struct {
	Name        string
	Phone       string
	City        string
	Description string
	Category    string
}

func (e Engine) validateSubmit(opts SubmitOptions) error {
	if strings.TrimSpace(opts.Name) == "" {
		return ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if strings.TrimSpace(opts.City) == "" {
		return ValidationError{Field: "city", Reason: "must not be empty"}
	}
	if strings.TrimSpace(opts.Description) == "" {
		return ValidationError{Field: "description", Reason: "must not be empty"}
	}
	minDigits := 0
	if e.Config != nil {
		minDigits = e.Config.Intake.MinPhoneDigits
	}
	digits := 0
	for _, r := range opts.Phone {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	if digits == 0 {
		return ValidationError{Field: "phone", Reason: "must not be empty"}
	}
	if digits < minDigits {
		return ValidationError{Field: "phone", Reason: fmt.Sprintf("needs at least %d digits", minDigits)}
	}
	if strings.TrimSpace(opts.Category) == "" {
		return ValidationError{Field: "category", Reason: "must not be empty"}
	}
	return nil
}

func (e Engine) card(rq domain.Request) notify.Card {
	title := rq.Category
	if e.Config != nil {
		title = e.Config.CategoryTitle(rq.Category)
	}
	card := notify.Card{
		RequestID:     rq.ID,
		PublicRef:     rq.PublicRef,
		Category:      rq.Category,
		CategoryTitle: title,
		Name:          rq.Name,
		Phone:         rq.Phone,
		City:          rq.City,
		Description:   rq.Description,
		CreatedAt:     rq.CreatedAt,
	}
	if rq.ClaimantName != nil {
		card.ClaimantName = *rq.ClaimantName
	}
	return card
}

// Submit validates the payload, publishes it to the category's broadcast
// destination and persists the new request under the returned reference.
func (e Engine) Submit(ctx context.Context, opts SubmitOptions) (domain.Request, error) {
	if e.Config == nil {
		return domain.Request{}, errors.New("config not loaded")
	}
	if err := e.validateSubmit(opts); err != nil {
		return domain.Request{}, err
	}
	if !e.Config.CategoryKnown(opts.Category) {
		return domain.Request{}, UnknownCategoryError{Category: opts.Category}
	}

	now := e.now().UTC().Format(time.RFC3339)
	rq := domain.Request{
		ID:          uuid.NewString(),
		Category:    opts.Category,
		Name:        strings.TrimSpace(opts.Name),
		Phone:       strings.TrimSpace(opts.Phone),
		City:        strings.TrimSpace(opts.City),
		Description: strings.TrimSpace(opts.Description),
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	broadcastCard := e.card(rq)
	broadcastCard.Phone = "" // broadcast posts never carry the phone
	ref, err := e.Notify.Publish(ctx, rq.Category, broadcastCard)
	if err != nil {
		return domain.Request{}, fmt.Errorf("publish request: %w", err)
	}
	rq.PublicRef = ref

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRequestTx(ctx, tx, rq); err != nil {
		e.voidBroadcast(ctx, rq)
		return domain.Request{}, fmt.Errorf("insert request: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "request.submitted", "request", rq.ID, "client", events.EventPayload{
		"public_ref": rq.PublicRef,
		"category":   rq.Category,
	}); err != nil {
		e.voidBroadcast(ctx, rq)
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		e.voidBroadcast(ctx, rq)
		return domain.Request{}, err
	}

	if err := e.Notify.DeliverOperator(ctx, e.card(rq)); err != nil {
		log.Printf("engine: operator copy for request %s failed: %v", rq.ID, err)
	}
	return rq, nil
}

// voidBroadcast marks an already-published broadcast message dead after a
// failed persist. Best effort: the store never committed, so there is no
// state to repair, only a stray post to blank out.
func (e Engine) voidBroadcast(ctx context.Context, rq domain.Request) {
	card := e.card(rq)
	card.Phone = ""
	card.Voided = true
	if err := e.Notify.Edit(ctx, rq.Category, rq.PublicRef, card); err != nil {
		log.Printf("engine: voiding broadcast %s failed: %v", rq.PublicRef, err)
	}
}

// Claim moves a pending request to IN_PROGRESS under the specialist's
// exclusive ownership and returns the refreshed snapshot plus a handoff
// token. A repeat claim by the same specialist is idempotent and re-runs
// the handoff delivery.
func (e Engine) Claim(ctx context.Context, publicRef string, specialist domain.Identity) (domain.Request, string, error) {
	if e.Config == nil {
		return domain.Request{}, "", errors.New("config not loaded")
	}
	if specialist.ID == "" {
		return domain.Request{}, "", ValidationError{Field: "specialist", Reason: "identity required"}
	}

	rq, err := e.Repo.GetByPublicRef(ctx, publicRef)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Request{}, "", NotFoundError{Ref: publicRef}
		}
		return domain.Request{}, "", err
	}

	if rq.Status == domain.StatusInProgress {
		holder, _ := rq.Claimant()
		if holder.ID != specialist.ID {
			return domain.Request{}, "", AlreadyClaimedError{ClaimantName: holder.DisplayName}
		}
		// Double-click tolerance: same claimant, re-deliver the handoff.
		return e.handoff(ctx, rq, specialist)
	}

	if e.Config.Claims.RequirePermission {
		ok, err := e.Permits.CanServe(ctx, specialist.ID, rq.Category)
		if err != nil {
			return domain.Request{}, "", err
		}
		if !ok {
			return domain.Request{}, "", PermissionDeniedError{SpecialistID: specialist.ID, Category: rq.Category}
		}
	}

	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, "", err
	}
	defer tx.Rollback()
	won, err := e.Repo.ClaimRequestTx(ctx, tx, publicRef, specialist, now)
	if err != nil {
		return domain.Request{}, "", err
	}
	if !won {
		// Lost the race between the live lookup and the conditional
		// write: report whoever holds the claim now.
		cur, curErr := e.Repo.GetByPublicRef(ctx, publicRef)
		if curErr != nil {
			return domain.Request{}, "", NotFoundError{Ref: publicRef}
		}
		if holder, ok := cur.Claimant(); ok {
			if holder.ID == specialist.ID {
				return e.handoff(ctx, cur, specialist)
			}
			return domain.Request{}, "", AlreadyClaimedError{ClaimantName: holder.DisplayName}
		}
		return domain.Request{}, "", NotFoundError{Ref: publicRef}
	}
	if err := e.Events.Append(ctx, tx, "request.claimed", "request", rq.ID, specialist.ID, events.EventPayload{
		"public_ref": publicRef,
		"claimant":   specialist.DisplayName,
	}); err != nil {
		return domain.Request{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, "", err
	}

	rq.Status = domain.StatusInProgress
	rq.ClaimantID = &specialist.ID
	rq.ClaimantName = &specialist.DisplayName
	rq.UpdatedAt = now

	// Annotate the broadcast message: strip the claim affordance and name
	// the claimant. The claim is already committed; an edit failure is
	// logged and the message catches up on the next transition.
	claimedCard := e.card(rq)
	claimedCard.Phone = ""
	if err := e.Notify.Edit(ctx, rq.Category, rq.PublicRef, claimedCard); err != nil {
		log.Printf("engine: annotating broadcast %s failed: %v", rq.PublicRef, err)
	}

	return e.handoff(ctx, rq, specialist)
}

// handoff mints the token and delivers the full card privately. The claim
// is committed regardless of the delivery outcome.
func (e Engine) handoff(ctx context.Context, rq domain.Request, specialist domain.Identity) (domain.Request, string, error) {
	tok, err := e.Tokens.Mint(rq.ID)
	if err != nil {
		return rq, "", fmt.Errorf("mint handoff token: %w", err)
	}
	if err := e.Notify.DeliverPrivate(ctx, specialist, e.card(rq)); err != nil {
		if errors.Is(err, notify.ErrDeliveryBlocked) {
			return rq, tok, DeliveryBlockedError{Token: tok, Err: err}
		}
		return rq, tok, fmt.Errorf("private delivery: %w", err)
	}
	return rq, tok, nil
}

// resolveRef loads a request by public reference (live rows only) or,
// failing that, by internal id.
func (e Engine) resolveRef(ctx context.Context, refOrID string) (domain.Request, error) {
	rq, err := e.Repo.GetByPublicRef(ctx, refOrID)
	if err == nil {
		return rq, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Request{}, err
	}
	rq, err = e.Repo.GetRequest(ctx, refOrID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Request{}, NotFoundError{Ref: refOrID}
		}
		return domain.Request{}, err
	}
	return rq, nil
}

func requireClaimant(rq domain.Request, specialist domain.Identity) error {
	holder, ok := rq.Claimant()
	if rq.Status != domain.StatusInProgress || !ok {
		return NotClaimantError{}
	}
	if holder.ID != specialist.ID {
		return NotClaimantError{ClaimantName: holder.DisplayName}
	}
	return nil
}

// ResolveDone archives an in-progress request. Terminal: the public
// reference stops resolving and no further transition exists.
func (e Engine) ResolveDone(ctx context.Context, refOrID string, specialist domain.Identity) (domain.Request, error) {
	rq, err := e.resolveRef(ctx, refOrID)
	if err != nil {
		return domain.Request{}, err
	}
	if err := requireClaimant(rq, specialist); err != nil {
		return domain.Request{}, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.ResolveDoneTx(ctx, tx, rq.ID, specialist.ID, now)
	if err != nil {
		return domain.Request{}, err
	}
	if !ok {
		// The claim moved between the read and the conditional write.
		cur, curErr := e.Repo.GetRequest(ctx, rq.ID)
		if curErr != nil {
			return domain.Request{}, NotFoundError{Ref: refOrID}
		}
		holder, _ := cur.Claimant()
		return domain.Request{}, NotClaimantError{ClaimantName: holder.DisplayName}
	}
	if err := e.Events.Append(ctx, tx, "request.done", "request", rq.ID, specialist.ID, events.EventPayload{
		"public_ref": rq.PublicRef,
	}); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}

	rq.Status = domain.StatusDone
	rq.ArchivedAt = &now
	rq.UpdatedAt = now
	return rq, nil
}

// ResolveCancel records the claimant's note, republishes the request as a
// brand-new broadcast message and atomically swaps the public reference
// back to an unclaimed PENDING. The CANCELED status exists only as the
// audit marker written at the moment of reopening.
func (e Engine) ResolveCancel(ctx context.Context, refOrID string, specialist domain.Identity, note string) (domain.Request, error) {
	rq, err := e.resolveRef(ctx, refOrID)
	if err != nil {
		return domain.Request{}, err
	}
	if err := requireClaimant(rq, specialist); err != nil {
		return domain.Request{}, err
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return domain.Request{}, ValidationError{Field: "note", Reason: "cancellation reason required"}
	}

	now := e.now().UTC().Format(time.RFC3339)
	oldRef := rq.PublicRef

	reopenCard := e.card(rq)
	reopenCard.Phone = ""
	reopenCard.ClaimantName = ""
	reopenCard.Reopened = true
	reopenCard.Note = note
	newRef, err := e.Notify.Publish(ctx, rq.Category, reopenCard)
	if err != nil {
		return domain.Request{}, fmt.Errorf("republish request: %w", err)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Request{}, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.RepublishTx(ctx, tx, rq.ID, specialist.ID, newRef, note, now)
	if err != nil {
		return domain.Request{}, err
	}
	if !ok {
		cur, curErr := e.Repo.GetRequest(ctx, rq.ID)
		if curErr != nil {
			return domain.Request{}, NotFoundError{Ref: refOrID}
		}
		holder, _ := cur.Claimant()
		return domain.Request{}, NotClaimantError{ClaimantName: holder.DisplayName}
	}
	if err := e.Repo.InsertCancellationTx(ctx, tx, domain.Cancellation{
		RequestID:    rq.ID,
		ClaimantID:   specialist.ID,
		ClaimantName: specialist.DisplayName,
		Note:         note,
		CreatedAt:    now,
	}); err != nil {
		return domain.Request{}, err
	}
	if err := e.Events.Append(ctx, tx, "request.canceled", "request", rq.ID, specialist.ID, events.EventPayload{
		"status":  domain.StatusCanceled,
		"note":    note,
		"old_ref": oldRef,
	}); err != nil {
		return domain.Request{}, err
	}
	if err := e.Events.Append(ctx, tx, "request.republished", "request", rq.ID, specialist.ID, events.EventPayload{
		"old_ref": oldRef,
		"new_ref": newRef,
	}); err != nil {
		return domain.Request{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Request{}, err
	}

	// Clean up the stale private-surface affordance. Best effort.
	if err := e.Notify.Retract(ctx, specialist, oldRef); err != nil {
		log.Printf("engine: retracting private affordance for %s failed: %v", oldRef, err)
	}

	rq.PublicRef = newRef
	rq.Status = domain.StatusPending
	rq.ClaimantID = nil
	rq.ClaimantName = nil
	rq.ResolutionNote = &note
	rq.UpdatedAt = now
	return rq, nil
}

// RedeliverHandoff re-runs the private delivery for an already-claimed
// request, for specialists whose first delivery was blocked.
func (e Engine) RedeliverHandoff(ctx context.Context, refOrID string, specialist domain.Identity) (string, error) {
	rq, err := e.resolveRef(ctx, refOrID)
	if err != nil {
		return "", err
	}
	if err := requireClaimant(rq, specialist); err != nil {
		return "", err
	}
	_, tok, err := e.handoff(ctx, rq, specialist)
	return tok, err
}

// LookupToken verifies a handoff token and resolves its request. A token
// whose target was reopened or finished no longer resolves to a live
// claim for its holder and is reported as NotFoundError, never trusted.
func (e Engine) LookupToken(ctx context.Context, tok string) (domain.Request, error) {
	id, err := e.Tokens.Verify(tok)
	if err != nil {
		return domain.Request{}, NotFoundError{Ref: "handoff token"}
	}
	rq, err := e.Repo.GetRequest(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Request{}, NotFoundError{Ref: id}
		}
		return domain.Request{}, err
	}
	return rq, nil
}
