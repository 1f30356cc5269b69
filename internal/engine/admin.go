package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"reqline/internal/domain"
	"reqline/internal/events"
	"reqline/internal/repo"
)

// Recategorize is the operator escape hatch for a miscategorized request.
// It moves the row only; the broadcast message stays in the old channel
// until the next transition republishes it.
func (e Engine) Recategorize(ctx context.Context, refOrID, category string) (domain.Request, error) {
	if e.Config == nil {
		return domain.Request{}, errors.New("config not loaded")
	}
	if !e.Config.CategoryKnown(category) {
		return domain.Request{}, UnknownCategoryError{Category: category}
	}
	rq, err := e.resolveRef(ctx, refOrID)
	if err != nil {
		return domain.Request{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.SetCategory(ctx, rq.ID, category, now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Request{}, NotFoundError{Ref: refOrID}
		}
		return domain.Request{}, err
	}
	return e.Repo.GetRequest(ctx, rq.ID)
}

// Delete is the operator escape hatch for spam or test submissions. The
// lifecycle never deletes; only this administrative path does, and it
// leaves an audit event behind.
func (e Engine) Delete(ctx context.Context, refOrID string, actor domain.Identity) error {
	rq, err := e.resolveRef(ctx, refOrID)
	if err != nil {
		return err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM requests WHERE id=?`, rq.ID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "request.deleted", "request", rq.ID, actor.ID, events.EventPayload{
		"public_ref": rq.PublicRef,
		"status":     rq.Status,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if rq.Live() {
		card := e.card(rq)
		card.Phone = ""
		card.Voided = true
		_ = e.Notify.Edit(ctx, rq.Category, rq.PublicRef, card)
	}
	return nil
}

// RegisterSpecialist upserts a roster entry and optionally replaces its
// category grants in the same call.
func (e Engine) RegisterSpecialist(ctx context.Context, id, displayName string, categories []string) (domain.Specialist, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Specialist{}, ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(displayName) == "" {
		return domain.Specialist{}, ValidationError{Field: "display_name", Reason: "must not be empty"}
	}
	if err := e.checkCategories(categories); err != nil {
		return domain.Specialist{}, err
	}
	if _, err := e.Repo.UpsertSpecialist(ctx, id, strings.TrimSpace(displayName)); err != nil {
		return domain.Specialist{}, err
	}
	if categories != nil {
		if err := e.Repo.SetSpecialistCategories(ctx, id, categories); err != nil {
			return domain.Specialist{}, err
		}
	}
	return e.Repo.GetSpecialist(ctx, id)
}

// GrantCategories replaces a specialist's category grants.
func (e Engine) GrantCategories(ctx context.Context, id string, categories []string) (domain.Specialist, error) {
	if err := e.checkCategories(categories); err != nil {
		return domain.Specialist{}, err
	}
	if _, err := e.Repo.GetSpecialist(ctx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Specialist{}, NotFoundError{Ref: id}
		}
		return domain.Specialist{}, err
	}
	if err := e.Repo.SetSpecialistCategories(ctx, id, categories); err != nil {
		return domain.Specialist{}, err
	}
	return e.Repo.GetSpecialist(ctx, id)
}

func (e Engine) checkCategories(categories []string) error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	for _, c := range categories {
		if !e.Config.CategoryKnown(c) {
			return UnknownCategoryError{Category: c}
		}
	}
	return nil
}
