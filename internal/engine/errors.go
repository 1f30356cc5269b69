package engine

import "fmt"

// ValidationError indicates a bad or missing submit field. The client must
// correct the input; retrying unchanged cannot succeed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UnknownCategoryError indicates a category with no configured broadcast
// destination. This is an operator-facing configuration gap.
type UnknownCategoryError struct {
	Category string
}

func (e UnknownCategoryError) Error() string {
	return fmt.Sprintf("category %s has no configured broadcast destination", e.Category)
}

// NotFoundError indicates a stale or never-existing public reference,
// including references retired by a reopen. Callers should refresh.
type NotFoundError struct {
	Ref string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("no live request for reference %s", e.Ref)
}

// PermissionDeniedError indicates the specialist is not granted the
// request's category.
type PermissionDeniedError struct {
	SpecialistID string
	Category     string
}

func (e PermissionDeniedError) Error() string {
	return fmt.Sprintf("specialist %s is not permitted to claim %s requests", e.SpecialistID, e.Category)
}

// AlreadyClaimedError indicates a lost claim race. ClaimantName is the
// display name of the specialist who holds the claim, so the caller can
// tell the user who beat them to it.
type AlreadyClaimedError struct {
	ClaimantName string
}

func (e AlreadyClaimedError) Error() string {
	return fmt.Sprintf("request already taken by %s", e.ClaimantName)
}

// NotClaimantError indicates a resolve attempt by someone other than the
// current claimant (or on a request that is not in progress).
type NotClaimantError struct {
	ClaimantName string
}

func (e NotClaimantError) Error() string {
	if e.ClaimantName == "" {
		return "request is not in progress under your claim"
	}
	return fmt.Sprintf("request is claimed by %s, not you", e.ClaimantName)
}

// DeliveryBlockedError reports a claim whose store mutation committed but
// whose private delivery was refused. The claim stands; only the delivery
// needs re-triggering. Token carries the minted handoff so the caller can
// still hand it to the specialist.
type DeliveryBlockedError struct {
	Token string
	Err   error
}

func (e DeliveryBlockedError) Error() string {
	return "claim recorded, but private delivery is blocked: open the bot and press start"
}

func (e DeliveryBlockedError) Unwrap() error { return e.Err }
