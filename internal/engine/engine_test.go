package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"reqline/internal/config"
	"reqline/internal/db"
	"reqline/internal/domain"
	"reqline/internal/migrate"
	"reqline/internal/notify"
)

func newTestEngine(t *testing.T) (Engine, *notify.Memory) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("test")
	cfg.Tokens.Secret = "test-secret"
	mem := notify.NewMemory()
	e := New(conn, cfg, mem)
	e.Now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return e, mem
}

func grantCategory(t *testing.T, e Engine, sp domain.Identity, categories ...string) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.Repo.UpsertSpecialist(ctx, sp.ID, sp.DisplayName); err != nil {
		t.Fatalf("upsert specialist: %v", err)
	}
	if err := e.Repo.SetSpecialistCategories(ctx, sp.ID, categories); err != nil {
		t.Fatalf("set categories: %v", err)
	}
}

func submitOpts() SubmitOptions {
	return SubmitOptions{
		Name:        "Aigerim",
		Phone:       "+7 701 555 0101",
		City:        "Astana",
		Description: "Need help filing quarterly reports",
		Category:    "ACCOUNTING",
	}
}

func TestSubmitValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		mod   func(*SubmitOptions)
		field string
	}{
		{"empty name", func(o *SubmitOptions) { o.Name = "  " }, "name"},
		{"empty city", func(o *SubmitOptions) { o.City = "" }, "city"},
		{"empty description", func(o *SubmitOptions) { o.Description = "" }, "description"},
		{"empty phone", func(o *SubmitOptions) { o.Phone = "call me" }, "phone"},
		{"short phone", func(o *SubmitOptions) { o.Phone = "123" }, "phone"},
		{"empty category", func(o *SubmitOptions) { o.Category = "" }, "category"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := submitOpts()
			tc.mod(&opts)
			_, err := e.Submit(ctx, opts)
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("want ValidationError, got %v", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("want field %q, got %q", tc.field, verr.Field)
			}
		})
	}
}

func TestSubmitUnknownCategory(t *testing.T) {
	e, _ := newTestEngine(t)
	opts := submitOpts()
	opts.Category = "PLUMBING"
	_, err := e.Submit(context.Background(), opts)
	var uerr UnknownCategoryError
	if !errors.As(err, &uerr) {
		t.Fatalf("want UnknownCategoryError, got %v", err)
	}
	if uerr.Category != "PLUMBING" {
		t.Fatalf("want category PLUMBING, got %q", uerr.Category)
	}
}

func TestSubmitPublishesThenPersists(t *testing.T) {
	e, mem := newTestEngine(t)
	ctx := context.Background()

	rq, err := e.Submit(ctx, submitOpts())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rq.Status != domain.StatusPending {
		t.Fatalf("want PENDING, got %s", rq.Status)
	}
	if rq.PublicRef == "" {
		t.Fatal("want public ref from the broadcast surface")
	}

	post, ok := mem.PostFor(rq.PublicRef)
	if !ok {
		t.Fatalf("no broadcast post for %s", rq.PublicRef)
	}
	if !post.Claimable {
		t.Fatal("fresh broadcast post must be claimable")
	}
	if strings.Contains(post.Text, rq.Phone) {
		t.Fatal("broadcast text must not contain the phone number")
	}

	ops := mem.OperatorCopies()
	if len(ops) != 1 {
		t.Fatalf("want 1 operator copy, got %d", len(ops))
	}
	if ops[0].Phone == "" {
		t.Fatal("operator copy must carry the phone number")
	}

	got, err := e.Repo.GetByPublicRef(ctx, rq.PublicRef)
	if err != nil {
		t.Fatalf("lookup by ref: %v", err)
	}
	if got.ID != rq.ID {
		t.Fatalf("ref resolves to %s, want %s", got.ID, rq.ID)
	}

	evts, err := e.Repo.LatestEvents(ctx, 10, "request.submitted", "", rq.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 1 {
		t.Fatalf("want 1 submitted event, got %d", len(evts))
	}
}

func TestClaimLifecycle(t *testing.T) {
	e, mem := newTestEngine(t)
	ctx := context.Background()
	sp := domain.Identity{ID: "sp-1", DisplayName: "Dana"}
	grantCategory(t, e, sp, "ACCOUNTING")

	rq, err := e.Submit(ctx, submitOpts())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	claimed, tok, err := e.Claim(ctx, rq.PublicRef, sp)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != domain.StatusInProgress {
		t.Fatalf("want IN_PROGRESS, got %s", claimed.Status)
	}
	if holder, ok := claimed.Claimant(); !ok || holder.ID != sp.ID {
		t.Fatalf("want claimant %s, got %+v", sp.ID, claimed.ClaimantID)
	}

	id, err := e.Tokens.Verify(tok)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if id != rq.ID {
		t.Fatalf("token binds %s, want %s", id, rq.ID)
	}

	post, _ := mem.PostFor(rq.PublicRef)
	if post.Claimable {
		t.Fatal("claimed broadcast post must lose its claim affordance")
	}
	if !strings.Contains(post.Text, "Dana") {
		t.Fatalf("broadcast edit should name the claimant, got %q", post.Text)
	}

	cards := mem.PrivateFor(sp.ID)
	if len(cards) != 1 {
		t.Fatalf("want 1 private delivery, got %d", len(cards))
	}
	if cards[0].Phone == "" {
		t.Fatal("private delivery must carry the phone number")
	}
}

func TestClaimIdempotentForSameSpecialist(t *testing.T) {
	e, mem := newTestEngine(t)
	ctx := context.Background()
	sp := domain.Identity{ID: "sp-1", DisplayName: "Dana"}
	grantCategory(t, e, sp, "ACCOUNTING")

	rq, _ := e.Submit(ctx, submitOpts())
	if _, _, err := e.Claim(ctx, rq.PublicRef, sp); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	again, tok, err := e.Claim(ctx, rq.PublicRef, sp)
	if err != nil {
		t.Fatalf("repeat claim by the claimant must succeed: %v", err)
	}
	if tok == "" {
		t.Fatal("repeat claim must re-mint the handoff token")
	}
	if again.Status != domain.StatusInProgress {
		t.Fatalf("want IN_PROGRESS, got %s", again.Status)
	}
	if got := len(mem.PrivateFor(sp.ID)); got != 2 {
		t.Fatalf("want 2 private deliveries after re-claim, got %d", got)
	}
}

func TestClaimAlreadyClaimed(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	dana := domain.Identity{ID: "sp-1", DisplayName: "Dana"}
	erik := domain.Identity{ID: "sp-2", DisplayName: "Erik"}
	grantCategory(t, e, dana, "ACCOUNTING")
	grantCategory(t, e, erik, "ACCOUNTING")

	rq, _ := e.Submit(ctx, submitOpts())
	if _, _, err := e.Claim(ctx, rq.PublicRef, dana); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, _, err := e.Claim(ctx, rq.PublicRef, erik)
	var aerr AlreadyClaimedError
	if !errors.As(err, &aerr) {
		t.Fatalf("want AlreadyClaimedError, got %v", err)
	}
	if aerr.ClaimantName != "Dana" {
		t.Fatalf("want holder Dana, got %q", aerr.ClaimantName)
	}
}

func TestClaimPermissionDenied(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	sp := domain.Identity{ID: "sp-1", DisplayName: "Dana"}
	grantCategory(t, e, sp, "LAW") // not ACCOUNTING

	rq, _ := e.Submit(ctx, submitOpts())
	_, _, err := e.Claim(ctx, rq.PublicRef, sp)
	var perr PermissionDeniedError
	if !errors.As(err, &perr) {
		t.Fatalf("want PermissionDeniedError, got %v", err)
	}

	// With the check disabled, the same specialist may claim anything.
	e.Config.Claims.RequirePermission = false
	if _, _, err := e.Claim(ctx, rq.PublicRef, sp); err != nil {
		t.Fatalf("claim with check disabled: %v", err)
	}
}

func TestClaimUnknownRef(t *testing.T) {
	e, _ := newTestEngine(t)
	_, _, err := e.Claim(context.Background(), "msg-404", domain.Identity{ID: "sp-1", DisplayName: "Dana"})
	var nerr NotFoundError
	if !errors.As(err, &nerr) {
		t.Fatalf("want NotFoundError, got %v", err)
	}
}

func TestConcurrentClaimsSingleWinner(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	e.Config.Claims.RequirePermission = false

	rq, err := e.Submit(ctx, submitOpts())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sp := domain.Identity{ID: "sp-" + string(rune('a'+i)), DisplayName: "Specialist " + string(rune('A'+i))}
			_, _, errs[i] = e.Claim(ctx, rq.PublicRef, sp)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.As(err, &AlreadyClaimedError{}):
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("want exactly 1 winner, got %d", winners)
	}

	got, err := e.Repo.GetByPublicRef(ctx, rq.PublicRef)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != domain.StatusInProgress || got.ClaimantID == nil {
		t.Fatalf("want a single committed claim, got %+v", got)
	}
}

func TestClaimDeliveryBlocked(t *testing.T) {
	e, mem := newTestEngine(t)
	ctx := context.Background()
	sp := domain.Identity{ID: "sp-1", DisplayName: "Dana"}
	grantCategory(t, e, sp, "ACCOUNTING")
	mem.Block(sp.ID)

	rq, _ := e.Submit(ctx, submitOpts())
	_, _, err := e.Claim(ctx, rq.PublicRef, sp)
	var derr DeliveryBlockedError
	if !errors.As(err, &derr) {
		t.Fatalf("want DeliveryBlockedError, got %v", err)
	}
	if derr.Token == "" {
		t.Fatal("blocked delivery must still surface the minted token")
	}

	// The claim itself committed despite the blocked delivery.
	got, err := e.Repo.GetByPublicRef(ctx, rq.PublicRef)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != domain.StatusInProgress {
		t.Fatalf("want committed claim, got %s", got.Status)
	}

	// After the specialist opens the channel, redelivery succeeds.
	mem.Unblock(sp.ID)
	tok, err := e.RedeliverHandoff(ctx, rq.PublicRef, sp)
	if err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if tok == "" {
		t.Fatal("redeliver must mint a token")
	}
	if len(mem.PrivateFor(sp.ID)) != 1 {
		t.Fatal("want the private card delivered after unblock")
	}
}

func TestResolveDone(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	dana := domain.Identity{ID: "sp-1", DisplayName: "Dana"}
	erik := domain.Identity{ID: "sp-2", DisplayName: "Erik"}
	grantCategory(t, e, dana, "ACCOUNTING")

	rq, _ := e.Submit(ctx, submitOpts())
	if _, _, err := e.Claim(ctx, rq.PublicRef, dana); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// A non-claimant cannot resolve.
	_, err := e.ResolveDone(ctx, rq.PublicRef, erik)
	var nerr NotClaimantError
	if !errors.As(err, &nerr) {
		t.Fatalf("want NotClaimantError, got %v", err)
	}
	if nerr.ClaimantName != "Dana" {
		t.Fatalf("want holder Dana, got %q", nerr.ClaimantName)
	}

	done, err := e.ResolveDone(ctx, rq.PublicRef, dana)
	if err != nil {
		t.Fatalf("done: %v", err)
	}
	if done.Status != domain.StatusDone || done.ArchivedAt == nil {
		t.Fatalf("want archived DONE, got %+v", done)
	}

	// The reference is retired: a later claim attempt sees nothing.
	_, _, err = e.Claim(ctx, rq.PublicRef, dana)
	var nfe NotFoundError
	if !errors.As(err, &nfe) {
		t.Fatalf("want NotFoundError after done, got %v", err)
	}
}

func TestResolveCancelReopens(t *testing.T) {
	e, mem := newTestEngine(t)
	ctx := context.Background()
	dana := domain.Identity{ID: "sp-1", DisplayName: "Dana"}
	erik := domain.Identity{ID: "sp-2", DisplayName: "Erik"}
	grantCategory(t, e, dana, "ACCOUNTING")
	grantCategory(t, e, erik, "ACCOUNTING")

	rq, _ := e.Submit(ctx, submitOpts())
	oldRef := rq.PublicRef
	if _, _, err := e.Claim(ctx, oldRef, dana); err != nil {
		t.Fatalf("claim: %v", err)
	}

	reopened, err := e.ResolveCancel(ctx, oldRef, dana, "client unreachable")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if reopened.Status != domain.StatusPending {
		t.Fatalf("want PENDING after reopen, got %s", reopened.Status)
	}
	if reopened.PublicRef == oldRef {
		t.Fatal("reopen must issue a fresh public ref")
	}
	if reopened.ClaimantID != nil {
		t.Fatal("reopen must clear the claimant")
	}

	// Old ref is dead, new ref resolves.
	if _, err := e.Repo.GetByPublicRef(ctx, oldRef); err == nil {
		t.Fatal("retired ref must not resolve")
	}
	post, ok := mem.PostFor(reopened.PublicRef)
	if !ok {
		t.Fatal("reopen must publish a fresh broadcast post")
	}
	if !strings.Contains(post.Text, "client unreachable") {
		t.Fatalf("reopened post should carry the note, got %q", post.Text)
	}

	// Cancellation history is append-only and attributed.
	hist, err := e.Repo.ListCancellations(ctx, rq.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 || hist[0].ClaimantName != "Dana" || hist[0].Note != "client unreachable" {
		t.Fatalf("unexpected cancellation history: %+v", hist)
	}

	// Another specialist can claim the reopened request.
	if _, _, err := e.Claim(ctx, reopened.PublicRef, erik); err != nil {
		t.Fatalf("re-claim after reopen: %v", err)
	}
}

func TestResolveCancelRequiresNote(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	dana := domain.Identity{ID: "sp-1", DisplayName: "Dana"}
	grantCategory(t, e, dana, "ACCOUNTING")

	rq, _ := e.Submit(ctx, submitOpts())
	if _, _, err := e.Claim(ctx, rq.PublicRef, dana); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err := e.ResolveCancel(ctx, rq.PublicRef, dana, "   ")
	var verr ValidationError
	if !errors.As(err, &verr) || verr.Field != "note" {
		t.Fatalf("want note ValidationError, got %v", err)
	}
}

func TestResolveByInternalID(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	dana := domain.Identity{ID: "sp-1", DisplayName: "Dana"}
	grantCategory(t, e, dana, "ACCOUNTING")

	rq, _ := e.Submit(ctx, submitOpts())
	if _, _, err := e.Claim(ctx, rq.PublicRef, dana); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := e.ResolveDone(ctx, rq.ID, dana); err != nil {
		t.Fatalf("done by internal id: %v", err)
	}
}

func TestLookupToken(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	dana := domain.Identity{ID: "sp-1", DisplayName: "Dana"}
	grantCategory(t, e, dana, "ACCOUNTING")

	rq, _ := e.Submit(ctx, submitOpts())
	_, tok, err := e.Claim(ctx, rq.PublicRef, dana)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	got, err := e.LookupToken(ctx, tok)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != rq.ID {
		t.Fatalf("token resolves to %s, want %s", got.ID, rq.ID)
	}

	if _, err := e.LookupToken(ctx, tok+"x"); err == nil {
		t.Fatal("tampered token must not resolve")
	}
}

func TestFullLifecycleScenario(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	dana := domain.Identity{ID: "sp-1", DisplayName: "Dana"}
	erik := domain.Identity{ID: "sp-2", DisplayName: "Erik"}
	grantCategory(t, e, dana, "ACCOUNTING")
	grantCategory(t, e, erik, "ACCOUNTING")

	rq, err := e.Submit(ctx, submitOpts())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, _, err := e.Claim(ctx, rq.PublicRef, dana); err != nil {
		t.Fatalf("claim: %v", err)
	}
	reopened, err := e.ResolveCancel(ctx, rq.PublicRef, dana, "wrong specialty")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, _, err := e.Claim(ctx, reopened.PublicRef, erik); err != nil {
		t.Fatalf("re-claim: %v", err)
	}
	done, err := e.ResolveDone(ctx, reopened.PublicRef, erik)
	if err != nil {
		t.Fatalf("done: %v", err)
	}
	if done.Status != domain.StatusDone {
		t.Fatalf("want DONE, got %s", done.Status)
	}

	evts, err := e.Repo.LatestEvents(ctx, 20, "", "request", rq.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var types []string
	for i := len(evts) - 1; i >= 0; i-- {
		types = append(types, evts[i].Type)
	}
	want := []string{"request.submitted", "request.claimed", "request.canceled", "request.republished", "request.claimed", "request.done"}
	if len(types) != len(want) {
		t.Fatalf("want %d events, got %v", len(want), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d: want %s, got %s", i, want[i], types[i])
		}
	}
}
