package notify

import (
	"context"
	"fmt"
	"sync"

	"reqline/internal/domain"
)

// Post is one message held by the in-memory adapter.
type Post struct {
	Ref       string
	Category  string
	Text      string
	Claimable bool
	Card      Card
}

// Memory is an in-process Adapter used by tests and by local runs without
// configured webhook destinations. It records every outbound message and
// can simulate a specialist who never opened the private channel.
type Memory struct {
	mu       sync.Mutex
	seq      int
	posts    map[string]Post // by surface ref
	private  map[string][]Card
	operator []Card
	blocked  map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		posts:   make(map[string]Post),
		private: make(map[string][]Card),
		blocked: make(map[string]bool),
	}
}

// Block makes future private deliveries to the specialist fail with
// ErrDeliveryBlocked.
func (m *Memory) Block(specialistID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked[specialistID] = true
}

// Unblock re-opens the specialist's private channel.
func (m *Memory) Unblock(specialistID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocked, specialistID)
}

func (m *Memory) Publish(_ context.Context, category string, card Card) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	ref := fmt.Sprintf("msg-%d", m.seq)
	m.posts[ref] = Post{Ref: ref, Category: category, Text: BroadcastText(card), Claimable: true, Card: card}
	return ref, nil
}

func (m *Memory) Edit(_ context.Context, category, surfaceRef string, card Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	post, ok := m.posts[surfaceRef]
	if !ok {
		return fmt.Errorf("no broadcast message %s", surfaceRef)
	}
	post.Text = BroadcastText(card)
	post.Claimable = card.ClaimantName == "" && !card.Voided
	post.Card = card
	m.posts[surfaceRef] = post
	return nil
}

func (m *Memory) DeliverPrivate(_ context.Context, specialist domain.Identity, card Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blocked[specialist.ID] {
		return ErrDeliveryBlocked
	}
	m.private[specialist.ID] = append(m.private[specialist.ID], card)
	return nil
}

func (m *Memory) DeliverOperator(_ context.Context, card Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operator = append(m.operator, card)
	return nil
}

func (m *Memory) Retract(_ context.Context, _ domain.Identity, surfaceRef string) error {
	return nil
}

// PostFor returns the broadcast message behind a surface ref.
func (m *Memory) PostFor(ref string) (Post, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[ref]
	return p, ok
}

// PrivateFor returns the cards delivered to a specialist's private channel.
func (m *Memory) PrivateFor(specialistID string) []Card {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Card(nil), m.private[specialistID]...)
}

// OperatorCopies returns every operator copy sent so far.
func (m *Memory) OperatorCopies() []Card {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Card(nil), m.operator...)
}
