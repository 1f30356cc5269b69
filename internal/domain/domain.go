package domain

// Request statuses. CANCELED never rests in the store: the republish swap
// moves an in-progress request straight back to PENDING, and the canceled
// marker survives only in the event log and cancellation history.
const (
	StatusPending    = "PENDING"
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusCanceled   = "CANCELED"
)

// Identity is the acting specialist as reported by the calling surface.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type Request struct {
	ID             string  `json:"id"`
	PublicRef      string  `json:"public_ref"`
	Category       string  `json:"category"`
	Name           string  `json:"name"`
	Phone          string  `json:"phone"`
	City           string  `json:"city"`
	Description    string  `json:"description"`
	Status         string  `json:"status" enum:"PENDING,IN_PROGRESS,DONE,CANCELED"`
	ClaimantID     *string `json:"claimant_id,omitempty"`
	ClaimantName   *string `json:"claimant_name,omitempty"`
	ResolutionNote *string `json:"resolution_note,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
	ArchivedAt     *string `json:"archived_at,omitempty" format:"date-time"`
}

// Claimant returns the current claimant identity, if any.
func (r Request) Claimant() (Identity, bool) {
	if r.ClaimantID == nil {
		return Identity{}, false
	}
	id := Identity{ID: *r.ClaimantID}
	if r.ClaimantName != nil {
		id.DisplayName = *r.ClaimantName
	}
	return id, true
}

// Live reports whether the request's public_ref still addresses a
// claimable or in-flight broadcast message.
func (r Request) Live() bool {
	return r.Status == StatusPending || r.Status == StatusInProgress
}

type Specialist struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Active      bool     `json:"active"`
	Categories  []string `json:"categories,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

// Cancellation is one entry of a request's append-only cancel history.
type Cancellation struct {
	ID           int64  `json:"id"`
	RequestID    string `json:"request_id"`
	ClaimantID   string `json:"claimant_id"`
	ClaimantName string `json:"claimant_name"`
	Note         string `json:"note"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
