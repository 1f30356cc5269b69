package server

import (
	"encoding/json"

	"reqline/internal/domain"
)

// Request payloads

type SubmitRequest struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	City        string `json:"city"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type CancelRequest struct {
	Note string `json:"note"`
}

type RecategorizeRequest struct {
	Category string `json:"category"`
}

type VerifyHandoffRequest struct {
	Token string `json:"token"`
}

type UpsertSpecialistRequest struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Categories  []string `json:"categories,omitempty"`
}

type SetSpecialistActiveRequest struct {
	Active bool `json:"active"`
}

type SetSpecialistCategoriesRequest struct {
	Categories []string `json:"categories"`
}

// Response payloads

type RequestResponse struct {
	ID             string  `json:"id"`
	PublicRef      string  `json:"public_ref"`
	Category       string  `json:"category"`
	Name           string  `json:"name"`
	Phone          string  `json:"phone,omitempty"`
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

type ClaimResponse struct {
	Request         RequestResponse `json:"request"`
	HandoffToken    string          `json:"handoff_token,omitempty"`
	DeliveryBlocked bool            `json:"delivery_blocked,omitempty"`
}

type SpecialistResponse struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Active      bool     `json:"active"`
	Categories  []string `json:"categories,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

type CancellationResponse struct {
	RequestID    string `json:"request_id"`
	ClaimantID   string `json:"claimant_id"`
	ClaimantName string `json:"claimant_name"`
	Note         string `json:"note"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

func requestResponse(rq domain.Request) RequestResponse {
	return RequestResponse{
		ID:             rq.ID,
		PublicRef:      rq.PublicRef,
		Category:       rq.Category,
		Name:           rq.Name,
		Phone:          rq.Phone,
		City:           rq.City,
		Description:    rq.Description,
		Status:         rq.Status,
		ClaimantID:     rq.ClaimantID,
		ClaimantName:   rq.ClaimantName,
		ResolutionNote: rq.ResolutionNote,
		CreatedAt:      rq.CreatedAt,
		UpdatedAt:      rq.UpdatedAt,
		ArchivedAt:     rq.ArchivedAt,
	}
}

func mapRequests(items []domain.Request) []RequestResponse {
	out := make([]RequestResponse, 0, len(items))
	for _, rq := range items {
		out = append(out, requestResponse(rq))
	}
	return out
}

func specialistResponse(sp domain.Specialist) SpecialistResponse {
	return SpecialistResponse{
		ID:          sp.ID,
		DisplayName: sp.DisplayName,
		Active:      sp.Active,
		Categories:  sp.Categories,
		CreatedAt:   sp.CreatedAt,
		UpdatedAt:   sp.UpdatedAt,
	}
}

func mapSpecialists(items []domain.Specialist) []SpecialistResponse {
	out := make([]SpecialistResponse, 0, len(items))
	for _, sp := range items {
		out = append(out, specialistResponse(sp))
	}
	return out
}

func cancellationResponse(c domain.Cancellation) CancellationResponse {
	return CancellationResponse{
		RequestID:    c.RequestID,
		ClaimantID:   c.ClaimantID,
		ClaimantName: c.ClaimantName,
		Note:         c.Note,
		CreatedAt:    c.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	resp := EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
	}
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &resp.Payload)
	}
	return resp
}
