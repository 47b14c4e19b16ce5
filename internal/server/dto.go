package server

import (
	"encoding/json"

	"shaman/internal/domain"
	"shaman/internal/intake"
)

// Request payloads

type CredentialsRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe,omitempty"`
}

type FederatedRequest struct {
	Code       string `json:"code,omitempty"`
	RememberMe bool   `json:"rememberMe,omitempty"`
}

type ResetRequest struct {
	Email string `json:"email"`
}

type ConfirmResetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type ConsentRequest struct {
	EmailConsent bool `json:"emailConsent"`
}

// CreateTaskRequest accepts either a structured draft or a free-text request
// in text, in which case the other fields override the intake defaults.
type CreateTaskRequest struct {
	Text             string                   `json:"text,omitempty" maxLength:"4000"`
	Title            string                   `json:"title,omitempty"`
	Description      string                   `json:"description,omitempty"`
	Status           domain.Status            `json:"status,omitempty" enum:"pending,in-progress,scheduled,completed,need-input"`
	Priority         domain.Priority          `json:"priority,omitempty" enum:"low,medium,high"`
	Category         domain.Category          `json:"category,omitempty" enum:"document,web-task,form,other"`
	Model            domain.Model             `json:"model,omitempty" enum:"shaman-light,shaman-pro"`
	Attachments      []domain.Attachment      `json:"attachments,omitempty"`
	ScheduledFor     *string                  `json:"scheduledFor,omitempty" format:"date-time"`
	IsRecurring      *bool                    `json:"isRecurring,omitempty"`
	RecurringPattern *domain.RecurringPattern `json:"recurringPattern,omitempty" enum:"daily,weekly,monthly"`
	EstimatedTime    *string                  `json:"estimatedTime,omitempty"`
	Steps            []domain.Step            `json:"steps,omitempty"`
	Progress         *int                     `json:"progress,omitempty" minimum:"0" maximum:"100"`
	AgentID          *string                  `json:"agentId,omitempty"`
	AgentLabel       *string                  `json:"agentLabel,omitempty"`
	AgentDescription *string                  `json:"agentDescription,omitempty"`
	IsError          *bool                    `json:"is_error,omitempty"`
	ErrorMessage     *string                  `json:"errorMessage,omitempty"`
	CompletedAt      *string                  `json:"completedAt,omitempty" format:"date-time"`
	CompletionProof  *domain.CompletionProof  `json:"completionProof,omitempty"`
	NeededData       *string                  `json:"neededData,omitempty"`
	StartTime        *int64                   `json:"startTime,omitempty"`
}

func (r CreateTaskRequest) draft() (domain.TaskDraft, error) {
	d, err := r.baseDraft()
	if err != nil {
		return d, err
	}
	d.Progress = r.Progress
	d.AgentID = r.AgentID
	d.AgentLabel = r.AgentLabel
	d.AgentDescription = r.AgentDescription
	d.IsError = r.IsError
	d.ErrorMessage = r.ErrorMessage
	d.CompletedAt = r.CompletedAt
	d.CompletionProof = r.CompletionProof
	d.NeededData = r.NeededData
	d.StartTime = r.StartTime
	return d, nil
}

func (r CreateTaskRequest) baseDraft() (domain.TaskDraft, error) {
	if r.Text != "" {
		opts := intake.DraftOptions{
			Priority:    r.Priority,
			Category:    r.Category,
			Model:       r.Model,
			Attachments: r.Attachments,
		}
		if r.EstimatedTime != nil {
			opts.EstimatedTime = *r.EstimatedTime
		}
		if r.ScheduledFor != nil {
			opts.ScheduledFor = *r.ScheduledFor
		}
		if r.RecurringPattern != nil {
			opts.Recurring = *r.RecurringPattern
		}
		return intake.NewDraft(r.Text, opts)
	}
	return domain.TaskDraft{
		Title:            r.Title,
		Description:      r.Description,
		Status:           r.Status,
		Priority:         r.Priority,
		Category:         r.Category,
		Model:            r.Model,
		Attachments:      r.Attachments,
		ScheduledFor:     r.ScheduledFor,
		IsRecurring:      r.IsRecurring,
		RecurringPattern: r.RecurringPattern,
		EstimatedTime:    r.EstimatedTime,
		Steps:            r.Steps,
	}, nil
}

type ProvideInputRequest struct {
	Data string `json:"data" minLength:"1"`
}

type CreateNotificationRequest struct {
	Type         domain.NotificationType `json:"type,omitempty" enum:"info,success,warning,error"`
	Title        string                  `json:"title"`
	Message      string                  `json:"message,omitempty"`
	Actionable   bool                    `json:"actionable,omitempty"`
	DocumentName *string                 `json:"documentName,omitempty"`
	TaskID       *string                 `json:"taskId,omitempty"`
}

type AddressRequest struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zipCode,omitempty"`
	Country string `json:"country,omitempty"`
}

type ProfileRequest struct {
	FullName    string         `json:"fullName"`
	PhoneNumber string         `json:"phoneNumber,omitempty"`
	Address     AddressRequest `json:"address,omitempty"`
	Signature   *string        `json:"signature,omitempty" doc:"PNG data URL; an empty string removes the signature"`
}

func (r ProfileRequest) profile() domain.ProfileData {
	return domain.ProfileData{
		FullName:    r.FullName,
		PhoneNumber: r.PhoneNumber,
		Address: domain.Address{
			Street:  r.Address.Street,
			City:    r.Address.City,
			State:   r.Address.State,
			ZipCode: r.Address.ZipCode,
			Country: r.Address.Country,
		},
		Signature: r.Signature,
	}
}

// Response payloads

type FederatedURLResponse struct {
	URL string `json:"url"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type TaskListResponse struct {
	Items  []domain.Task         `json:"items"`
	Counts map[domain.Status]int `json:"counts"`
	Total  int                   `json:"total"`
}

type NotificationListResponse struct {
	Items  []domain.Notification `json:"items"`
	Unread int                   `json:"unread"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
