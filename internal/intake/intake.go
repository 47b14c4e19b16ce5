// Package intake turns free-text requests into task drafts.
package intake

import (
	"strings"

	"github.com/google/uuid"

	"shaman/internal/domain"
	"shaman/internal/validate"
)

const DefaultEstimatedTime = "5 mins"

// DraftOptions override the defaults applied to a free-text request.
type DraftOptions struct {
	Priority      domain.Priority         `json:"priority,omitempty" validate:"omitempty,priority"`
	Category      domain.Category         `json:"category,omitempty" validate:"omitempty,category"`
	Model         domain.Model            `json:"model,omitempty" validate:"omitempty,model"`
	EstimatedTime string                  `json:"estimatedTime,omitempty" validate:"max=40"`
	ScheduledFor  string                  `json:"scheduledFor,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Recurring     domain.RecurringPattern `json:"recurringPattern,omitempty" validate:"omitempty,recurring_pattern"`
	Attachments   []domain.Attachment     `json:"attachments,omitempty" validate:"omitempty,dive"`
}

// NewDraft builds a pending task from the user's description. The title is
// the description cut to 50 characters.
func NewDraft(description string, opts DraftOptions) (domain.TaskDraft, error) {
	description = strings.TrimSpace(description)
	if err := validate.Description(description); err != nil {
		return domain.TaskDraft{}, err
	}
	if err := validate.Struct(opts); err != nil {
		return domain.TaskDraft{}, err
	}
	d := domain.TaskDraft{
		Title:       validate.Title(description),
		Description: description,
		Status:      domain.StatusPending,
		Priority:    domain.PriorityMedium,
		Category:    domain.CategoryOther,
		Model:       domain.ModelLight,
	}
	if opts.Priority != "" {
		d.Priority = opts.Priority
	}
	if opts.Category != "" {
		d.Category = opts.Category
	}
	if opts.Model != "" {
		d.Model = opts.Model
	}
	est := DefaultEstimatedTime
	if opts.EstimatedTime != "" {
		est = opts.EstimatedTime
	}
	d.EstimatedTime = &est
	if opts.ScheduledFor != "" {
		sched := opts.ScheduledFor
		d.ScheduledFor = &sched
		d.Status = domain.StatusScheduled
	}
	if opts.Recurring != "" {
		pattern := opts.Recurring
		recurring := true
		d.RecurringPattern = &pattern
		d.IsRecurring = &recurring
	}
	if len(opts.Attachments) > 0 {
		d.Attachments = append([]domain.Attachment(nil), opts.Attachments...)
	}
	return d, nil
}

// NewFileAttachment stages an uploaded file. The stored file type is the MIME
// major type, so "image/png" becomes "image".
func NewFileAttachment(name, mime string) domain.Attachment {
	a := domain.Attachment{
		ID:   uuid.NewString(),
		Type: domain.AttachmentFile,
		Name: name,
	}
	if major, _, _ := strings.Cut(mime, "/"); major != "" {
		a.FileType = &major
	}
	return a
}

// NewVoiceAttachment stages a recorded voice note of the given length.
func NewVoiceAttachment(name string, seconds int) domain.Attachment {
	if name == "" {
		name = "Voice message"
	}
	return domain.Attachment{
		ID:       uuid.NewString(),
		Type:     domain.AttachmentVoice,
		Name:     name,
		Duration: &seconds,
	}
}
