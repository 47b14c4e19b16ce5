package domain

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank orders priorities for sorting; unknown values rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

func (p Priority) Valid() bool { return p.Rank() > 0 }

type Category string

const (
	CategoryDocument Category = "document"
	CategoryWebTask  Category = "web-task"
	CategoryForm     Category = "form"
	CategoryOther    Category = "other"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryDocument, CategoryWebTask, CategoryForm, CategoryOther:
		return true
	}
	return false
}

// Model selects the processing tier that handles a task.
type Model string

const (
	ModelLight Model = "shaman-light"
	ModelPro   Model = "shaman-pro"
)

func (m Model) Valid() bool { return m == ModelLight || m == ModelPro }

type RecurringPattern string

const (
	RecurDaily   RecurringPattern = "daily"
	RecurWeekly  RecurringPattern = "weekly"
	RecurMonthly RecurringPattern = "monthly"
)

func (r RecurringPattern) Valid() bool {
	return r == RecurDaily || r == RecurWeekly || r == RecurMonthly
}

type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in-progress"
	StepCompleted  StepStatus = "completed"
)

func (s StepStatus) Valid() bool {
	return s == StepPending || s == StepInProgress || s == StepCompleted
}

type Step struct {
	ID            string     `json:"id"`
	Title         string     `json:"title" validate:"required"`
	Description   string     `json:"description,omitempty"`
	Status        StepStatus `json:"status" enum:"pending,in-progress,completed" validate:"step_status"`
	Order         int        `json:"order"`
	EstimatedTime *string    `json:"estimatedTime,omitempty"`
	CompletedAt   *string    `json:"completedAt,omitempty" format:"date-time"`
}

type AttachmentType string

const (
	AttachmentFile  AttachmentType = "file"
	AttachmentVoice AttachmentType = "voice"
)

type Attachment struct {
	ID       string         `json:"id"`
	Type     AttachmentType `json:"type" enum:"file,voice" validate:"oneof=file voice"`
	Name     string         `json:"name" validate:"required"`
	FileType *string        `json:"fileType,omitempty"`
	Duration *int           `json:"duration,omitempty"`
	URL      *string        `json:"url,omitempty"`
}

type ProofType string

const (
	ProofDocument     ProofType = "document"
	ProofScreenshot   ProofType = "screenshot"
	ProofConfirmation ProofType = "confirmation"
	ProofReport       ProofType = "report"
)

type CompletionProof struct {
	Type      ProofType `json:"type" enum:"document,screenshot,confirmation,report" validate:"oneof=document screenshot confirmation report"`
	URL       *string   `json:"url,omitempty"`
	Reference *string   `json:"reference,omitempty"`
	Summary   string    `json:"summary"`
}

// Task is the persisted task record. Optional fields are omitted from JSON
// rather than written as null.
type Task struct {
	ID               string            `json:"id"`
	UserID           string            `json:"userId"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	Status           Status            `json:"status" enum:"pending,in-progress,scheduled,completed,need-input"`
	Priority         Priority          `json:"priority" enum:"low,medium,high"`
	Category         Category          `json:"category" enum:"document,web-task,form,other"`
	CreatedAt        string            `json:"createdAt" format:"date-time"`
	Model            Model             `json:"model" enum:"shaman-light,shaman-pro"`
	Attachments      []Attachment      `json:"attachments,omitempty"`
	ScheduledFor     *string           `json:"scheduledFor,omitempty" format:"date-time"`
	IsRecurring      *bool             `json:"isRecurring,omitempty"`
	RecurringPattern *RecurringPattern `json:"recurringPattern,omitempty"`
	EstimatedTime    *string           `json:"estimatedTime,omitempty"`
	Progress         *int              `json:"progress,omitempty" minimum:"0" maximum:"100"`
	Steps            []Step            `json:"steps,omitempty"`
	AgentID          *string           `json:"agentId,omitempty"`
	AgentLabel       *string           `json:"agentLabel,omitempty"`
	AgentDescription *string           `json:"agentDescription,omitempty"`
	IsError          *bool             `json:"is_error,omitempty"`
	ErrorMessage     *string           `json:"errorMessage,omitempty"`
	CompletedAt      *string           `json:"completedAt,omitempty" format:"date-time"`
	CompletionProof  *CompletionProof  `json:"completionProof,omitempty"`
	NeededData       *string           `json:"neededData,omitempty"`
	StartTime        *int64            `json:"startTime,omitempty"`
}

// HasError reports whether the worker flagged the task as failed.
func (t Task) HasError() bool { return t.IsError != nil && *t.IsError }

// TaskDraft is a task before the store assigns id, owner and creation time.
type TaskDraft struct {
	Title            string            `json:"title" validate:"required,max=200"`
	Description      string            `json:"description"`
	Status           Status            `json:"status,omitempty" enum:"pending,in-progress,scheduled,completed,need-input" validate:"omitempty,task_status"`
	Priority         Priority          `json:"priority,omitempty" enum:"low,medium,high" validate:"omitempty,priority"`
	Category         Category          `json:"category,omitempty" enum:"document,web-task,form,other" validate:"omitempty,category"`
	Model            Model             `json:"model,omitempty" enum:"shaman-light,shaman-pro" validate:"omitempty,model"`
	Attachments      []Attachment      `json:"attachments,omitempty" validate:"omitempty,dive"`
	ScheduledFor     *string           `json:"scheduledFor,omitempty" format:"date-time" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	IsRecurring      *bool             `json:"isRecurring,omitempty"`
	RecurringPattern *RecurringPattern `json:"recurringPattern,omitempty" validate:"omitempty,recurring_pattern"`
	EstimatedTime    *string           `json:"estimatedTime,omitempty"`
	Progress         *int              `json:"progress,omitempty" minimum:"0" maximum:"100" validate:"omitempty,min=0,max=100"`
	Steps            []Step            `json:"steps,omitempty" validate:"omitempty,dive"`
	AgentID          *string           `json:"agentId,omitempty"`
	AgentLabel       *string           `json:"agentLabel,omitempty"`
	AgentDescription *string           `json:"agentDescription,omitempty"`
	IsError          *bool             `json:"is_error,omitempty"`
	ErrorMessage     *string           `json:"errorMessage,omitempty"`
	CompletedAt      *string           `json:"completedAt,omitempty" format:"date-time" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	CompletionProof  *CompletionProof  `json:"completionProof,omitempty" validate:"omitempty"`
	NeededData       *string           `json:"neededData,omitempty"`
	StartTime        *int64            `json:"startTime,omitempty"`
}

// Task builds the persisted record for a draft.
func (d TaskDraft) Task(id, userID, createdAt string) Task {
	return Task{
		ID:               id,
		UserID:           userID,
		Title:            d.Title,
		Description:      d.Description,
		Status:           d.Status,
		Priority:         d.Priority,
		Category:         d.Category,
		CreatedAt:        createdAt,
		Model:            d.Model,
		Attachments:      d.Attachments,
		ScheduledFor:     d.ScheduledFor,
		IsRecurring:      d.IsRecurring,
		RecurringPattern: d.RecurringPattern,
		EstimatedTime:    d.EstimatedTime,
		Progress:         d.Progress,
		Steps:            d.Steps,
		AgentID:          d.AgentID,
		AgentLabel:       d.AgentLabel,
		AgentDescription: d.AgentDescription,
		IsError:          d.IsError,
		ErrorMessage:     d.ErrorMessage,
		CompletedAt:      d.CompletedAt,
		CompletionProof:  d.CompletionProof,
		NeededData:       d.NeededData,
		StartTime:        d.StartTime,
	}
}

// TaskPatch is a partial update. Nil fields are left unchanged.
type TaskPatch struct {
	Title            *string           `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description      *string           `json:"description,omitempty"`
	Status           *Status           `json:"status,omitempty" enum:"pending,in-progress,scheduled,completed,need-input" validate:"omitempty,task_status"`
	Priority         *Priority         `json:"priority,omitempty" enum:"low,medium,high" validate:"omitempty,priority"`
	Category         *Category         `json:"category,omitempty" enum:"document,web-task,form,other" validate:"omitempty,category"`
	Model            *Model            `json:"model,omitempty" enum:"shaman-light,shaman-pro" validate:"omitempty,model"`
	Attachments      []Attachment      `json:"attachments,omitempty" validate:"omitempty,dive"`
	ScheduledFor     *string           `json:"scheduledFor,omitempty" format:"date-time" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	IsRecurring      *bool             `json:"isRecurring,omitempty"`
	RecurringPattern *RecurringPattern `json:"recurringPattern,omitempty" validate:"omitempty,recurring_pattern"`
	EstimatedTime    *string           `json:"estimatedTime,omitempty"`
	Progress         *int              `json:"progress,omitempty" minimum:"0" maximum:"100" validate:"omitempty,min=0,max=100"`
	Steps            []Step            `json:"steps,omitempty" validate:"omitempty,dive"`
	AgentID          *string           `json:"agentId,omitempty"`
	AgentLabel       *string           `json:"agentLabel,omitempty"`
	AgentDescription *string           `json:"agentDescription,omitempty"`
	IsError          *bool             `json:"is_error,omitempty"`
	ErrorMessage     *string           `json:"errorMessage,omitempty"`
	CompletedAt      *string           `json:"completedAt,omitempty" format:"date-time" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	CompletionProof  *CompletionProof  `json:"completionProof,omitempty" validate:"omitempty"`
	// NeededData set to "" clears the outstanding request.
	NeededData       *string           `json:"neededData,omitempty"`
	StartTime        *int64            `json:"startTime,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.Priority == nil &&
		p.Category == nil && p.Model == nil && p.Attachments == nil && p.ScheduledFor == nil &&
		p.IsRecurring == nil && p.RecurringPattern == nil && p.EstimatedTime == nil &&
		p.Progress == nil && p.Steps == nil && p.AgentID == nil && p.AgentLabel == nil &&
		p.AgentDescription == nil && p.IsError == nil && p.ErrorMessage == nil &&
		p.CompletedAt == nil && p.CompletionProof == nil && p.NeededData == nil && p.StartTime == nil
}

// Apply merges the patch into t. Status changes never stamp CompletedAt.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Model != nil {
		t.Model = *p.Model
	}
	if p.Attachments != nil {
		t.Attachments = p.Attachments
	}
	if p.ScheduledFor != nil {
		t.ScheduledFor = p.ScheduledFor
	}
	if p.IsRecurring != nil {
		t.IsRecurring = p.IsRecurring
	}
	if p.RecurringPattern != nil {
		t.RecurringPattern = p.RecurringPattern
	}
	if p.EstimatedTime != nil {
		t.EstimatedTime = p.EstimatedTime
	}
	if p.Progress != nil {
		t.Progress = p.Progress
	}
	if p.Steps != nil {
		t.Steps = p.Steps
	}
	if p.AgentID != nil {
		t.AgentID = p.AgentID
	}
	if p.AgentLabel != nil {
		t.AgentLabel = p.AgentLabel
	}
	if p.AgentDescription != nil {
		t.AgentDescription = p.AgentDescription
	}
	if p.IsError != nil {
		t.IsError = p.IsError
	}
	if p.ErrorMessage != nil {
		t.ErrorMessage = p.ErrorMessage
	}
	if p.CompletedAt != nil {
		t.CompletedAt = p.CompletedAt
	}
	if p.CompletionProof != nil {
		t.CompletionProof = p.CompletionProof
	}
	if p.NeededData != nil {
		t.NeededData = p.NeededData
		if *p.NeededData == "" {
			t.NeededData = nil
		}
	}
	if p.StartTime != nil {
		t.StartTime = p.StartTime
	}
}

type NotificationType string

const (
	NotifyInfo    NotificationType = "info"
	NotifySuccess NotificationType = "success"
	NotifyWarning NotificationType = "warning"
	NotifyError   NotificationType = "error"
)

func (n NotificationType) Valid() bool {
	switch n {
	case NotifyInfo, NotifySuccess, NotifyWarning, NotifyError:
		return true
	}
	return false
}

type Notification struct {
	ID           string           `json:"id"`
	UserID       string           `json:"userId"`
	Type         NotificationType `json:"type" enum:"info,success,warning,error"`
	Title        string           `json:"title"`
	Message      string           `json:"message"`
	CreatedAt    string           `json:"timestamp" format:"date-time"`
	Read         bool             `json:"read"`
	Actionable   bool             `json:"actionable,omitempty"`
	DocumentName *string          `json:"documentName,omitempty"`
	TaskID       *string          `json:"taskId,omitempty"`
}

const DefaultCountry = "United States"

type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

// ProfileData holds the personal fields used to fill forms on the user's behalf.
type ProfileData struct {
	FullName    string  `json:"fullName" validate:"required,max=200"`
	PhoneNumber string  `json:"phoneNumber,omitempty" validate:"max=40"`
	Address     Address `json:"address"`
	Signature   *string `json:"signature,omitempty"`
	UpdatedAt   string  `json:"updatedAt,omitempty" format:"date-time"`
}

type User struct {
	UID          string  `json:"uid"`
	Email        string  `json:"email"`
	DisplayName  *string `json:"displayName,omitempty"`
	PhotoURL     *string `json:"photoURL,omitempty"`
	Provider     string  `json:"provider"`
	EmailConsent bool    `json:"emailConsent"`
	CreatedAt    string  `json:"createdAt" format:"date-time"`
	LastLoginAt  string  `json:"lastLoginAt,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	UserID     string `json:"user_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
