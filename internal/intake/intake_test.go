package intake

import (
	"strings"
	"testing"

	"shaman/internal/domain"
	"shaman/internal/validate"
)

func TestNewDraftDefaults(t *testing.T) {
	d, err := NewDraft("  Sign rental agreement  ", DraftOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if d.Title != "Sign rental agreement" || d.Description != "Sign rental agreement" {
		t.Fatalf("unexpected text fields: %+v", d)
	}
	if d.Status != domain.StatusPending || d.Priority != domain.PriorityMedium || d.Category != domain.CategoryOther || d.Model != domain.ModelLight {
		t.Fatalf("unexpected defaults: %+v", d)
	}
	if d.EstimatedTime == nil || *d.EstimatedTime != DefaultEstimatedTime {
		t.Fatalf("expected default estimate")
	}
}

func TestNewDraftLongText(t *testing.T) {
	text := strings.Repeat("a", 80)
	d, err := NewDraft(text, DraftOptions{Priority: domain.PriorityHigh})
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Title) != 53 || !strings.HasSuffix(d.Title, "...") {
		t.Fatalf("unexpected title %q", d.Title)
	}
	if d.Priority != domain.PriorityHigh {
		t.Fatalf("priority override ignored")
	}
	if _, err := NewDraft(strings.Repeat("w ", 2049), DraftOptions{}); err == nil {
		t.Fatalf("expected word limit error")
	}
	if _, err := NewDraft("", DraftOptions{}); err == nil {
		t.Fatalf("expected empty description error")
	}
}

func TestScheduledAndRecurring(t *testing.T) {
	d, err := NewDraft("Weekly expense report", DraftOptions{ScheduledFor: "2024-02-01T09:00:00Z", Recurring: domain.RecurWeekly})
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != domain.StatusScheduled || d.ScheduledFor == nil || d.IsRecurring == nil || !*d.IsRecurring {
		t.Fatalf("unexpected schedule fields: %+v", d)
	}
	if _, err := NewDraft("x", DraftOptions{Recurring: "yearly"}); err == nil {
		t.Fatalf("expected recurring pattern error")
	}
	if _, err := NewDraft("x", DraftOptions{ScheduledFor: "2024-05-01T10:00:00+02:00"}); err != nil {
		t.Fatalf("offset date-time rejected: %v", err)
	}
	for _, bad := range []string{"tomorrow", "2024-05-01", "2024-05-01 10:00"} {
		if _, err := NewDraft("x", DraftOptions{ScheduledFor: bad}); !validate.IsValidation(err) {
			t.Fatalf("%q: expected a validation error, got %v", bad, err)
		}
	}
}

func TestAttachments(t *testing.T) {
	f := NewFileAttachment("scan.png", "image/png")
	if f.ID == "" || f.Type != domain.AttachmentFile || f.FileType == nil || *f.FileType != "image" {
		t.Fatalf("unexpected file attachment: %+v", f)
	}
	v := NewVoiceAttachment("", 12)
	if v.Type != domain.AttachmentVoice || v.Name != "Voice message" || *v.Duration != 12 {
		t.Fatalf("unexpected voice attachment: %+v", v)
	}
	d, err := NewDraft("with files", DraftOptions{Attachments: []domain.Attachment{f, v}})
	if err != nil || len(d.Attachments) != 2 {
		t.Fatalf("attachments not copied: %v %+v", err, d.Attachments)
	}
}
