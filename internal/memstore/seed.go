package memstore

import (
	"fmt"
	"time"

	"shaman/internal/domain"
)

// SampleTasks returns the demo dashboard content for userID.
func SampleTasks(userID string, now time.Time) []domain.Task {
	ts := func(d time.Duration) string { return now.Add(d).UTC().Format(time.RFC3339) }
	str := func(s string) *string { return &s }
	pct := func(v int) *int { return &v }
	weekly := domain.RecurWeekly
	recurring := true
	return []domain.Task{
		{
			Title:       "Sign Rental Agreement",
			Description: "Review and sign the rental agreement for the new apartment",
			Status:      domain.StatusPending,
			Priority:    domain.PriorityHigh,
			Category:    domain.CategoryDocument,
			Model:       domain.ModelLight,
			CreatedAt:   ts(-2 * time.Hour),
			Attachments: []domain.Attachment{{ID: "att-1", Type: domain.AttachmentFile, Name: "Rental_Agreement_2024.pdf", FileType: str("application")}},
		},
		{
			Title:         "Fill W-9 Tax Form",
			Description:   "Complete W-9 form for freelance client",
			Status:        domain.StatusInProgress,
			Priority:      domain.PriorityMedium,
			Category:      domain.CategoryForm,
			Model:         domain.ModelPro,
			CreatedAt:     ts(-24 * time.Hour),
			Progress:      pct(50),
			AgentLabel:    str("Form Agent"),
			EstimatedTime: str("10 mins"),
			Steps: []domain.Step{
				{ID: "step-1", Title: "Load profile", Status: domain.StepCompleted, Order: 1, CompletedAt: str(ts(-23 * time.Hour))},
				{ID: "step-2", Title: "Fill fields", Status: domain.StepInProgress, Order: 2},
				{ID: "step-3", Title: "Attach signature", Status: domain.StepPending, Order: 3},
			},
		},
		{
			Title:            "Weekly Expense Report",
			Description:      "Generate and submit weekly expense report",
			Status:           domain.StatusScheduled,
			Priority:         domain.PriorityMedium,
			Category:         domain.CategoryDocument,
			Model:            domain.ModelLight,
			CreatedAt:        ts(-48 * time.Hour),
			ScheduledFor:     str(ts(72 * time.Hour)),
			IsRecurring:      &recurring,
			RecurringPattern: &weekly,
		},
		{
			Title:       "Book Flight Tickets",
			Description: "Find and book flight tickets for business trip",
			Status:      domain.StatusCompleted,
			Priority:    domain.PriorityHigh,
			Category:    domain.CategoryWebTask,
			Model:       domain.ModelPro,
			CreatedAt:   ts(-72 * time.Hour),
			Progress:    pct(100),
			CompletedAt: str(ts(-70 * time.Hour)),
			CompletionProof: &domain.CompletionProof{
				Type:      domain.ProofConfirmation,
				Reference: str("PNR-7QX2LM"),
				Summary:   "Round trip booked",
			},
		},
	}
}

// SampleNotifications returns demo notifications for userID.
func SampleNotifications(userID string, now time.Time) []domain.Notification {
	doc := func(s string) *string { return &s }
	items := []domain.Notification{
		{Type: domain.NotifySuccess, Title: "Document Signed Successfully", Message: "Your rental agreement has been signed and saved to your documents.", DocumentName: doc("Rental_Agreement_2024.pdf")},
		{Type: domain.NotifyInfo, Title: "Form Auto-filled", Message: "W-9 tax form has been automatically filled using your profile information.", DocumentName: doc("W9_Form_2024.pdf")},
		{Type: domain.NotifyWarning, Title: "Signature Required", Message: "Employment contract is ready for your signature. Please review and sign.", Actionable: true, DocumentName: doc("Employment_Contract.pdf")},
		{Type: domain.NotifyError, Title: "Document Processing Failed", Message: "Unable to process insurance_claim.pdf. Please check the file format and try again.", Actionable: true, DocumentName: doc("insurance_claim.pdf")},
	}
	for i := range items {
		items[i].ID = fmt.Sprintf("seed-notification-%d", i+1)
		items[i].UserID = userID
		items[i].CreatedAt = now.Add(-time.Duration(i) * time.Hour).UTC().Format(time.RFC3339)
	}
	return items
}

// Seed loads the demo content for userID, assigning deterministic ids.
func (s *Store) Seed(userID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[userID] == nil {
		s.tasks[userID] = map[string]domain.Task{}
	}
	for i, t := range SampleTasks(userID, now) {
		t.ID = fmt.Sprintf("seed-task-%d", i+1)
		t.UserID = userID
		s.tasks[userID][t.ID] = t
	}
	if s.notifications[userID] == nil {
		s.notifications[userID] = map[string]domain.Notification{}
	}
	for _, n := range SampleNotifications(userID, now) {
		s.notifications[userID][n.ID] = n
	}
}
