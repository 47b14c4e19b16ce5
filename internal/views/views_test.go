package views

import (
	"testing"

	"shaman/internal/domain"
)

func ids(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func strPtr(s string) *string { return &s }

func TestSortByPriority(t *testing.T) {
	tasks := []domain.Task{
		{ID: "low", Priority: domain.PriorityLow},
		{ID: "high", Priority: domain.PriorityHigh},
		{ID: "medium", Priority: domain.PriorityMedium},
	}
	got := ids(SortTasks(tasks, SortPriority))
	if !equal(got, []string{"high", "medium", "low"}) {
		t.Fatalf("unexpected order %v", got)
	}
	if tasks[0].ID != "low" {
		t.Fatalf("input was modified")
	}
}

func TestSortByScheduledPutsMissingLast(t *testing.T) {
	tasks := []domain.Task{
		{ID: "none", CreatedAt: "2024-01-03T00:00:00Z"},
		{ID: "late", CreatedAt: "2024-01-01T00:00:00Z", ScheduledFor: strPtr("2024-03-01T00:00:00Z")},
		{ID: "early", CreatedAt: "2024-01-02T00:00:00Z", ScheduledFor: strPtr("2024-02-01T00:00:00Z")},
	}
	got := ids(SortTasks(tasks, SortScheduled))
	if !equal(got, []string{"early", "late", "none"}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestSortComparesInstantsAcrossOffsets(t *testing.T) {
	tasks := []domain.Task{
		{ID: "nine-utc", CreatedAt: "2024-05-01T09:00:00Z", ScheduledFor: strPtr("2024-05-01T09:00:00Z")},
		{ID: "eight-utc", CreatedAt: "2024-05-01T10:00:00+02:00", ScheduledFor: strPtr("2024-05-01T10:00:00+02:00")},
		{ID: "garbled", CreatedAt: "yesterday", ScheduledFor: strPtr("next tuesday")},
	}
	if got := ids(SortTasks(tasks, SortScheduled)); !equal(got, []string{"eight-utc", "nine-utc", "garbled"}) {
		t.Fatalf("scheduled: %v", got)
	}
	if got := ids(SortTasks(tasks, SortOldest)); !equal(got, []string{"eight-utc", "nine-utc", "garbled"}) {
		t.Fatalf("oldest: %v", got)
	}
	if got := ids(SortTasks(tasks, SortNewest)); !equal(got, []string{"nine-utc", "eight-utc", "garbled"}) {
		t.Fatalf("newest: %v", got)
	}
}

func TestSortByCreation(t *testing.T) {
	tasks := []domain.Task{
		{ID: "b", CreatedAt: "2024-01-02T00:00:00Z"},
		{ID: "a", CreatedAt: "2024-01-01T00:00:00Z"},
		{ID: "c", CreatedAt: "2024-01-03T00:00:00Z"},
	}
	if got := ids(SortTasks(tasks, SortNewest)); !equal(got, []string{"c", "b", "a"}) {
		t.Fatalf("newest: %v", got)
	}
	if got := ids(SortTasks(tasks, SortOldest)); !equal(got, []string{"a", "b", "c"}) {
		t.Fatalf("oldest: %v", got)
	}
	if _, err := ParseSort("random"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestFilterTasks(t *testing.T) {
	tasks := []domain.Task{
		{ID: "1", Title: "Sign Rental Agreement", Status: domain.StatusPending},
		{ID: "2", Title: "Fill W-9", Description: "freelance RENTAL income", Status: domain.StatusInProgress},
		{ID: "3", Title: "Book flights", Status: domain.StatusPending},
	}
	if got := ids(FilterTasks(tasks, Filter{Query: "rental"})); !equal(got, []string{"1", "2"}) {
		t.Fatalf("query filter: %v", got)
	}
	if got := ids(FilterTasks(tasks, Filter{Status: "pending"})); !equal(got, []string{"1", "3"}) {
		t.Fatalf("status filter: %v", got)
	}
	if got := ids(FilterTasks(tasks, Filter{Status: StatusAll, Query: "book"})); !equal(got, []string{"3"}) {
		t.Fatalf("combined filter: %v", got)
	}
}

func TestCountsAndStats(t *testing.T) {
	yes := true
	tasks := []domain.Task{
		{Status: domain.StatusCompleted},
		{Status: domain.StatusCompleted},
		{Status: domain.StatusPending, IsError: &yes},
		{Status: domain.StatusNeedInput},
	}
	counts := CountByStatus(tasks)
	if counts[domain.StatusCompleted] != 2 || counts[domain.StatusScheduled] != 0 || len(counts) != 5 {
		t.Fatalf("unexpected counts %v", counts)
	}
	s := Summarize(tasks)
	if s.Total != 4 || s.CompletionRate != 50 || s.Errors != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestNotificationFilters(t *testing.T) {
	items := []domain.Notification{
		{ID: "1", Read: true},
		{ID: "2", Actionable: true},
		{ID: "3"},
	}
	if n := len(FilterNotifications(items, NotificationsUnread)); n != 2 {
		t.Fatalf("unread: %d", n)
	}
	if n := len(FilterNotifications(items, NotificationsActionable)); n != 1 {
		t.Fatalf("actionable: %d", n)
	}
	if n := len(FilterNotifications(items, NotificationsAll)); n != 3 {
		t.Fatalf("all: %d", n)
	}
	if UnreadCount(items) != 2 {
		t.Fatalf("unread count")
	}
}
