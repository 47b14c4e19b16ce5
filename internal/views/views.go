// Package views derives the dashboard's filtered, sorted and counted views
// from a task snapshot. Every function is pure and leaves its input intact.
package views

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"shaman/internal/domain"
)

type SortBy string

const (
	SortNewest    SortBy = "newest"
	SortOldest    SortBy = "oldest"
	SortPriority  SortBy = "priority"
	SortScheduled SortBy = "scheduled"
)

func ParseSort(s string) (SortBy, error) {
	switch SortBy(s) {
	case "":
		return SortNewest, nil
	case SortNewest, SortOldest, SortPriority, SortScheduled:
		return SortBy(s), nil
	}
	return "", fmt.Errorf("invalid sort %q", s)
}

// StatusAll disables status filtering.
const StatusAll = "all"

type Filter struct {
	Status string
	Query  string
}

// FilterTasks keeps tasks matching the status and whose title or description
// contains the query, ignoring case.
func FilterTasks(tasks []domain.Task, f Filter) []domain.Task {
	query := strings.ToLower(strings.TrimSpace(f.Query))
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if f.Status != "" && f.Status != StatusAll && string(t.Status) != f.Status {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(t.Title), query) &&
			!strings.Contains(strings.ToLower(t.Description), query) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// SortTasks returns a sorted copy. Priority sorts high first; scheduled sorts
// earliest first. Dates compare as instants, and tasks whose date is missing
// or unparsable go last. Ties keep input order.
func SortTasks(tasks []domain.Task, by SortBy) []domain.Task {
	out := append([]domain.Task(nil), tasks...)
	var less func(a, b domain.Task) bool
	switch by {
	case SortOldest:
		less = byTime(createdAt, false)
	case SortPriority:
		less = func(a, b domain.Task) bool { return a.Priority.Rank() > b.Priority.Rank() }
	case SortScheduled:
		less = byTime(func(t domain.Task) *string { return t.ScheduledFor }, false)
	default:
		less = byTime(createdAt, true)
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func createdAt(t domain.Task) *string { return &t.CreatedAt }

func instant(s *string) (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, *s)
	return t, err == nil
}

func byTime(key func(domain.Task) *string, newestFirst bool) func(a, b domain.Task) bool {
	return func(a, b domain.Task) bool {
		ta, okA := instant(key(a))
		tb, okB := instant(key(b))
		switch {
		case !okA:
			return false
		case !okB:
			return true
		case newestFirst:
			return ta.After(tb)
		}
		return ta.Before(tb)
	}
}

// CountByStatus counts tasks per status; every status is present.
func CountByStatus(tasks []domain.Task) map[domain.Status]int {
	counts := make(map[domain.Status]int, len(domain.Statuses()))
	for _, s := range domain.Statuses() {
		counts[s] = 0
	}
	for _, t := range tasks {
		counts[t.Status]++
	}
	return counts
}

type Stats struct {
	Total          int                   `json:"total"`
	ByStatus       map[domain.Status]int `json:"byStatus"`
	Errors         int                   `json:"errors"`
	CompletionRate int                   `json:"completionRate"`
}

// Summarize computes the overview numbers shown above the task list.
func Summarize(tasks []domain.Task) Stats {
	s := Stats{Total: len(tasks), ByStatus: CountByStatus(tasks)}
	for _, t := range tasks {
		if t.HasError() {
			s.Errors++
		}
	}
	if s.Total > 0 {
		s.CompletionRate = s.ByStatus[domain.StatusCompleted] * 100 / s.Total
	}
	return s
}

type NotificationFilter string

const (
	NotificationsAll        NotificationFilter = "all"
	NotificationsUnread     NotificationFilter = "unread"
	NotificationsActionable NotificationFilter = "actionable"
)

func FilterNotifications(items []domain.Notification, f NotificationFilter) []domain.Notification {
	out := make([]domain.Notification, 0, len(items))
	for _, n := range items {
		switch f {
		case NotificationsUnread:
			if n.Read {
				continue
			}
		case NotificationsActionable:
			if !n.Actionable {
				continue
			}
		}
		out = append(out, n)
	}
	return out
}

func UnreadCount(items []domain.Notification) int {
	n := 0
	for _, item := range items {
		if !item.Read {
			n++
		}
	}
	return n
}
