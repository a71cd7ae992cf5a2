package reminder

import (
	"sort"
	"sync"
	"time"

	"robomind/internal/models"
)

// Scheduler tracks pending reminders and hands back the due ones on each
// poll. It is passive: the host loop decides when to poll. A reminder fires
// at most once because Poll removes it atomically with returning it, and
// never before its FireAt.
type Scheduler struct {
	mu      sync.Mutex
	pending []models.Reminder
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Schedule adds a reminder to the pending set.
func (s *Scheduler) Schedule(r models.Reminder) {
	s.mu.Lock()
	s.pending = append(s.pending, r)
	s.mu.Unlock()
}

// Poll removes and returns all reminders with FireAt <= now, ordered by
// FireAt. Reminders scheduled for the same instant keep their scheduling
// order.
func (s *Scheduler) Poll(now time.Time) []models.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []models.Reminder
	remaining := s.pending[:0]
	for _, r := range s.pending {
		if !r.FireAt.After(now) {
			due = append(due, r)
		} else {
			remaining = append(remaining, r)
		}
	}
	s.pending = remaining

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].FireAt.Before(due[j].FireAt)
	})
	return due
}

// Pending reports how many reminders are waiting to fire.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Load seeds the pending set, used to rehydrate saved reminders at startup.
func (s *Scheduler) Load(reminders []models.Reminder) {
	s.mu.Lock()
	s.pending = append(s.pending, reminders...)
	s.mu.Unlock()
}
