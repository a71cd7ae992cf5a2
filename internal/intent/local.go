package intent

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"robomind/internal/models"
)

// ErrParseReminder is returned when a reminder request carries no usable
// duration. Callers surface it as a chat message, never as a crash.
var ErrParseReminder = errors.New("no duration found in reminder request")

// FloodAdvisory is the canned reply for the flood-news intent.
const FloodAdvisory = "🌊 Flood advisory: no active flood warnings right now. " +
	"Stay tuned to your local authorities and move to higher ground if water levels rise."

// Responder answers the intents that never need the generative backend.
// All time answers are rendered in one fixed timezone taken from config, so
// the same deployment gives the same answer regardless of where the process
// runs.
type Responder struct {
	loc  *time.Location
	unit time.Duration
}

// NewResponder builds a responder for the given fixed UTC offset and the
// reminder duration unit, both in minutes.
func NewResponder(offsetMinutes, unitMinutes int) *Responder {
	if unitMinutes <= 0 {
		unitMinutes = 1
	}
	sign := "+"
	if offsetMinutes < 0 {
		sign = "-"
	}
	total := abs(offsetMinutes)
	name := fmt.Sprintf("UTC%s%02d:%02d", sign, total/60, total%60)
	return &Responder{
		loc:  time.FixedZone(name, offsetMinutes*60),
		unit: time.Duration(unitMinutes) * time.Minute,
	}
}

// FormatDate renders e.g. "Friday, 15 March 2024".
func (r *Responder) FormatDate(now time.Time) string {
	return now.In(r.loc).Format("Monday, 02 January 2006")
}

// FormatClock renders e.g. "09:05 AM".
func (r *Responder) FormatClock(now time.Time) string {
	return now.In(r.loc).Format("03:04 PM")
}

// time-or-date wording inside a datetime utterance decides which half of the
// answer the user gets; both halves when the wording is mixed or unclear.
var (
	clockWords = []string{"time", "waqt", "وقت"}
	dateWords  = []string{"date", "taareekh", "تاریخ"}
)

// DateTimeReply answers the DateTime intent. An utterance that only asks for
// the time gets just the clock, one that only asks for the date gets just
// the date, anything mixed gets both.
func (r *Responder) DateTimeReply(now time.Time, text string) string {
	lower := strings.ToLower(text)
	wantsClock := containsAny(lower, clockWords)
	wantsDate := containsAny(lower, dateWords)

	switch {
	case wantsClock && !wantsDate:
		return "⏰ " + r.FormatClock(now)
	case wantsDate && !wantsClock:
		return "📅 " + r.FormatDate(now)
	}
	return fmt.Sprintf("📅 %s ⏰ %s", r.FormatDate(now), r.FormatClock(now))
}

// DayReply answers the Day intent with the weekday alone.
func (r *Responder) DayReply(now time.Time) string {
	return "📅 Today is " + now.In(r.loc).Weekday().String()
}

// ParseReminder extracts the first integer token from a reminder request and
// schedules it that many units (minutes by default) after now. Text without
// an integer fails with ErrParseReminder.
func (r *Responder) ParseReminder(text string, now time.Time) (models.Reminder, error) {
	n, ok := firstInteger(text)
	if !ok || n <= 0 {
		return models.Reminder{}, ErrParseReminder
	}
	return models.Reminder{
		Message:   strings.TrimSpace(text),
		FireAt:    now.Add(time.Duration(n) * r.unit),
		CreatedAt: now,
	}, nil
}

// ConfirmReminder renders the chat acknowledgement for a scheduled reminder.
func (r *Responder) ConfirmReminder(rem models.Reminder) string {
	return fmt.Sprintf("⏳ Okay, I'll remind you at %s.", r.FormatClock(rem.FireAt))
}

// Unit reports the configured reminder duration unit.
func (r *Responder) Unit() time.Duration {
	return r.unit
}

func firstInteger(text string) (int, bool) {
	fields := strings.FieldsFunc(text, func(c rune) bool {
		return !unicode.IsDigit(c)
	})
	for _, f := range fields {
		if n, err := strconv.Atoi(f); err == nil {
			return n, true
		}
	}
	return 0, false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
