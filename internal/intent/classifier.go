package intent

import "strings"

// Intent is the closed set of utterance categories. It is derived per
// utterance and never persisted.
type Intent string

const (
	// IntentNone means the utterance is empty or whitespace; callers must
	// not dispatch it.
	IntentNone      Intent = "none"
	IntentReminder  Intent = "reminder"
	IntentDateTime  Intent = "datetime"
	IntentDay       Intent = "day"
	IntentFloodNews Intent = "floodnews"
	IntentGeneric   Intent = "generic"
)

// Classifier maps raw user text to an Intent by case-insensitive substring
// match against per-intent keyword lists. Keyword sets overlap ("day" occurs
// inside plenty of generic text), so intents are checked in a fixed priority
// order and the first match wins:
//
//	Reminder > DateTime > Day > FloodNews > Generic
type Classifier struct {
	reminder []string
	datetime []string
	day      []string
	flood    []string
}

// NewClassifier builds a classifier from config keyword lists, keyed by
// "reminder", "datetime", "day" and "floodnews". Missing keys leave that
// intent unmatchable.
func NewClassifier(keywords map[string][]string) *Classifier {
	return &Classifier{
		reminder: lowerAll(keywords["reminder"]),
		datetime: lowerAll(keywords["datetime"]),
		day:      lowerAll(keywords["day"]),
		flood:    lowerAll(keywords["floodnews"]),
	}
}

// Classify is pure and never fails: malformed input simply falls through to
// IntentGeneric, and blank input returns IntentNone.
func (c *Classifier) Classify(text string) Intent {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return IntentNone
	}
	lower := strings.ToLower(trimmed)

	switch {
	case containsAny(lower, c.reminder):
		return IntentReminder
	case containsAny(lower, c.datetime):
		return IntentDateTime
	case containsAny(lower, c.day):
		return IntentDay
	case containsAny(lower, c.flood):
		return IntentFloodNews
	}
	return IntentGeneric
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func lowerAll(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		out = append(out, strings.ToLower(kw))
	}
	return out
}
