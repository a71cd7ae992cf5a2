package dispatch

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"robomind/internal/intent"
	"robomind/internal/models"
	"robomind/internal/reminder"
	"robomind/internal/session"
)

// ErrEmptyUtterance is returned for blank input; nothing is dispatched or
// appended.
var ErrEmptyUtterance = errors.New("utterance is empty")

const (
	apologyReply = "🙏 Sorry, I couldn't reach my brain just now. Please try again in a moment."

	parseFailReply = "⏳ I couldn't find a duration in that reminder. " +
		`Try something like "remind me in 10 minutes".`

	titleMaxRunes = 48
)

// Generator is the generative backend collaborator.
type Generator interface {
	Generate(ctx context.Context, turns []models.Turn, callback func(string) error) (string, error)
}

// Translator is the translation bridge collaborator. Both methods fail open:
// they return usable text even when the external service is down.
type Translator interface {
	ToPivot(ctx context.Context, text, declared string) (pivot string, detected string)
	FromPivot(ctx context.Context, text, target string) string
}

// Archive mirrors session state to durable storage. All archive calls are
// best effort from the dispatcher's point of view: a broken database logs
// and degrades to in-memory operation, it never breaks the chat.
type Archive interface {
	AppendTurn(ctx context.Context, turn models.Turn) (*models.Turn, error)
	ClearTurns(ctx context.Context, conversationID string) error
	SaveReminder(ctx context.Context, r models.Reminder) (*models.Reminder, error)
	DeleteReminder(ctx context.Context, id int64) error
	UpdateConversationTitle(ctx context.Context, conversationID, title string) error
}

// Config wires one dispatcher instance.
type Config struct {
	ConversationID string
	Classifier     *intent.Classifier
	Responder      *intent.Responder
	Translator     Translator
	Generator      Generator
	Scheduler      *reminder.Scheduler
	Archive        Archive // optional
	Session        *session.Session
	ContextWindow  int
	Now            func() time.Time // defaults to time.Now
}

// Dispatcher routes one conversation's utterances: classify, answer locally
// or through translate+generate, append the exchange to the session. It is
// synchronous and must only be driven by one goroutine at a time; the worker
// manager enforces that.
type Dispatcher struct {
	conversationID string
	classifier     *intent.Classifier
	responder      *intent.Responder
	translator     Translator
	generator      Generator
	scheduler      *reminder.Scheduler
	archive        Archive
	session        *session.Session
	window         int
	now            func() time.Time
}

func New(cfg Config) (*Dispatcher, error) {
	if cfg.ConversationID == "" {
		return nil, errors.New("conversation id required")
	}
	if cfg.Classifier == nil || cfg.Responder == nil {
		return nil, errors.New("classifier and responder required")
	}
	if cfg.Translator == nil || cfg.Generator == nil {
		return nil, errors.New("translator and generator required")
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = reminder.NewScheduler()
	}
	if cfg.Session == nil {
		cfg.Session = session.New()
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 20
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		conversationID: cfg.ConversationID,
		classifier:     cfg.Classifier,
		responder:      cfg.Responder,
		translator:     cfg.Translator,
		generator:      cfg.Generator,
		scheduler:      cfg.Scheduler,
		archive:        cfg.Archive,
		session:        cfg.Session,
		window:         cfg.ContextWindow,
		now:            cfg.Now,
	}, nil
}

// ConversationID reports which conversation this dispatcher owns.
func (d *Dispatcher) ConversationID() string {
	return d.conversationID
}

// Session exposes the transcript for read access.
func (d *Dispatcher) Session() *session.Session {
	return d.session
}

// Submit processes one utterance to completion and returns the reply turn.
// chunkFn, when non-nil, receives accumulated generative output as it
// streams; local intents answer in one piece without calling it.
//
// Failures of the generative backend or the translator never propagate:
// they degrade to an apologetic or pivot-language reply so the conversation
// survives. The only error returned is ErrEmptyUtterance.
func (d *Dispatcher) Submit(ctx context.Context, utterance, declaredLang string, chunkFn func(string) error) (models.Turn, error) {
	text := strings.TrimSpace(utterance)
	kind := d.classifier.Classify(text)
	if kind == intent.IntentNone {
		return models.Turn{}, ErrEmptyUtterance
	}

	now := d.now()
	userTurn := models.Turn{
		ConversationID: d.conversationID,
		Role:           models.RoleUser,
		Content:        text,
		Language:       normalizeLang(declaredLang),
		CreatedAt:      now,
	}

	var reply string
	replyLang := userTurn.Language

	switch kind {
	case intent.IntentDateTime:
		reply = d.responder.DateTimeReply(now, text)
	case intent.IntentDay:
		reply = d.responder.DayReply(now)
	case intent.IntentFloodNews:
		reply = intent.FloodAdvisory
	case intent.IntentReminder:
		reply = d.handleReminder(ctx, text, now)
	default:
		reply, replyLang = d.handleGeneric(ctx, text, declaredLang, chunkFn)
		userTurn.Language = replyLang
	}

	firstTurn := d.session.Len() == 0

	d.session.Append(userTurn)
	d.persistTurn(ctx, userTurn)

	replyTurn := models.Turn{
		ConversationID: d.conversationID,
		Role:           models.RoleAssistant,
		Content:        reply,
		Language:       replyLang,
		CreatedAt:      d.now(),
	}
	d.session.Append(replyTurn)
	d.persistTurn(ctx, replyTurn)

	if firstTurn && d.archive != nil {
		if err := d.archive.UpdateConversationTitle(ctx, d.conversationID, truncateTitle(text)); err != nil {
			log.Printf("update conversation title failed: %v", err)
		}
	}
	return replyTurn, nil
}

func (d *Dispatcher) handleReminder(ctx context.Context, text string, now time.Time) string {
	rem, err := d.responder.ParseReminder(text, now)
	if err != nil {
		return parseFailReply
	}
	rem.ConversationID = d.conversationID
	if d.archive != nil {
		if saved, err := d.archive.SaveReminder(ctx, rem); err != nil {
			log.Printf("save reminder failed: %v", err)
		} else {
			rem = *saved
		}
	}
	d.scheduler.Schedule(rem)
	return d.responder.ConfirmReminder(rem)
}

func (d *Dispatcher) handleGeneric(ctx context.Context, text, declaredLang string, chunkFn func(string) error) (string, string) {
	pivotText, detected := d.translator.ToPivot(ctx, text, normalizeLang(declaredLang))

	prior := d.session.ContextWindow(d.window)
	pivotTurn := models.Turn{
		ConversationID: d.conversationID,
		Role:           models.RoleUser,
		Content:        pivotText,
		Language:       detected,
		CreatedAt:      d.now(),
	}

	out, err := d.generator.Generate(ctx, append(prior, pivotTurn), chunkFn)
	if err != nil {
		log.Printf("generative call failed for conversation %s: %v", d.conversationID, err)
		return apologyReply, detected
	}
	return d.translator.FromPivot(ctx, out, detected), detected
}

// PollReminders fires every due reminder: each one becomes a system turn
// appended to the session, exactly once. The returned turns are what a host
// loop renders as notifications.
func (d *Dispatcher) PollReminders(ctx context.Context, now time.Time) []models.Turn {
	due := d.scheduler.Poll(now)
	if len(due) == 0 {
		return nil
	}

	turns := make([]models.Turn, 0, len(due))
	for _, rem := range due {
		turn := models.Turn{
			ConversationID: d.conversationID,
			Role:           models.RoleSystem,
			Content:        "⏰ Reminder: " + rem.Message,
			Language:       models.LangAuto,
			CreatedAt:      now,
		}
		d.session.Append(turn)
		d.persistTurn(ctx, turn)
		if d.archive != nil {
			if err := d.archive.DeleteReminder(ctx, rem.ID); err != nil {
				log.Printf("delete fired reminder %d failed: %v", rem.ID, err)
			}
		}
		turns = append(turns, turn)
	}
	return turns
}

// Clear discards the transcript, in memory and in the archive.
func (d *Dispatcher) Clear(ctx context.Context) {
	d.session.Clear()
	if d.archive != nil {
		if err := d.archive.ClearTurns(ctx, d.conversationID); err != nil {
			log.Printf("clear archived turns failed: %v", err)
		}
	}
}

func (d *Dispatcher) persistTurn(ctx context.Context, turn models.Turn) {
	if d.archive == nil {
		return
	}
	if _, err := d.archive.AppendTurn(ctx, turn); err != nil {
		log.Printf("persist turn failed: %v", err)
	}
}

func normalizeLang(lang string) string {
	if lang == "" {
		return models.LangAuto
	}
	return lang
}

func truncateTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= titleMaxRunes {
		return text
	}
	return string(runes[:titleMaxRunes]) + "…"
}
