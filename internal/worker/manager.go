package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"robomind/internal/dispatch"
	"robomind/internal/models"
)

// ErrDispatcherBusy is returned when a conversation's task queue is full.
var ErrDispatcherBusy = errors.New("conversation is busy, please retry")

// ErrConversationClosed is returned for tasks racing a Stop.
var ErrConversationClosed = errors.New("conversation worker stopped")

const (
	defaultQueueSize   = 16
	defaultIdleTimeout = 10 * time.Minute
)

// DispatcherFactory builds the dispatcher for a conversation when its worker
// first runs: typically it rehydrates the session transcript and pending
// reminders from storage.
type DispatcherFactory func(ctx context.Context, conversationID string) (*dispatch.Dispatcher, error)

// Manager runs one goroutine per active conversation and funnels all work
// for that conversation through it, so at most one utterance is processed
// against a session at a time and appends are serialized. Idle workers
// expire; the next task revives them through the factory.
type Manager struct {
	factory     DispatcherFactory
	queueSize   int
	idleTimeout time.Duration

	mu      sync.Mutex
	workers map[string]*convWorker
}

type convWorker struct {
	taskCh chan task
	stopCh chan struct{}
}

type taskKind int

const (
	taskSubmit taskKind = iota
	taskPoll
	taskClear
)

type task struct {
	kind     taskKind
	ctx      context.Context
	text     string
	lang     string
	chunkFn  func(string) error
	now      time.Time
	resultCh chan taskResult
}

type taskResult struct {
	turn  models.Turn
	turns []models.Turn
	err   error
}

func NewManager(factory DispatcherFactory, queueSize int, idleTimeout time.Duration) *Manager {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	return &Manager{
		factory:     factory,
		queueSize:   queueSize,
		idleTimeout: idleTimeout,
		workers:     make(map[string]*convWorker),
	}
}

// Submit routes one utterance through the conversation's worker and blocks
// until the reply turn is ready.
func (m *Manager) Submit(ctx context.Context, conversationID, text, lang string, chunkFn func(string) error) (models.Turn, error) {
	res, err := m.run(task{
		kind:    taskSubmit,
		ctx:     ctx,
		text:    text,
		lang:    lang,
		chunkFn: chunkFn,
	}, conversationID)
	if err != nil {
		return models.Turn{}, err
	}
	return res.turn, res.err
}

// Poll fires the conversation's due reminders and returns the injected
// system turns.
func (m *Manager) Poll(ctx context.Context, conversationID string, now time.Time) ([]models.Turn, error) {
	res, err := m.run(task{kind: taskPoll, ctx: ctx, now: now}, conversationID)
	if err != nil {
		return nil, err
	}
	return res.turns, res.err
}

// Clear resets the conversation's transcript.
func (m *Manager) Clear(ctx context.Context, conversationID string) error {
	res, err := m.run(task{kind: taskClear, ctx: ctx}, conversationID)
	if err != nil {
		return err
	}
	return res.err
}

// Stop tears down the conversation's worker, discarding queued tasks. Used
// when the conversation is deleted.
func (m *Manager) Stop(conversationID string) {
	m.mu.Lock()
	if w, ok := m.workers[conversationID]; ok {
		delete(m.workers, conversationID)
		close(w.stopCh)
	}
	m.mu.Unlock()
}

func (m *Manager) run(t task, conversationID string) (taskResult, error) {
	// the worker can retire between the lookup and the enqueue; its closed
	// stop channel is the signal to retry on a fresh one
	for attempt := 0; attempt < 2; attempt++ {
		w := m.ensureWorker(conversationID)
		t.resultCh = make(chan taskResult, 1)

		select {
		case w.taskCh <- t:
		default:
			return taskResult{}, ErrDispatcherBusy
		}

		select {
		case res := <-t.resultCh:
			return res, nil
		case <-w.stopCh:
			// the task may have completed just before the stop
			select {
			case res := <-t.resultCh:
				return res, nil
			default:
			}
		}
	}
	return taskResult{}, ErrConversationClosed
}

func (m *Manager) ensureWorker(conversationID string) *convWorker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.workers[conversationID]; ok {
		return w
	}
	w := &convWorker{
		taskCh: make(chan task, m.queueSize),
		stopCh: make(chan struct{}),
	}
	m.workers[conversationID] = w
	go m.runWorker(conversationID, w)
	return w
}

func (m *Manager) runWorker(conversationID string, w *convWorker) {
	debugLog("[worker] conversation %s started", conversationID)
	var d *dispatch.Dispatcher

	idle := time.NewTimer(m.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-w.stopCh:
			debugLog("[worker] conversation %s stopped", conversationID)
			return
		case <-idle.C:
			// retire only when nothing raced in behind the timer; closing
			// stopCh here unblocks any caller still holding this worker
			m.mu.Lock()
			if len(w.taskCh) == 0 && m.workers[conversationID] == w {
				delete(m.workers, conversationID)
				close(w.stopCh)
				m.mu.Unlock()
				debugLog("[worker] conversation %s expired", conversationID)
				return
			}
			m.mu.Unlock()
			idle.Reset(m.idleTimeout)
		case t := <-w.taskCh:
			if d == nil {
				var err error
				d, err = m.factory(t.ctx, conversationID)
				if err != nil {
					t.resultCh <- taskResult{err: err}
					continue
				}
			}
			m.handleTask(d, t)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(m.idleTimeout)
		}
	}
}

func (m *Manager) handleTask(d *dispatch.Dispatcher, t task) {
	switch t.kind {
	case taskSubmit:
		turn, err := d.Submit(t.ctx, t.text, t.lang, t.chunkFn)
		t.resultCh <- taskResult{turn: turn, err: err}
	case taskPoll:
		turns := d.PollReminders(t.ctx, t.now)
		t.resultCh <- taskResult{turns: turns}
	case taskClear:
		d.Clear(t.ctx)
		t.resultCh <- taskResult{}
	}
}
