// Package orchestrator runs multi-expert discussions: it validates a session,
// takes the experts through round-robin turns against their LLM providers,
// injects user interventions between turns and stops on consensus or on the
// session's message cap.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/emilixs/Aicouncil/internal/provider"
	"github.com/emilixs/Aicouncil/internal/retry"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
)

// Store is the slice of blackboard.Store the engine needs.
type Store interface {
	LoadSession(ctx context.Context, sessionID string) (*blackboard.Session, error)
	TransitionSessionStatus(ctx context.Context, sessionID string, from, to blackboard.SessionStatus, consensusReached *bool) error
	CreateMessage(ctx context.Context, m *blackboard.Message) error
	CountMessages(ctx context.Context, sessionID string) (int, error)
	LatestMessages(ctx context.Context, sessionID string, n int) ([]*blackboard.Message, error)
}

// ProviderFactory builds a chat client for a provider identifier.
type ProviderFactory interface {
	Build(name string) (provider.Client, error)
}

// EventSink consumes the event stream of one run. Attach must drain events
// until it is closed and close the returned channel once it has finished.
type EventSink interface {
	Attach(sessionID string, events <-chan blackboard.Event) <-chan struct{}
}

// InterventionBus carries interventions to the process running a session.
type InterventionBus interface {
	PublishIntervention(ctx context.Context, sessionID string, in blackboard.Intervention) (int64, error)
	SubscribeInterventions(ctx context.Context, sessionID string) (*blackboard.Subscription[blackboard.Intervention], error)
}

// Options tunes the discussion loop.
type Options struct {
	InstanceName  string
	TurnDelay     time.Duration // Pause between two turns
	HistoryWindow int           // Messages of history sent with each turn
	Retry         retry.Options
}

// DefaultOptions returns the production loop settings.
func DefaultOptions() Options {
	return Options{
		InstanceName:  "default",
		TurnDelay:     500 * time.Millisecond,
		HistoryWindow: 10,
		Retry:         retry.DefaultOptions(),
	}
}

// Engine owns every discussion run of this process. At most one run per
// session exists across processes: the PENDING to ACTIVE transition is an
// atomic compare-and-set in the store.
type Engine struct {
	store     Store
	providers ProviderFactory
	sink      EventSink
	bus       InterventionBus // Optional; nil disables cross-process interventions
	opts      Options

	mu   sync.Mutex
	runs map[string]*Run // sessionID -> run
	wg   sync.WaitGroup
}

// NewEngine creates an engine. sink and bus may be nil.
func NewEngine(store Store, providers ProviderFactory, sink EventSink, bus InterventionBus, opts Options) *Engine {
	if sink == nil {
		sink = discardSink{}
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultOptions().HistoryWindow
	}
	if opts.TurnDelay < 0 {
		opts.TurnDelay = 0
	}
	if opts.InstanceName == "" {
		opts.InstanceName = DefaultOptions().InstanceName
	}

	return &Engine{
		store:     store,
		providers: providers,
		sink:      sink,
		bus:       bus,
		opts:      opts,
		runs:      make(map[string]*Run),
	}
}

// Start validates and activates a session, then runs its discussion to the end.
// It returns the final session snapshot. A fatal provider or persistence
// failure is returned together with the CANCELLED snapshot.
func (e *Engine) Start(ctx context.Context, sessionID string) (*blackboard.Session, error) {
	run, err := e.Prepare(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return run.Execute(ctx)
}

// Prepare performs every check that can fail before the discussion begins and
// moves the session to ACTIVE. Validation failures leave the session untouched.
// The returned run must be executed.
func (e *Engine) Prepare(ctx context.Context, sessionID string) (*Run, error) {
	session, err := e.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if session.Status != blackboard.SessionStatusPending {
		return nil, &ValidationError{
			SessionID: sessionID,
			Reason:    fmt.Sprintf("session is %s, only PENDING sessions can start", session.Status),
			Err:       ErrInvalidState,
		}
	}

	switch len(session.Experts) {
	case 0:
		return nil, &ValidationError{SessionID: sessionID, Reason: "session has no experts", Err: ErrNoParticipants}
	case 1:
		return nil, &ValidationError{SessionID: sessionID, Reason: "a discussion needs at least 2 experts", Err: ErrNoParticipants}
	}

	clients := make(map[string]provider.Client, len(session.Experts))
	configs := make(map[string]provider.ChatConfig, len(session.Experts))
	for _, expert := range session.Experts {
		cfg, err := provider.ParseConfig(expert.Config)
		if err != nil {
			return nil, &ValidationError{SessionID: sessionID, ExpertID: expert.ID, Reason: err.Error(), Err: ErrInvalidExpertConfig}
		}
		client, err := e.providers.Build(expert.Provider)
		if err != nil {
			return nil, &ValidationError{SessionID: sessionID, ExpertID: expert.ID, Reason: err.Error(), Err: ErrProviderUnavailable}
		}
		clients[expert.ID] = client
		configs[expert.ID] = cfg
	}

	run := &Run{
		engine:  e,
		session: session,
		clients: clients,
		configs: configs,
		queue:   &interventionQueue{},
		events:  make(chan blackboard.Event, eventBufferSize),
	}

	if err := e.claim(run); err != nil {
		return nil, err
	}

	if e.bus != nil {
		sub, err := e.bus.SubscribeInterventions(context.Background(), sessionID)
		if err != nil {
			log.Printf("[Orchestrator] WARN: interventions from other processes disabled for session %s: %v", sessionID, err)
		} else {
			run.relay = sub
			run.relayDone = make(chan struct{})
			go run.relayInterventions(sub)
		}
	}

	if err := e.store.TransitionSessionStatus(ctx, sessionID, blackboard.SessionStatusPending, blackboard.SessionStatusActive, nil); err != nil {
		run.stopRelay()
		e.release(sessionID)
		if errors.Is(err, blackboard.ErrInvalidState) {
			return nil, &ValidationError{SessionID: sessionID, Reason: "session was started elsewhere", Err: ErrInvalidState}
		}
		return nil, fmt.Errorf("failed to activate session: %w", err)
	}
	session.Status = blackboard.SessionStatusActive

	e.wg.Add(1)
	e.logEvent("run_started", map[string]interface{}{
		"session_id":   sessionID,
		"experts":      session.ExpertIDs,
		"max_messages": session.MaxMessages,
	})

	return run, nil
}

// Cancel moves a PENDING session to CANCELLED. Running discussions cannot be cancelled.
func (e *Engine) Cancel(ctx context.Context, sessionID string) (*blackboard.Session, error) {
	if e.lookupRun(sessionID) != nil {
		return nil, &ValidationError{SessionID: sessionID, Reason: "discussion is running", Err: ErrInvalidState}
	}

	session, err := e.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.Status != blackboard.SessionStatusPending {
		return nil, &ValidationError{
			SessionID: sessionID,
			Reason:    fmt.Sprintf("session is %s, only PENDING sessions can be cancelled", session.Status),
			Err:       ErrInvalidState,
		}
	}

	err = e.store.TransitionSessionStatus(ctx, sessionID, blackboard.SessionStatusPending, blackboard.SessionStatusCancelled, nil)
	if errors.Is(err, blackboard.ErrInvalidState) {
		return nil, &ValidationError{SessionID: sessionID, Reason: "session was started before it could be cancelled", Err: ErrInvalidState}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to cancel session: %w", err)
	}
	session.Status = blackboard.SessionStatusCancelled

	e.logEvent("session_cancelled", map[string]interface{}{
		"session_id": sessionID,
	})
	return session, nil
}

// ActiveRuns returns the ids of the sessions this process is running, sorted.
func (e *Engine) ActiveRuns() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Wait blocks until every prepared run has finished executing.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) claim(run *Run) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.runs[run.session.ID]; exists {
		return &ValidationError{SessionID: run.session.ID, Reason: "discussion is already running", Err: ErrAlreadyRunning}
	}
	e.runs[run.session.ID] = run
	return nil
}

func (e *Engine) release(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runs, sessionID)
}

func (e *Engine) lookupRun(sessionID string) *Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs[sessionID]
}

// logEvent logs a structured event in JSON format.
func (e *Engine) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "orchestrator"
	data["event_type"] = eventType
	data["instance"] = e.opts.InstanceName

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Orchestrator] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}

// discardSink drains events nobody observes.
type discardSink struct{}

func (discardSink) Attach(_ string, events <-chan blackboard.Event) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range events {
		}
	}()
	return done
}
