package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/emilixs/Aicouncil/internal/provider"
	"github.com/emilixs/Aicouncil/internal/retry"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
)

const (
	eventBufferSize = 64
	finalizeTimeout = 10 * time.Second
)

// Run is one prepared discussion. It is created by Engine.Prepare and driven
// to completion by Execute.
type Run struct {
	engine  *Engine
	session *blackboard.Session
	clients map[string]provider.Client     // expertID -> client
	configs map[string]provider.ChatConfig // expertID -> parsed config

	queue     *interventionQueue
	relay     *blackboard.Subscription[blackboard.Intervention]
	relayDone chan struct{}

	events  chan blackboard.Event
	started atomic.Bool

	turn  int // Zero-based turn counter
	count int // Persisted messages in the session
}

// Session returns the session as it was when the run was prepared.
func (r *Run) Session() *blackboard.Session {
	return r.session
}

// Execute runs the discussion loop and finalizes the session. The returned
// snapshot reflects the final status. The error is non-nil only when the
// discussion was aborted.
func (r *Run) Execute(ctx context.Context) (*blackboard.Session, error) {
	if !r.started.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("session %s: %w", r.session.ID, ErrAlreadyRunning)
	}

	e := r.engine
	defer e.wg.Done()
	defer e.release(r.session.ID)

	done := e.sink.Attach(r.session.ID, r.events)

	reason, consensus, runErr := r.loop(ctx)
	if n := r.queue.close(); n > 0 {
		log.Printf("[Orchestrator] WARN: discarding %d undrained intervention(s) for session %s", n, r.session.ID)
	}
	final := r.finalize(reason, consensus)

	r.stopRelay()
	close(r.events)
	<-done

	return final, runErr
}

// loop takes turns until consensus, the message cap or a fatal failure.
func (r *Run) loop(ctx context.Context) (blackboard.EndReason, bool, error) {
	e := r.engine
	sessionID := r.session.ID
	roster := r.session.Experts

	count, err := e.store.CountMessages(ctx, sessionID)
	if err != nil {
		return r.abort(fmt.Errorf("failed to count messages: %w", err), "")
	}
	r.count = count

	for {
		if err := r.drainInterventions(ctx); err != nil {
			return r.abort(err, "")
		}

		if r.count >= r.session.MaxMessages {
			return blackboard.EndReasonMaxMessages, false, nil
		}

		expert := roster[r.turn%len(roster)]
		r.emit(blackboard.NewExpertTurnStartEvent(sessionID, expert, r.turn+1))
		e.logEvent("turn_started", map[string]interface{}{
			"session_id": sessionID,
			"expert_id":  expert.ID,
			"turn":       r.turn + 1,
		})

		history, err := e.store.LatestMessages(ctx, sessionID, e.opts.HistoryWindow)
		if err != nil {
			return r.abort(fmt.Errorf("failed to load history: %w", err), expert.ID)
		}

		resp, err := r.ask(ctx, expert, BuildContext(r.session, expert, history))
		switch {
		case err != nil && ctx.Err() != nil:
			return r.abort(fmt.Errorf("discussion interrupted: %w", ctx.Err()), expert.ID)

		case provider.IsTransient(err):
			log.Printf("[Orchestrator] Skipping turn of expert '%s' in session %s: %v", expert.ID, sessionID, err)
			r.emit(blackboard.NewErrorEvent(sessionID, err.Error(), expert.ID))
			e.logEvent("turn_failed", map[string]interface{}{
				"session_id": sessionID,
				"expert_id":  expert.ID,
				"kind":       string(provider.KindOf(err)),
				"error":      err.Error(),
			})

		case err != nil:
			return r.abort(fmt.Errorf("expert '%s' failed: %w", expert.ID, err), expert.ID)

		case strings.TrimSpace(resp.Content) == "":
			log.Printf("[Orchestrator] Expert '%s' returned an empty reply in session %s", expert.ID, sessionID)
			e.logEvent("turn_skipped", map[string]interface{}{
				"session_id": sessionID,
				"expert_id":  expert.ID,
				"turn":       r.turn + 1,
			})

		default:
			msg := blackboard.NewExpertMessage(sessionID, expert.ID, strings.TrimSpace(resp.Content))
			if err := e.store.CreateMessage(ctx, msg); err != nil {
				return r.abort(fmt.Errorf("failed to persist message: %w", err), expert.ID)
			}
			r.count++
			r.emit(blackboard.NewMessageCreatedEvent(msg))
			e.logEvent("message_created", map[string]interface{}{
				"session_id":  sessionID,
				"expert_id":   expert.ID,
				"message_id":  msg.ID,
				"sequence":    msg.Sequence,
				"tokens_used": resp.Usage.TotalTokens,
			})

			if DetectConsensus(msg.Content) {
				r.emit(blackboard.NewConsensusReachedEvent(msg))
				e.logEvent("consensus_reached", map[string]interface{}{
					"session_id": sessionID,
					"expert_id":  expert.ID,
					"message_id": msg.ID,
				})
				return blackboard.EndReasonConsensus, true, nil
			}
		}

		r.turn++

		if e.opts.TurnDelay > 0 {
			timer := time.NewTimer(e.opts.TurnDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return r.abort(fmt.Errorf("discussion interrupted: %w", ctx.Err()), "")
			case <-timer.C:
			}
		}
	}
}

// ask calls the expert's provider through the retrier.
func (r *Run) ask(ctx context.Context, expert *blackboard.Expert, messages []provider.ChatMessage) (*provider.ChatResponse, error) {
	client := r.clients[expert.ID]
	cfg := r.configs[expert.ID]

	opts := r.engine.opts.Retry
	opts.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Printf("[Orchestrator] Retrying expert '%s' in session %s (retry %d) in %s: %v",
			expert.ID, r.session.ID, attempt, delay, err)
	}

	return retry.Do(ctx, opts, func(ctx context.Context) (*provider.ChatResponse, error) {
		return client.Chat(ctx, messages, cfg)
	})
}

// abort reports a fatal failure on the event stream and ends the loop as cancelled.
func (r *Run) abort(err error, expertID string) (blackboard.EndReason, bool, error) {
	log.Printf("[Orchestrator] Aborting session %s: %v", r.session.ID, err)
	r.emit(blackboard.NewErrorEvent(r.session.ID, err.Error(), expertID))
	return blackboard.EndReasonCancelled, false, err
}

// finalize records the outcome and emits SessionEnded. It does not use the
// run's context, which may already be cancelled. A failed status write is
// logged only and does not change the reported outcome.
func (r *Run) finalize(reason blackboard.EndReason, consensus bool) *blackboard.Session {
	e := r.engine
	sessionID := r.session.ID

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	status := blackboard.SessionStatusCompleted
	if reason == blackboard.EndReasonCancelled {
		status = blackboard.SessionStatusCancelled
	}

	if err := e.store.TransitionSessionStatus(ctx, sessionID, blackboard.SessionStatusActive, status, &consensus); err != nil {
		log.Printf("[Orchestrator] WARN: failed to finalize session %s as %s: %v", sessionID, status, err)
		e.logEvent("finalize_failed", map[string]interface{}{
			"session_id": sessionID,
			"status":     string(status),
			"error":      err.Error(),
		})
	}

	count, err := e.store.CountMessages(ctx, sessionID)
	if err != nil {
		count = r.count
	}

	r.emit(blackboard.NewSessionEndedEvent(sessionID, reason, consensus, count))
	e.logEvent("session_finalized", map[string]interface{}{
		"session_id":    sessionID,
		"reason":        string(reason),
		"consensus":     consensus,
		"message_count": count,
		"turns":         r.turn,
	})

	snapshot := *r.session
	snapshot.Status = status
	snapshot.ConsensusReached = consensus
	snapshot.UpdatedAtMs = time.Now().UnixMilli()
	return &snapshot
}

func (r *Run) emit(ev blackboard.Event) {
	r.events <- ev
}

func (r *Run) stopRelay() {
	if r.relay == nil {
		return
	}
	r.relay.Close()
	<-r.relayDone
}
