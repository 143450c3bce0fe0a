package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/emilixs/Aicouncil/pkg/blackboard"
)

// interventionQueue is the per-run FIFO of interventions waiting for the next drain.
// It is written by QueueIntervention and the Redis relay, and read by the loop.
// Once the loop has exited the queue is closed and refuses new items.
type interventionQueue struct {
	mu     sync.Mutex
	items  []blackboard.Intervention
	closed bool
}

// push appends an item and reports whether the queue still accepts items.
func (q *interventionQueue) push(in blackboard.Intervention) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, in)
	return true
}

// close refuses further pushes and returns how many items were never drained.
func (q *interventionQueue) close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	n := len(q.items)
	q.items = nil
	return n
}

// take removes and returns every queued item in submission order.
func (q *interventionQueue) take() []blackboard.Intervention {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *interventionQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// QueueIntervention submits a user message to a running discussion. It returns
// true when the intervention was accepted, either by this process's run or by
// the process running the session. Interventions for sessions that are not
// ACTIVE are dropped with a warning and false.
func (e *Engine) QueueIntervention(ctx context.Context, sessionID, content, submitterID string) (bool, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return false, ErrEmptyIntervention
	}

	in := blackboard.Intervention{
		Content:       content,
		SubmitterID:   submitterID,
		SubmittedAtMs: time.Now().UnixMilli(),
	}

	if run := e.lookupRun(sessionID); run != nil {
		if !run.queue.push(in) {
			log.Printf("[Orchestrator] WARN: dropping intervention for session %s: discussion is ending", sessionID)
			return false, nil
		}
		e.logEvent("intervention_queued", map[string]interface{}{
			"session_id":   sessionID,
			"submitter_id": submitterID,
			"queued":       run.queue.len(),
		})
		return true, nil
	}

	if e.bus == nil {
		log.Printf("[Orchestrator] WARN: dropping intervention for session %s: no running discussion", sessionID)
		return false, nil
	}

	session, err := e.store.LoadSession(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to load session: %w", err)
	}
	if session.Status != blackboard.SessionStatusActive {
		log.Printf("[Orchestrator] WARN: dropping intervention for session %s: status is %s", sessionID, session.Status)
		return false, nil
	}

	receivers, err := e.bus.PublishIntervention(ctx, sessionID, in)
	if err != nil {
		return false, fmt.Errorf("failed to forward intervention: %w", err)
	}
	if receivers == 0 {
		log.Printf("[Orchestrator] WARN: dropping intervention for session %s: no process is running it", sessionID)
		return false, nil
	}

	log.Printf("[Orchestrator] Forwarded intervention for session %s to %d receiver(s)", sessionID, receivers)
	return true, nil
}

// relayInterventions moves interventions published by other processes into
// the run's queue until the subscription closes.
func (r *Run) relayInterventions(sub *blackboard.Subscription[blackboard.Intervention]) {
	defer close(r.relayDone)

	for {
		select {
		case in, ok := <-sub.Events():
			if !ok {
				return
			}
			if strings.TrimSpace(in.Content) == "" {
				continue
			}
			if !r.queue.push(*in) {
				log.Printf("[Orchestrator] WARN: dropping relayed intervention for session %s: discussion is ending", r.session.ID)
				continue
			}
			r.engine.logEvent("intervention_relayed", map[string]interface{}{
				"session_id":   r.session.ID,
				"submitter_id": in.SubmitterID,
			})

		case err, ok := <-sub.Errors():
			if !ok {
				return
			}
			log.Printf("[Orchestrator] Intervention subscription error for session %s: %v", r.session.ID, err)
		}
	}
}

// drainInterventions persists queued interventions as USER messages in FIFO
// order. Items that would push the transcript past the message cap are dropped.
func (r *Run) drainInterventions(ctx context.Context) error {
	items := r.queue.take()
	for i, in := range items {
		if r.count >= r.session.MaxMessages {
			log.Printf("[Orchestrator] WARN: dropping %d intervention(s) for session %s: message limit %d reached",
				len(items)-i, r.session.ID, r.session.MaxMessages)
			return nil
		}

		msg := blackboard.NewInterventionMessage(r.session.ID, in)
		if err := r.engine.store.CreateMessage(ctx, msg); err != nil {
			return fmt.Errorf("failed to persist intervention: %w", err)
		}
		r.count++
		r.emit(blackboard.NewMessageCreatedEvent(msg))

		r.engine.logEvent("intervention_drained", map[string]interface{}{
			"session_id":   r.session.ID,
			"message_id":   msg.ID,
			"submitter_id": in.SubmitterID,
		})
	}
	return nil
}
