// Package watch follows a running discussion from the terminal. It subscribes
// to a session's event channel and prints every event until the session ends.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/emilixs/Aicouncil/internal/printer"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
)

// OutputFormat specifies how events are printed.
type OutputFormat string

const (
	// OutputFormatDefault prints human-readable lines with timestamps
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON prints each event as one JSON line
	OutputFormatJSON OutputFormat = "json"
)

// DefaultPollInterval is how often the session status is re-read while
// streaming. Pub/Sub is at-most-once, so a missed SessionEnded would
// otherwise leave the watcher waiting forever.
const DefaultPollInterval = 2 * time.Second

// StatusReader reads the session being followed.
type StatusReader interface {
	LoadSession(ctx context.Context, sessionID string) (*blackboard.Session, error)
}

// Source supplies the session's events and status.
type Source interface {
	StatusReader
	SubscribeSessionEvents(ctx context.Context, sessionID string) (*blackboard.Subscription[blackboard.Event], error)
}

// Options tunes StreamSession.
type Options struct {
	Format       OutputFormat
	PollInterval time.Duration
}

// StreamSession prints the session's events to w until SessionEnded arrives,
// the session is found in a terminal status, or ctx is cancelled. Watching a
// session that has already finished prints its outcome and returns.
func StreamSession(ctx context.Context, source Source, sessionID string, opts Options, w io.Writer) error {
	if _, err := newFormatter(opts.Format, w); err != nil {
		return err
	}

	sub, err := source.SubscribeSessionEvents(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to subscribe to session events: %w", err)
	}
	defer sub.Close()

	return Follow(ctx, source, sub, sessionID, opts, w)
}

// Follow is StreamSession over a subscription the caller already holds, so
// that no event published after subscribing is missed. The caller closes sub.
func Follow(ctx context.Context, store StatusReader, sub *blackboard.Subscription[blackboard.Event], sessionID string, opts Options, w io.Writer) error {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	f, err := newFormatter(opts.Format, w)
	if err != nil {
		return err
	}

	session, err := store.LoadSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if session.Status.IsTerminal() {
		return f.FormatFinished(session)
	}
	f.Roster(session.Experts)
	if err := f.FormatWaiting(session); err != nil {
		return err
	}

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()
	errs := sub.Errors()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-sub.Events():
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("event stream closed before the session ended")
			}
			if err := f.FormatEvent(ev); err != nil {
				return err
			}
			if ev.Type == blackboard.EventSessionEnded {
				return nil
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			fmt.Fprintf(w, "⚠️  %v\n", err)

		case <-ticker.C:
			current, err := store.LoadSession(ctx, sessionID)
			if err != nil {
				return fmt.Errorf("failed to poll session status: %w", err)
			}
			if current.Status.IsTerminal() {
				return drainFinished(f, sub, current)
			}
		}
	}
}

// drainFinished prints events already buffered when the session was seen
// finished, falling back to a summary if none of them ends the session.
func drainFinished(f formatter, sub *blackboard.Subscription[blackboard.Event], session *blackboard.Session) error {
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return f.FormatFinished(session)
			}
			if err := f.FormatEvent(ev); err != nil {
				return err
			}
			if ev.Type == blackboard.EventSessionEnded {
				return nil
			}
		default:
			return f.FormatFinished(session)
		}
	}
}

func newFormatter(format OutputFormat, w io.Writer) (formatter, error) {
	switch format {
	case OutputFormatDefault, "":
		return &defaultFormatter{writer: w, names: map[string]string{}}, nil
	case OutputFormatJSON:
		return &jsonFormatter{writer: w}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s", format)
	}
}

type formatter interface {
	Roster(experts []*blackboard.Expert)
	FormatWaiting(s *blackboard.Session) error
	FormatEvent(ev *blackboard.Event) error
	FormatFinished(s *blackboard.Session) error
}

// defaultFormatter prints one timestamped line per event.
type defaultFormatter struct {
	writer io.Writer
	names  map[string]string // expert id -> display name
}

func (f *defaultFormatter) Roster(experts []*blackboard.Expert) {
	for _, e := range experts {
		f.names[e.ID] = e.Name
	}
}

func (f *defaultFormatter) FormatWaiting(s *blackboard.Session) error {
	if s.Status == blackboard.SessionStatusPending {
		_, err := fmt.Fprintf(f.writer, "⏳ Waiting for session %s to start\n", s.ID)
		return err
	}
	_, err := fmt.Fprintf(f.writer, "👀 Watching session %s\n", s.ID)
	return err
}

func (f *defaultFormatter) FormatEvent(ev *blackboard.Event) error {
	ts := printer.Faint("[%s]", time.UnixMilli(ev.TimestampMs).Format("15:04:05"))

	var line string
	switch ev.Type {
	case blackboard.EventExpertTurnStart:
		if ev.TurnStart == nil {
			return nil
		}
		if ev.TurnStart.ExpertName != "" {
			f.names[ev.TurnStart.ExpertID] = ev.TurnStart.ExpertName
		}
		line = fmt.Sprintf("💭 Turn %d: %s is thinking", ev.TurnStart.TurnNumber, f.name(ev.TurnStart.ExpertID))

	case blackboard.EventMessageCreated:
		if ev.Message == nil {
			return nil
		}
		line = fmt.Sprintf("%s %s", f.speaker(ev.Message), ev.Message.Content)

	case blackboard.EventConsensusReached:
		line = "🤝 Consensus reached"
		if ev.Message != nil {
			line += " by " + f.name(ev.Message.ExpertID)
		}

	case blackboard.EventError:
		if ev.Failure == nil {
			return nil
		}
		line = "❌ Error: " + ev.Failure.Message
		if ev.Failure.ExpertID != "" {
			line += fmt.Sprintf(" (expert %s)", f.name(ev.Failure.ExpertID))
		}

	case blackboard.EventSessionEnded:
		if ev.Ended == nil {
			return nil
		}
		line = fmt.Sprintf("🏁 Session ended: %s after %d messages", ev.Ended.Reason, ev.Ended.MessageCount)

	default:
		return nil
	}

	_, err := fmt.Fprintf(f.writer, "%s %s\n", ts, line)
	return err
}

func (f *defaultFormatter) FormatFinished(s *blackboard.Session) error {
	outcome := "without consensus"
	if s.ConsensusReached {
		outcome = "with consensus"
	}
	_, err := fmt.Fprintf(f.writer, "🏁 Session %s is %s %s\n", s.ID, printer.StatusLabel(s.Status), outcome)
	return err
}

func (f *defaultFormatter) name(expertID string) string {
	if n, ok := f.names[expertID]; ok && n != "" {
		return n
	}
	return expertID
}

func (f *defaultFormatter) speaker(m *blackboard.Message) string {
	switch {
	case m.IsIntervention && m.SubmittedBy != "":
		return "[User " + m.SubmittedBy + "]"
	case m.IsIntervention || m.Role == blackboard.RoleUser:
		return "[User]"
	case m.Role == blackboard.RoleSystem:
		return "[System]"
	}
	return printer.Speaker(m.ExpertID, f.name(m.ExpertID))
}

// jsonFormatter prints raw events as line-delimited JSON.
type jsonFormatter struct {
	writer io.Writer
}

func (f *jsonFormatter) Roster([]*blackboard.Expert) {}

func (f *jsonFormatter) FormatWaiting(*blackboard.Session) error { return nil }

func (f *jsonFormatter) FormatEvent(ev *blackboard.Event) error {
	return f.encode(ev)
}

// FormatFinished reports an already-finished session as the SessionEnded
// event it would have produced.
func (f *jsonFormatter) FormatFinished(s *blackboard.Session) error {
	reason := blackboard.EndReasonMaxMessages
	switch {
	case s.ConsensusReached:
		reason = blackboard.EndReasonConsensus
	case s.Status == blackboard.SessionStatusCancelled:
		reason = blackboard.EndReasonCancelled
	}
	ev := blackboard.Event{
		Type:        blackboard.EventSessionEnded,
		SessionID:   s.ID,
		TimestampMs: s.UpdatedAtMs,
		Ended:       &blackboard.SessionEnd{Reason: reason, ConsensusReached: s.ConsensusReached},
	}
	return f.encode(&ev)
}

func (f *jsonFormatter) encode(ev *blackboard.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(f.writer, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}
