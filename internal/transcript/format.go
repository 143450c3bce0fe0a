package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emilixs/Aicouncil/internal/printer"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
)

// OutputFormat selects how sessions and transcripts are rendered.
type OutputFormat string

const (
	// FormatText is the human-readable default with coloured speakers
	FormatText OutputFormat = "text"

	// FormatJSONL writes one JSON object per line
	FormatJSONL OutputFormat = "jsonl"

	// FormatMarkdown renders a transcript as a Markdown document
	FormatMarkdown OutputFormat = "markdown"
)

// ParseFormat validates a --output flag value. "default" is accepted for text.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", "default", FormatText:
		return FormatText, nil
	case FormatJSONL, "json":
		return FormatJSONL, nil
	case FormatMarkdown, "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown output format: %s", s)
	}
}

// FormatSessionTable writes sessions as a table and returns the row count.
func FormatSessionTable(w io.Writer, sessions []*blackboard.Session, instanceName string) int {
	if len(sessions) == 0 {
		fmt.Fprintf(w, "No sessions found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Sessions for instance '%s':\n\n", instanceName)
	fmt.Fprintf(w, "%-10s %-10s %-9s %-5s %-8s %-22s %s\n",
		"ID", "STATUS", "CONSENSUS", "MAX", "AGE", "EXPERTS", "PROBLEM")
	fmt.Fprintf(w, "%-10s %-10s %-9s %-5s %-8s %-22s %s\n",
		"----------", "----------", "---------", "-----", "--------", "----------------------", "----------------------------------------")

	for _, s := range sessions {
		// Pad before colouring so escape codes do not break alignment
		status := fmt.Sprintf("%-10s", s.Status)
		status = strings.Replace(status, string(s.Status), printer.StatusLabel(s.Status), 1)

		fmt.Fprintf(w, "%-10s %s %-9s %-5d %-8s %-22s %s\n",
			formatID(s.ID),
			status,
			formatConsensus(s),
			s.MaxMessages,
			formatAge(s.CreatedAtMs, time.Now()),
			formatRoster(s.ExpertIDs),
			formatPreview(s.ProblemStatement, 40),
		)
	}

	noun := "session"
	if len(sessions) != 1 {
		noun = "sessions"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(sessions), noun)
	return len(sessions)
}

// WriteJSONL writes each value as a compact JSON object on its own line.
func WriteJSONL[T any](w io.Writer, values []T) error {
	enc := json.NewEncoder(w)
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes one value as indented JSON.
func FormatSingleJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// FormatTranscriptText writes a readable transcript headed by the problem
// statement and the roster.
func FormatTranscriptText(w io.Writer, s *blackboard.Session, messages []*blackboard.Message) {
	fmt.Fprintf(w, "Session %s  %s\n", s.ID, printer.StatusLabel(s.Status))
	fmt.Fprintf(w, "Problem: %s\n", s.ProblemStatement)
	if len(s.Experts) > 0 {
		names := make([]string, 0, len(s.Experts))
		for _, e := range s.Experts {
			names = append(names, printer.Speaker(e.ID, e.Name))
		}
		fmt.Fprintf(w, "Experts: %s\n", strings.Join(names, " "))
	}
	fmt.Fprintln(w)

	if len(messages) == 0 {
		fmt.Fprintln(w, "No messages.")
		return
	}

	for _, m := range messages {
		fmt.Fprintf(w, "%s %s %s\n", printer.Faint("#%-3d", m.Sequence), speakerLabel(s, m), m.Content)
	}

	if s.ConsensusReached {
		fmt.Fprintf(w, "\nConsensus reached after %d messages.\n", messages[len(messages)-1].Sequence)
	}
}

// FormatTranscriptMarkdown writes the transcript as Markdown, one section per message.
func FormatTranscriptMarkdown(w io.Writer, s *blackboard.Session, messages []*blackboard.Message) {
	fmt.Fprintf(w, "# Council session %s\n\n", s.ID)
	fmt.Fprintf(w, "**Problem:** %s\n\n", s.ProblemStatement)
	fmt.Fprintf(w, "**Status:** %s", s.Status)
	if s.ConsensusReached {
		fmt.Fprintf(w, " (consensus reached)")
	}
	fmt.Fprintf(w, "\n\n")

	for _, e := range s.Experts {
		if e.Specialty != "" {
			fmt.Fprintf(w, "- **%s**: %s\n", e.Name, e.Specialty)
		} else {
			fmt.Fprintf(w, "- **%s**\n", e.Name)
		}
	}
	if len(s.Experts) > 0 {
		fmt.Fprintln(w)
	}

	for _, m := range messages {
		fmt.Fprintf(w, "## %d. %s\n\n%s\n\n", m.Sequence, speakerName(s, m), strings.TrimSpace(m.Content))
	}
}

// speakerName names a message author without colour.
func speakerName(s *blackboard.Session, m *blackboard.Message) string {
	switch {
	case m.IsIntervention && m.SubmittedBy != "":
		return "User " + m.SubmittedBy
	case m.IsIntervention || m.Role == blackboard.RoleUser:
		return "User"
	case m.Role == blackboard.RoleSystem:
		return "System"
	}
	if e := s.ExpertByID(m.ExpertID); e != nil {
		return e.Name
	}
	if m.ExpertID != "" {
		return m.ExpertID
	}
	return "Unknown"
}

func speakerLabel(s *blackboard.Session, m *blackboard.Message) string {
	if m.Role == blackboard.RoleAssistant && m.ExpertID != "" {
		return printer.Speaker(m.ExpertID, speakerName(s, m))
	}
	return "[" + speakerName(s, m) + "]"
}

// formatID truncates an id to its first 8 characters.
func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatConsensus(s *blackboard.Session) string {
	if s.ConsensusReached {
		return "yes"
	}
	if s.Status.IsTerminal() {
		return "no"
	}
	return "-"
}

// formatRoster joins expert ids, truncated to fit the column.
func formatRoster(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	joined := strings.Join(ids, ",")
	if len(joined) > 22 {
		return joined[:19] + "..."
	}
	return joined
}

// formatPreview returns the first non-empty line, truncated to max characters.
func formatPreview(text string, max int) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > max {
			return line[:max-3] + "..."
		}
		return line
	}
	return "-"
}

// formatAge renders a millisecond timestamp as a relative age.
func formatAge(timestampMs int64, now time.Time) string {
	if timestampMs == 0 {
		return "-"
	}

	diff := now.Sub(time.UnixMilli(timestampMs))
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
