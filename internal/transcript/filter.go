package transcript

import (
	"path"

	"github.com/emilixs/Aicouncil/internal/timespec"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
)

// Filter selects transcript messages. All criteria are ANDed; zero values
// match everything.
type Filter struct {
	Window            timespec.Window
	ExpertGlob        string          // path.Match pattern on the expert id
	Role              blackboard.Role // Exact role, empty = any
	InterventionsOnly bool
}

// Matches reports whether the message passes every criterion.
func (f *Filter) Matches(m *blackboard.Message) bool {
	if f == nil {
		return true
	}
	if !f.Window.Contains(m.CreatedAtMs) {
		return false
	}
	if f.ExpertGlob != "" {
		if m.ExpertID == "" {
			return false
		}
		matched, err := path.Match(f.ExpertGlob, m.ExpertID)
		if err != nil || !matched {
			return false
		}
	}
	if f.Role != "" && m.Role != f.Role {
		return false
	}
	if f.InterventionsOnly && !m.IsIntervention {
		return false
	}
	return true
}

// HasFilters reports whether any criterion is set.
func (f *Filter) HasFilters() bool {
	return f != nil && (!f.Window.IsOpen() || f.ExpertGlob != "" || f.Role != "" || f.InterventionsOnly)
}

// Apply returns the matching messages in their original order.
func (f *Filter) Apply(messages []*blackboard.Message) []*blackboard.Message {
	if !f.HasFilters() {
		return messages
	}
	out := make([]*blackboard.Message, 0, len(messages))
	for _, m := range messages {
		if f.Matches(m) {
			out = append(out, m)
		}
	}
	return out
}
