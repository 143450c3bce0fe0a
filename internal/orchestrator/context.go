package orchestrator

import (
	"fmt"
	"strings"

	"github.com/emilixs/Aicouncil/internal/provider"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
)

// BuildContext assembles the messages sent to expert for its turn: one system
// entry describing the discussion, followed by history converted to chat roles.
// History must be ordered oldest first.
func BuildContext(session *blackboard.Session, expert *blackboard.Expert, history []*blackboard.Message) []provider.ChatMessage {
	out := make([]provider.ChatMessage, 0, len(history)+1)
	out = append(out, provider.ChatMessage{
		Role:    provider.RoleSystem,
		Content: systemPrompt(session, expert),
	})

	for _, msg := range history {
		content := msg.Content
		if msg.ExpertID != "" {
			if author := session.ExpertByID(msg.ExpertID); author != nil {
				content = fmt.Sprintf("[%s] %s", author.Name, msg.Content)
			}
		}
		out = append(out, provider.ChatMessage{Role: chatRole(msg.Role), Content: content})
	}

	return out
}

func systemPrompt(session *blackboard.Session, expert *blackboard.Expert) string {
	var b strings.Builder

	b.WriteString(expert.SystemPrompt)
	b.WriteString("\n\nProblem statement:\n")
	b.WriteString(session.ProblemStatement)

	b.WriteString("\n\nParticipants:\n")
	for _, member := range session.Experts {
		fmt.Fprintf(&b, "- %s: %s\n", member.Name, member.Specialty)
	}

	b.WriteString("\n")
	b.WriteString(collaborationInstruction())
	return b.String()
}

func collaborationInstruction() string {
	quoted := make([]string, len(consensusPhrases))
	for i, p := range consensusPhrases {
		quoted[i] = fmt.Sprintf("%q", p)
	}
	return "You are one expert in a panel discussion. Build on the points the other experts have made " +
		"and refer to them by name when you agree or disagree. When the panel has converged on a solution, " +
		"say so explicitly using one of these phrases: " + strings.Join(quoted, ", ") + "."
}

func chatRole(r blackboard.Role) string {
	switch r {
	case blackboard.RoleAssistant:
		return provider.RoleAssistant
	case blackboard.RoleSystem:
		return provider.RoleSystem
	default:
		return provider.RoleUser
	}
}
