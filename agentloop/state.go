package agentloop

import (
	"github.com/tinkerdev/tinker/envtrack"
	"github.com/tinkerdev/tinker/llmclient"
)

// AgentState is an immutable value combining the conversation history
// with a reference to the last environment snapshot. A fresh state is
// created each turn from the previous one plus new messages; it is never
// mutated in place.
type AgentState struct {
	History        []llmclient.Message
	EnvSnapshotKey envtrack.Ref
}

// NewAgentState creates a state holding the given messages and no
// snapshot.
func NewAgentState(messages ...llmclient.Message) AgentState {
	history := make([]llmclient.Message, len(messages))
	copy(history, messages)
	return AgentState{History: history}
}

// WithMessages returns a new state whose history is this state's history
// plus messages, preserving the snapshot key. The receiver's history is
// not shared with the result.
func (s AgentState) WithMessages(messages ...llmclient.Message) AgentState {
	history := make([]llmclient.Message, 0, len(s.History)+len(messages))
	history = append(history, s.History...)
	history = append(history, messages...)
	return AgentState{History: history, EnvSnapshotKey: s.EnvSnapshotKey}
}

// WithSnapshot returns a new state pointing at ref.
func (s AgentState) WithSnapshot(ref envtrack.Ref) AgentState {
	history := make([]llmclient.Message, len(s.History))
	copy(history, s.History)
	return AgentState{History: history, EnvSnapshotKey: ref}
}

// LastAssistantText returns the text of the most recent assistant
// message, or "" when there is none.
func (s AgentState) LastAssistantText() string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == llmclient.RoleAssistant {
			return s.History[i].TextContent()
		}
	}
	return ""
}
