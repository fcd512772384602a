// Package turn implements one conversational exchange end to end: building
// the model context from recent history, routing through the text or audio
// stage sequence, and committing the outcome so the chat log and the audio
// artifacts never disagree.
package turn

import (
	"github.com/calliope-chat/calliope/internal/history"
	"github.com/calliope-chat/calliope/internal/state"
)

// Context carries everything one turn needs: the agent's identity and
// instructions, the bounded history window, and the incoming message. For
// audio turns UserText starts empty and is filled by transcription.
type Context struct {
	AgentName    string
	SystemPrompt string
	History      []history.Entry
	UserText     string
	IsAudio      bool

	// InputAudio holds the uploaded recording for audio turns.
	InputAudio    []byte
	InputFilename string
}

// BuildContext assembles a turn context from an agent and its chat's message
// log. The log must exclude the message being responded to; callers pass the
// history as it stood before the new input.
func BuildContext(agent state.Agent, log []state.Message, depth int) Context {
	return Context{
		AgentName:    agent.Name,
		SystemPrompt: agent.SystemPrompt,
		History:      history.ContextWindow(log, depth),
	}
}
