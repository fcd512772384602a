package turn

import (
	"fmt"
	"strings"

	"github.com/calliope-chat/calliope/internal/history"
)

const promptTemplate = `You are %s

%s

You are having a conversation with the user, and this is the recent chat history
<history>
%s
</history>

You will now respond to the user's new message. Abide by the following rules:

- Be friendly and cooperative
- If the user's message is spam or misuse or something that has no relation with your specification as %s, then apologize and say you can only help them in the mentioned matter

The user's new message
<message>
%s
</message>
`

const emptyHistoryMarker = "(no messages yet: this is the beginning of the conversation)"

// renderPrompt composes the single instruction block sent to the model.
// Nothing beyond the four inputs reaches the prompt.
func renderPrompt(agentName, systemPrompt string, entries []history.Entry, userText string) string {
	return fmt.Sprintf(promptTemplate, agentName, systemPrompt, renderTranscript(entries), agentName, userText)
}

func renderTranscript(entries []history.Entry) string {
	if len(entries) == 0 {
		return emptyHistoryMarker
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.Role+": "+e.Content)
	}
	return strings.Join(lines, "\n")
}
