package agent

import "github.com/agentcheck/agentcheck/internal/core"

// Conversation is the append-only message history of one session.
// Messages never change once appended; readers get copies.
type Conversation struct {
	msgs []core.Message
}

// NewConversation starts a history with the given seed messages.
func NewConversation(seed ...core.Message) *Conversation {
	c := &Conversation{}
	for _, m := range seed {
		c.Append(m)
	}
	return c
}

// Append adds m to the end of the history.
func (c *Conversation) Append(m core.Message) {
	c.msgs = append(c.msgs, cloneMessage(m))
}

// Len is the number of messages.
func (c *Conversation) Len() int { return len(c.msgs) }

// Messages returns a copy of the history in order.
func (c *Conversation) Messages() []core.Message {
	out := make([]core.Message, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = cloneMessage(m)
	}
	return out
}

// Last returns the most recent message.
func (c *Conversation) Last() (core.Message, bool) {
	if len(c.msgs) == 0 {
		return core.Message{}, false
	}
	return cloneMessage(c.msgs[len(c.msgs)-1]), true
}

func cloneMessage(m core.Message) core.Message {
	if m.ToolCalls != nil {
		m.ToolCalls = append([]core.ToolCall(nil), m.ToolCalls...)
	}
	return m
}
