package proto

import (
	"sync"
	"time"
)

// Conversation is an append-only, sequence-numbered message log shared by all
// participants of a run. Sequence numbers start at 1 and increase by exactly
// one per append.
type Conversation struct {
	messages []Message
	nextSeq  int64
	mu       sync.RWMutex
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{nextSeq: 1}
}

// Append assigns the next sequence number and timestamp to msg and stores it.
// The stored message is returned by value.
func (c *Conversation) Append(msg Message) Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg.Seq = c.nextSeq
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	c.nextSeq++
	c.messages = append(c.messages, msg)
	return msg
}

// Messages returns a copy of all messages in sequence order.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages appended so far.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Last returns the most recent message, or false when empty.
func (c *Conversation) Last() (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Since returns all messages with a sequence number strictly greater than seq.
func (c *Conversation) Since(seq int64) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Message
	for _, m := range c.messages {
		if m.Seq > seq {
			out = append(out, m)
		}
	}
	return out
}
