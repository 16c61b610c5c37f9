// Package convo holds the conversation state: the ordered message log,
// the available voice profiles, and the per-session voice selection.
package convo

import "sync"

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn entry in the conversation. Immutable once appended.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Log is the append-only record of the conversation, oldest first.
// It is the single source of truth for what is sent to the dialogue
// endpoint. Only the orchestrator appends to it.
type Log struct {
	mu   sync.RWMutex
	msgs []Message
}

// NewLog creates an empty conversation log.
func NewLog() *Log {
	return &Log{}
}

// Append adds a message at the end of the log.
func (l *Log) Append(m Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, m)
}

// AppendUser appends a user message.
func (l *Log) AppendUser(content string) {
	l.Append(Message{Role: RoleUser, Content: content})
}

// AppendAssistant appends an assistant message.
func (l *Log) AppendAssistant(content string) {
	l.Append(Message{Role: RoleAssistant, Content: content})
}

// Messages returns a copy of the full history, oldest first.
func (l *Log) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Len returns the number of messages in the log.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}

// Last returns the most recent message, if any.
func (l *Log) Last() (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.msgs) == 0 {
		return Message{}, false
	}
	return l.msgs[len(l.msgs)-1], true
}
