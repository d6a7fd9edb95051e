// Package contextmgr accumulates the conversation context for an iterative
// run and keeps it inside the model's context window.
package contextmgr

import (
	"fmt"
	"strings"
)

// Message represents a single message in the conversation context.
type Message struct {
	Role    string
	Content string
}

// Limits bounds the context relative to the target model's window.
type Limits struct {
	MaxContextTokens int // Model context window
	MaxReplyTokens   int // Reserved for the model's reply
	CompactionBuffer int // Safety margin below the window
}

// ContextManager manages conversation context and token accounting.
type ContextManager struct {
	messages []Message
	limits   *Limits
	counter  *TokenCounter
}

// NewContextManager creates a context manager with no model limits; token
// counts still work, compaction uses a fixed legacy threshold.
func NewContextManager() *ContextManager {
	return &ContextManager{
		messages: make([]Message, 0),
	}
}

// NewContextManagerWithLimits creates a context manager bounded by the given
// model limits. The model name selects the tokenizer encoding.
func NewContextManagerWithLimits(model string, limits Limits) *ContextManager {
	counter, err := NewTokenCounter(model)
	if err != nil {
		counter = nil // CountTokens falls back to the character heuristic
	}
	return &ContextManager{
		messages: make([]Message, 0),
		limits:   &limits,
		counter:  counter,
	}
}

// AddMessage appends a role/content pair to the context.
func (cm *ContextManager) AddMessage(role, content string) {
	cm.messages = append(cm.messages, Message{Role: role, Content: content})
}

// CountTokens returns the token count of the accumulated context.
func (cm *ContextManager) CountTokens() int {
	total := 0
	for i := range cm.messages {
		msg := &cm.messages[i]
		if cm.counter != nil {
			total += cm.counter.CountTokens(msg.Content)
		} else {
			// Character-based estimate: 4 chars per token.
			total += len(msg.Content) / 4
		}
		total += 4 // per-message framing overhead
	}
	return total
}

const legacyCompactThreshold = 100000

// ShouldCompact reports whether the context is close enough to the window
// that the next reply may not fit.
func (cm *ContextManager) ShouldCompact() bool {
	if cm.limits == nil {
		return cm.CountTokens() > legacyCompactThreshold
	}
	return cm.CountTokens()+cm.limits.MaxReplyTokens+cm.limits.CompactionBuffer > cm.limits.MaxContextTokens
}

// CompactIfNeeded drops oldest messages once the context approaches the
// window. The leading two messages (system prompt and task prompt) are
// dropped last, so the run keeps its goal even after heavy compaction.
func (cm *ContextManager) CompactIfNeeded() {
	if !cm.ShouldCompact() {
		return
	}

	target := legacyCompactThreshold / 2
	if cm.limits != nil {
		target = cm.limits.MaxContextTokens - cm.limits.MaxReplyTokens - cm.limits.CompactionBuffer
	}

	for cm.CountTokens() > target && len(cm.messages) > 1 {
		switch {
		case len(cm.messages) > 3:
			cm.messages = append(cm.messages[:2], cm.messages[3:]...)
		case len(cm.messages) > 2:
			cm.messages = append(cm.messages[:1], cm.messages[2:]...)
		default:
			cm.messages = cm.messages[1:]
		}
	}
}

// GetMessages returns a copy of the context messages.
func (cm *ContextManager) GetMessages() []Message {
	result := make([]Message, len(cm.messages))
	copy(result, cm.messages)
	return result
}

// GetMessageCount returns the number of messages in the context.
func (cm *ContextManager) GetMessageCount() int {
	return len(cm.messages)
}

// Clear removes all messages from the context.
func (cm *ContextManager) Clear() {
	cm.messages = cm.messages[:0]
}

// Summary returns a brief description of the context state.
func (cm *ContextManager) Summary() string {
	if len(cm.messages) == 0 {
		return "empty context"
	}

	roleCounts := make(map[string]int)
	for i := range cm.messages {
		roleCounts[cm.messages[i].Role]++
	}
	parts := make([]string, 0, len(roleCounts))
	for _, role := range []string{"system", "user", "assistant"} {
		if n, ok := roleCounts[role]; ok {
			parts = append(parts, fmt.Sprintf("%s: %d", role, n))
		}
	}

	return fmt.Sprintf("%d messages (%d tokens) - %s",
		len(cm.messages), cm.CountTokens(), strings.Join(parts, ", "))
}
