package contextmgr

import (
	"strings"
	"testing"
)

func TestNewContextManager(t *testing.T) {
	cm := NewContextManager()

	if cm.GetMessageCount() != 0 {
		t.Errorf("Expected 0 messages, got %d", cm.GetMessageCount())
	}
	if cm.CountTokens() != 0 {
		t.Errorf("Expected 0 tokens, got %d", cm.CountTokens())
	}
}

func TestAddMessage(t *testing.T) {
	cm := NewContextManager()

	cm.AddMessage("user", "fix the off-by-one in pager.go")
	cm.AddMessage("assistant", "@@READ: pager.go")

	if cm.GetMessageCount() != 2 {
		t.Fatalf("Expected 2 messages, got %d", cm.GetMessageCount())
	}

	msgs := cm.GetMessages()
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("Roles not preserved: %s, %s", msgs[0].Role, msgs[1].Role)
	}
	if cm.CountTokens() <= 0 {
		t.Error("Expected positive token count after adding messages")
	}
}

func TestGetMessagesReturnsCopy(t *testing.T) {
	cm := NewContextManager()
	cm.AddMessage("user", "original")

	msgs := cm.GetMessages()
	msgs[0].Content = "mutated"

	if cm.GetMessages()[0].Content != "original" {
		t.Error("GetMessages must return a copy")
	}
}

func TestClear(t *testing.T) {
	cm := NewContextManager()
	cm.AddMessage("user", "one")
	cm.AddMessage("assistant", "two")
	cm.Clear()

	if cm.GetMessageCount() != 0 {
		t.Errorf("Expected 0 messages after Clear, got %d", cm.GetMessageCount())
	}
}

func TestCompactionKeepsFirstMessage(t *testing.T) {
	cm := NewContextManagerWithLimits("gpt-4", Limits{
		MaxContextTokens: 300,
		MaxReplyTokens:   100,
		CompactionBuffer: 50,
	})

	cm.AddMessage("user", "task prompt plus bootstrap context")
	for i := 0; i < 20; i++ {
		cm.AddMessage("assistant", strings.Repeat("directive output ", 10))
		cm.AddMessage("user", strings.Repeat("tool feedback ", 10))
	}

	if !cm.ShouldCompact() {
		t.Fatal("Expected context to need compaction")
	}
	cm.CompactIfNeeded()

	msgs := cm.GetMessages()
	if len(msgs) == 0 {
		t.Fatal("Compaction should not empty the context")
	}
	if msgs[0].Content != "task prompt plus bootstrap context" {
		t.Errorf("First message should survive compaction, got %q", msgs[0].Content)
	}
	if cm.GetMessageCount() >= 41 {
		t.Error("Compaction should have dropped messages")
	}
}

func TestCompactionKeepsSystemAndTask(t *testing.T) {
	cm := NewContextManagerWithLimits("gpt-4", Limits{
		MaxContextTokens: 400,
		MaxReplyTokens:   100,
		CompactionBuffer: 50,
	})

	cm.AddMessage("system", "directive instructions")
	cm.AddMessage("user", "task prompt")
	for i := 0; i < 30; i++ {
		cm.AddMessage("assistant", strings.Repeat("directive output ", 10))
		cm.AddMessage("user", strings.Repeat("tool feedback ", 10))
	}

	cm.CompactIfNeeded()

	msgs := cm.GetMessages()
	if len(msgs) < 2 {
		t.Fatalf("expected the leading messages to survive, got %d", len(msgs))
	}
	if msgs[0].Content != "directive instructions" || msgs[1].Content != "task prompt" {
		t.Errorf("leading messages lost: %q, %q", msgs[0].Content, msgs[1].Content)
	}
}

func TestCompactionNoopUnderLimit(t *testing.T) {
	cm := NewContextManagerWithLimits("gpt-4", Limits{
		MaxContextTokens: 100000,
		MaxReplyTokens:   4096,
		CompactionBuffer: 1000,
	})
	cm.AddMessage("user", "small")
	cm.CompactIfNeeded()

	if cm.GetMessageCount() != 1 {
		t.Error("Compaction should be a no-op under the limit")
	}
}

func TestTokenCounterFallback(t *testing.T) {
	var tc *TokenCounter
	text := strings.Repeat("word ", 100) // 500 chars
	if got := tc.CountTokens(text); got != len(text)/4 {
		t.Errorf("nil counter should fall back to chars/4, got %d", got)
	}
}

func TestTokenCounterRealCodec(t *testing.T) {
	tc, err := NewTokenCounter("gpt-4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n := tc.CountTokens("hello world, this is a token counting test")
	if n <= 0 || n > 20 {
		t.Errorf("implausible token count: %d", n)
	}
}

func TestSummary(t *testing.T) {
	cm := NewContextManager()
	if cm.Summary() != "empty context" {
		t.Errorf("Unexpected empty summary: %s", cm.Summary())
	}

	cm.AddMessage("system", "instructions")
	cm.AddMessage("user", "task")
	cm.AddMessage("assistant", "reply")

	s := cm.Summary()
	if !strings.Contains(s, "3 messages") {
		t.Errorf("Summary missing message count: %s", s)
	}
	if !strings.Contains(s, "system: 1") || !strings.Contains(s, "user: 1") {
		t.Errorf("Summary missing role breakdown: %s", s)
	}
}
