// Package history provides bounded recall of previously submitted input.
package history

import "strings"

// Buffer keeps the most recent distinct submitted strings, newest first,
// and tracks a recall cursor independent of insertion. Stepping backward
// moves from "no selection" toward the oldest retained entry; stepping
// forward returns toward the newest and, one step past it, restores the
// draft captured when recall began.
type Buffer struct {
	entries  []string
	cursor   int // -1 means no selection
	draft    string
	capacity int
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{cursor: -1, capacity: capacity}
}

// Add records a submitted string and resets the recall cursor. Blank input
// and an exact repeat of the most recent entry are ignored; past capacity
// the oldest entry is evicted.
func (b *Buffer) Add(input string) {
	input = strings.TrimSpace(input)
	if input != "" && (len(b.entries) == 0 || b.entries[0] != input) {
		b.entries = append([]string{input}, b.entries...)
		if len(b.entries) > b.capacity {
			b.entries = b.entries[:b.capacity]
		}
	}
	b.cursor = -1
}

// RecallBack steps toward the oldest entry. The first step preserves the
// caller's current draft for later restoration. At the oldest entry further
// steps keep returning it.
func (b *Buffer) RecallBack(current string) string {
	if len(b.entries) == 0 {
		return current
	}
	if b.cursor == -1 {
		b.draft = current
	}
	if b.cursor < len(b.entries)-1 {
		b.cursor++
	}
	return b.entries[b.cursor]
}

// RecallForward steps back toward the newest entry; one step past it the
// preserved draft is restored and the cursor returns to no selection.
func (b *Buffer) RecallForward() string {
	if b.cursor > 0 {
		b.cursor--
		return b.entries[b.cursor]
	}
	b.cursor = -1
	return b.draft
}

func (b *Buffer) Len() int { return len(b.entries) }
