package messaging

import (
	"sort"
	"strings"
	"time"
)

// storedMessage is one channel, direct, or reply message.
type storedMessage struct {
	MessageID   string         `json:"message_id"`
	FromAgentID string         `json:"from_agent_id"`
	Text        string         `json:"text"`
	ReplyTo     string         `json:"reply_to,omitempty"`
	ThreadLevel int            `json:"thread_level"`
	QuotedText  string         `json:"quoted_text,omitempty"`
	Reactions   map[string][]string `json:"reactions,omitempty"` // emoji -> agent ids
	Timestamp   float64        `json:"timestamp"`
}

// conversation is the append-only history plus thread-depth index for
// either a channel or a direct message pair.
type conversation struct {
	Messages      []*storedMessage `json:"messages"`
	ThreadLevels  map[string]int   `json:"thread_levels"` // message_id -> level
	DroppedCount  int              `json:"dropped_count"`
}

func newConversation() *conversation {
	return &conversation{ThreadLevels: make(map[string]int)}
}

// append adds msg, enforcing the history bound by dropping the oldest
// HistoryDropBatch messages once MaxHistory is exceeded.
func (c *conversation) append(msg *storedMessage) {
	c.Messages = append(c.Messages, msg)
	c.ThreadLevels[msg.MessageID] = msg.ThreadLevel
	if len(c.Messages) > MaxHistory {
		drop := HistoryDropBatch
		if drop > len(c.Messages) {
			drop = len(c.Messages)
		}
		for _, dropped := range c.Messages[:drop] {
			delete(c.ThreadLevels, dropped.MessageID)
		}
		c.Messages = c.Messages[drop:]
		c.DroppedCount += drop
	}
}

// replyLevel computes the thread level a reply to parentID would get,
// or reports that the parent has already reached MaxThreadDepth.
func (c *conversation) replyLevel(parentID string) (int, bool) {
	if parentID == "" {
		return 0, true
	}
	level, ok := c.ThreadLevels[parentID]
	if !ok {
		return 0, false
	}
	if level >= MaxThreadDepth {
		return 0, false
	}
	return level + 1, true
}

// page returns messages newest-first, paginated by offset/limit, with
// the total count and whether more remain.
func (c *conversation) page(offset, limit int) ([]*storedMessage, int, bool) {
	total := len(c.Messages)
	if limit <= 0 {
		limit = 50
	}
	// Messages are stored oldest-first; newest-first retrieval walks
	// from the tail.
	start := total - offset
	if start <= 0 {
		return nil, total, false
	}
	end := start - limit
	if end < 0 {
		end = 0
	}
	out := make([]*storedMessage, 0, start-end)
	for i := start - 1; i >= end; i-- {
		out = append(out, c.Messages[i])
	}
	return out, total, end > 0
}

func (c *conversation) byID(id string) (*storedMessage, bool) {
	for _, msg := range c.Messages {
		if msg.MessageID == id {
			return msg, true
		}
	}
	return nil, false
}

// directKey produces a stable, order-independent key for a pair of
// agent ids so "a,b" and "b,a" resolve to the same conversation.
func directKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

// storedFile is the ephemeral in-memory file store backing upload/download.
type storedFile struct {
	FileID      string    `json:"file_id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"data"`
	UploadedBy  string    `json:"uploaded_by"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
