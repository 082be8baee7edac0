package document

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Comment is a single line-addressed annotation on a document.
type Comment struct {
	CommentID   string `json:"comment_id"`
	LineNumber  int    `json:"line_number"`
	AgentID     string `json:"agent_id"`
	Text        string `json:"comment_text"`
	CreatedAt   time.Time `json:"created_at"`
}

// CursorPosition is an agent's cursor location within a document.
type CursorPosition struct {
	Line   int `json:"line_number"`
	Column int `json:"column_number"`
}

// Presence is an agent's liveness and cursor state on a document.
type Presence struct {
	AgentID      string         `json:"agent_id"`
	Cursor       CursorPosition `json:"cursor_position"`
	LastActivity time.Time      `json:"last_activity"`
	Active       bool           `json:"is_active"`
}

// Operation is a single entry in a document's append-only audit log.
type Operation struct {
	OperationID string    `json:"operation_id"`
	DocumentID  string    `json:"document_id"`
	AgentID     string    `json:"agent_id"`
	Type        string    `json:"operation_type"`
	Timestamp   time.Time `json:"timestamp"`
}

type lineLock struct {
	agentID   string
	acquired  time.Time
}

// Document is a line-addressed, collaboratively edited text document
// with per-line authorship, advisory locking, and comments.
type Document struct {
	ID           string
	Name         string
	Creator      string
	CreatedAt    time.Time
	LastModified time.Time
	Version      int

	mu sync.Mutex

	Content     []string
	LineAuthors map[int]string // line_number -> agent_id
	locks       map[int]*lineLock
	Comments    map[int][]*Comment // line_number -> comments
	Presence    map[string]*Presence
	Permissions map[string]string // agent_id -> "read_only" | "read_write" | "admin"
	Active      map[string]struct{}
	History     []*Operation
}

// NewDocument creates a document, splitting initialContent on
// newlines and attributing every starting line to creatorID.
func NewDocument(id, name, creatorID, initialContent string) *Document {
	content := []string{""}
	if initialContent != "" {
		content = strings.Split(initialContent, "\n")
	}
	authors := make(map[int]string, len(content))
	for i := range content {
		authors[i+1] = creatorID
	}
	now := time.Now()
	return &Document{
		ID:           id,
		Name:         name,
		Creator:      creatorID,
		CreatedAt:    now,
		LastModified: now,
		Version:      1,
		Content:      content,
		LineAuthors:  authors,
		locks:        make(map[int]*lineLock),
		Comments:     make(map[int][]*Comment),
		Presence:     make(map[string]*Presence),
		Permissions:  make(map[string]string),
		Active:       make(map[string]struct{}),
	}
}

// addAgent grants permission and marks the agent active. Caller holds doc.mu.
func (d *Document) addAgent(agentID, permission string) {
	d.Permissions[agentID] = permission
	d.Active[agentID] = struct{}{}
	d.Presence[agentID] = &Presence{
		AgentID:      agentID,
		Cursor:       CursorPosition{Line: 1, Column: 1},
		LastActivity: time.Now(),
		Active:       true,
	}
}

func (d *Document) removeAgent(agentID string) {
	delete(d.Active, agentID)
	if p, ok := d.Presence[agentID]; ok {
		p.Active = false
	}
}

// hasPermission reports whether agentID may perform operation
// ("read", "write", "comment", or "admin").
func (d *Document) hasPermission(agentID, operation string) bool {
	permission, ok := d.Permissions[agentID]
	if !ok {
		return false
	}
	switch permission {
	case "read_only":
		return operation == "read" || operation == "comment"
	case "read_write", "admin":
		return true
	default:
		return false
	}
}

func (d *Document) updatePresence(agentID string, cursor *CursorPosition) {
	p, ok := d.Presence[agentID]
	if !ok {
		p = &Presence{AgentID: agentID}
		d.Presence[agentID] = p
	}
	p.LastActivity = time.Now()
	p.Active = true
	if cursor != nil {
		p.Cursor = *cursor
	}
}

func (d *Document) recordOperation(agentID, opType string) *Operation {
	op := &Operation{
		OperationID: uuid.NewString(),
		DocumentID:  d.ID,
		AgentID:     agentID,
		Type:        opType,
		Timestamp:   time.Now(),
	}
	d.Version++
	d.LastModified = op.Timestamp
	d.History = append(d.History, op)
	d.updatePresence(agentID, nil)
	return op
}

// insertLines inserts content at lineNumber (1-based, may equal
// len(Content)+1 to append).
func (d *Document) insertLines(agentID string, lineNumber int, content []string) (*Operation, error) {
	if lineNumber < 1 || lineNumber > len(d.Content)+1 {
		return nil, fmt.Errorf("invalid line number: %d", lineNumber)
	}
	insertIndex := lineNumber - 1
	d.Content = append(d.Content[:insertIndex], append(append([]string{}, content...), d.Content[insertIndex:]...)...)
	op := d.recordOperation(agentID, "insert_lines")
	d.shiftCommentsAfter(lineNumber-1, len(content))
	lines := make([]int, 0, len(d.LineAuthors))
	for line := range d.LineAuthors {
		if line >= lineNumber && len(content) > 0 {
			lines = append(lines, line)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(lines)))
	for _, line := range lines {
		d.LineAuthors[line+len(content)] = d.LineAuthors[line]
		delete(d.LineAuthors, line)
	}
	for i := range content {
		d.LineAuthors[lineNumber+i] = agentID
	}
	return op, nil
}

// removeLines deletes the inclusive [startLine, endLine] range.
func (d *Document) removeLines(agentID string, startLine, endLine int) (*Operation, error) {
	if startLine < 1 || endLine < 1 || startLine > endLine {
		return nil, fmt.Errorf("invalid line range: %d-%d", startLine, endLine)
	}
	if startLine > len(d.Content) || endLine > len(d.Content) {
		return nil, fmt.Errorf("line range exceeds document length: %d", len(d.Content))
	}
	for line := startLine; line <= endLine; line++ {
		delete(d.Comments, line)
		delete(d.LineAuthors, line)
	}
	startIndex, endIndex := startLine-1, endLine-1
	d.Content = append(d.Content[:startIndex], d.Content[endIndex+1:]...)
	if len(d.Content) == 0 {
		d.Content = []string{""}
	}
	op := d.recordOperation(agentID, "remove_lines")
	linesRemoved := endLine - startLine + 1
	d.shiftCommentsAfter(endLine, -linesRemoved)
	lines := make([]int, 0, len(d.LineAuthors))
	for line := range d.LineAuthors {
		if line > endLine {
			lines = append(lines, line)
		}
	}
	sort.Ints(lines)
	for _, line := range lines {
		d.LineAuthors[line-linesRemoved] = d.LineAuthors[line]
		delete(d.LineAuthors, line)
	}
	return op, nil
}

// replaceLines replaces the inclusive [startLine, endLine] range with
// content, allowed to grow or shrink the document and to append past
// the current end (startLine == len(Content)+1).
func (d *Document) replaceLines(agentID string, startLine, endLine int, content []string) (*Operation, error) {
	if startLine < 1 || endLine < 1 || startLine > endLine {
		return nil, fmt.Errorf("invalid line range: %d-%d", startLine, endLine)
	}
	if startLine > len(d.Content)+1 {
		return nil, fmt.Errorf("start line %d exceeds document length + 1: %d", startLine, len(d.Content)+1)
	}

	var locked []string
	upper := endLine + 1
	if upper > len(d.Content)+1 {
		upper = len(d.Content) + 1
	}
	for line := startLine; line < upper; line++ {
		if d.isLineLockedByOther(agentID, line) {
			locked = append(locked, fmt.Sprintf("line %d (locked by %s)", line, d.locks[line].agentID))
		}
	}
	if len(locked) > 0 {
		return nil, fmt.Errorf("cannot edit locked lines: %s", strings.Join(locked, ", "))
	}

	for line := startLine; line <= endLine; line++ {
		delete(d.Comments, line)
	}

	startIndex, endIndex := startLine-1, endLine-1
	if endIndex >= len(d.Content) {
		d.Content = append(d.Content[:startIndex], content...)
	} else {
		d.Content = append(d.Content[:startIndex], append(append([]string{}, content...), d.Content[endIndex+1:]...)...)
	}

	for line := startLine; line <= endLine; line++ {
		delete(d.LineAuthors, line)
	}
	for i := range content {
		d.LineAuthors[startLine+i] = agentID
	}

	linesAdded := len(content)
	linesRemoved := endLine - startLine + 1
	shift := linesAdded - linesRemoved
	if shift != 0 {
		old := make(map[int]string, len(d.LineAuthors))
		for k, v := range d.LineAuthors {
			old[k] = v
		}
		lines := make([]int, 0, len(old))
		for line := range old {
			lines = append(lines, line)
		}
		sort.Sort(sort.Reverse(sort.IntSlice(lines)))
		for _, line := range lines {
			if line > endLine {
				newLine := line + shift
				if newLine > 0 {
					d.LineAuthors[newLine] = old[line]
				}
				delete(d.LineAuthors, line)
			}
		}
	}

	op := d.recordOperation(agentID, "replace_lines")
	if shift != 0 {
		d.shiftCommentsAfter(endLine, shift)
	}
	return op, nil
}

func (d *Document) addComment(agentID string, lineNumber int, text string) (*Comment, error) {
	if lineNumber < 1 || lineNumber > len(d.Content) {
		return nil, fmt.Errorf("invalid line number: %d", lineNumber)
	}
	comment := &Comment{
		CommentID:  uuid.NewString(),
		LineNumber: lineNumber,
		AgentID:    agentID,
		Text:       text,
		CreatedAt:  time.Now(),
	}
	d.Comments[lineNumber] = append(d.Comments[lineNumber], comment)
	d.LastModified = comment.CreatedAt
	d.updatePresence(agentID, nil)
	return comment, nil
}

func (d *Document) removeComment(agentID, commentID string) error {
	for line, comments := range d.Comments {
		for i, c := range comments {
			if c.CommentID != commentID {
				continue
			}
			if c.AgentID != agentID && !d.hasPermission(agentID, "admin") {
				return fmt.Errorf("agent can only remove their own comments")
			}
			comments = append(comments[:i], comments[i+1:]...)
			if len(comments) == 0 {
				delete(d.Comments, line)
			} else {
				d.Comments[line] = comments
			}
			d.LastModified = time.Now()
			d.updatePresence(agentID, nil)
			return nil
		}
	}
	return fmt.Errorf("comment not found: %s", commentID)
}

// shiftCommentsAfter moves every comment on a line after lineNumber
// by shift, renumbering the comments in place and dropping any that
// would land on a non-positive line.
func (d *Document) shiftCommentsAfter(lineNumber, shift int) {
	if shift == 0 {
		return
	}
	shifted := make(map[int][]*Comment, len(d.Comments))
	for line, comments := range d.Comments {
		if line <= lineNumber {
			shifted[line] = comments
			continue
		}
		newLine := line + shift
		if newLine <= 0 {
			continue
		}
		for _, c := range comments {
			c.LineNumber = newLine
		}
		shifted[newLine] = comments
	}
	d.Comments = shifted
}

// activeLineLocks evaluates and evicts expired locks, returning the
// surviving line_number -> agent_id map.
func (d *Document) activeLineLocks() map[int]string {
	now := time.Now()
	active := make(map[int]string, len(d.locks))
	for line, lock := range d.locks {
		if now.Sub(lock.acquired) > LockTimeout {
			delete(d.locks, line)
			continue
		}
		active[line] = lock.agentID
	}
	return active
}

func (d *Document) isLineLockedByOther(agentID string, lineNumber int) bool {
	lock, ok := d.locks[lineNumber]
	if !ok {
		return false
	}
	if lock.agentID == agentID {
		return false
	}
	if time.Since(lock.acquired) > LockTimeout {
		delete(d.locks, lineNumber)
		return false
	}
	return true
}

func (d *Document) acquireLineLock(agentID string, lineNumber int) bool {
	if lineNumber < 1 || lineNumber > len(d.Content) {
		return false
	}
	if lock, ok := d.locks[lineNumber]; ok {
		if lock.agentID == agentID {
			lock.acquired = time.Now()
			return true
		}
		if time.Since(lock.acquired) <= LockTimeout {
			return false
		}
	}
	d.locks[lineNumber] = &lineLock{agentID: agentID, acquired: time.Now()}
	return true
}

func (d *Document) releaseLineLock(agentID string, lineNumber int) bool {
	lock, ok := d.locks[lineNumber]
	if !ok {
		return true
	}
	if lock.agentID != agentID {
		return false
	}
	delete(d.locks, lineNumber)
	return true
}

func (d *Document) releaseAllAgentLocks(agentID string) int {
	released := 0
	for line, lock := range d.locks {
		if lock.agentID == agentID {
			delete(d.locks, line)
			released++
		}
	}
	return released
}
