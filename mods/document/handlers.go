package document

import (
	"github.com/openagents/network/internal/event"
	"github.com/openagents/network/internal/modpipeline"
)

func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getInt(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

func getBool(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func getStringSlice(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func getStringMap(m map[string]any, key string) map[string]string {
	raw, ok := m[key].(map[string]any)
	if !ok {
		return map[string]string{}
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func respond(success bool, code event.ErrorCode, message string, data map[string]any) modpipeline.Result {
	return modpipeline.Result{
		Verdict: modpipeline.Respond,
		Response: &event.EventResponse{
			Success:   success,
			Message:   message,
			ErrorCode: code,
			Data:      data,
		},
	}
}

func respondErr(code event.ErrorCode, err error) modpipeline.Result {
	return respond(false, code, err.Error(), nil)
}

func (m *Mod) handleCreate(e *event.Event) modpipeline.Result {
	name := getString(e.Payload, "document_name")
	if name == "" {
		return respond(false, event.ErrInvalidEvent, "document_name is required", nil)
	}

	docID := newDocumentID()
	doc := NewDocument(docID, name, e.SourceID, getString(e.Payload, "initial_content"))
	for agentID, perm := range getStringMap(e.Payload, "access_permissions") {
		doc.Permissions[agentID] = perm
	}

	doc.mu.Lock()
	doc.addAgent(e.SourceID, "admin")
	doc.mu.Unlock()

	m.mu.Lock()
	m.documents[docID] = doc
	if m.sessions[e.SourceID] == nil {
		m.sessions[e.SourceID] = make(map[string]struct{})
	}
	m.sessions[e.SourceID][docID] = struct{}{}
	m.mu.Unlock()

	return respond(true, "", "created", map[string]any{"document_id": docID})
}

func (m *Mod) lookup(docID string) (*Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[docID]
	return doc, ok
}

func (m *Mod) handleOpen(e *event.Event) modpipeline.Result {
	docID := getString(e.Payload, "document_id")
	doc, ok := m.lookup(docID)
	if !ok {
		return respond(false, event.ErrInvalidEvent, "document not found: "+docID, nil)
	}

	doc.mu.Lock()
	defer doc.mu.Unlock()
	if !doc.hasPermission(e.SourceID, "read") {
		return respond(false, event.ErrModRejected, "agent does not have permission to access this document", nil)
	}
	permission, ok := doc.Permissions[e.SourceID]
	if !ok {
		permission = "read_only"
	}
	doc.addAgent(e.SourceID, permission)

	m.mu.Lock()
	if m.sessions[e.SourceID] == nil {
		m.sessions[e.SourceID] = make(map[string]struct{})
	}
	m.sessions[e.SourceID][docID] = struct{}{}
	m.mu.Unlock()

	m.broadcastPresence(doc, e.SourceID)

	return respond(true, "", "opened", documentContentPayload(doc, true, true))
}

func (m *Mod) handleClose(e *event.Event) modpipeline.Result {
	docID := getString(e.Payload, "document_id")
	if doc, ok := m.lookup(docID); ok {
		doc.mu.Lock()
		doc.removeAgent(e.SourceID)
		doc.mu.Unlock()
		m.broadcastPresence(doc, e.SourceID)
	}
	m.mu.Lock()
	delete(m.sessions[e.SourceID], docID)
	m.mu.Unlock()
	return respond(true, "", "closed", nil)
}

func (m *Mod) handleInsertLines(e *event.Event) modpipeline.Result {
	docID := getString(e.Payload, "document_id")
	doc, ok := m.lookup(docID)
	if !ok {
		return respond(false, event.ErrInvalidEvent, "document not found: "+docID, nil)
	}
	lineNumber := getInt(e.Payload, "line_number", 0)
	content := getStringSlice(e.Payload, "content")

	doc.mu.Lock()
	if !doc.hasPermission(e.SourceID, "write") {
		doc.mu.Unlock()
		return respond(false, event.ErrModRejected, "agent does not have write permission", nil)
	}
	op, err := doc.insertLines(e.SourceID, lineNumber, content)
	doc.mu.Unlock()
	if err != nil {
		return respondErr(event.ErrInvalidEvent, err)
	}

	m.broadcastOperation(doc, e.SourceID, "insert_lines", e.Payload)
	return respond(true, "", "inserted", map[string]any{"operation_id": op.OperationID, "version": doc.Version})
}

func (m *Mod) handleRemoveLines(e *event.Event) modpipeline.Result {
	docID := getString(e.Payload, "document_id")
	doc, ok := m.lookup(docID)
	if !ok {
		return respond(false, event.ErrInvalidEvent, "document not found: "+docID, nil)
	}
	start := getInt(e.Payload, "start_line", 0)
	end := getInt(e.Payload, "end_line", 0)

	doc.mu.Lock()
	if !doc.hasPermission(e.SourceID, "write") {
		doc.mu.Unlock()
		return respond(false, event.ErrModRejected, "agent does not have write permission", nil)
	}
	op, err := doc.removeLines(e.SourceID, start, end)
	doc.mu.Unlock()
	if err != nil {
		return respondErr(event.ErrInvalidEvent, err)
	}

	m.broadcastOperation(doc, e.SourceID, "remove_lines", e.Payload)
	return respond(true, "", "removed", map[string]any{"operation_id": op.OperationID, "version": doc.Version})
}

func (m *Mod) handleReplaceLines(e *event.Event) modpipeline.Result {
	docID := getString(e.Payload, "document_id")
	doc, ok := m.lookup(docID)
	if !ok {
		return respond(false, event.ErrInvalidEvent, "document not found: "+docID, nil)
	}
	start := getInt(e.Payload, "start_line", 0)
	end := getInt(e.Payload, "end_line", 0)
	content := getStringSlice(e.Payload, "content")

	doc.mu.Lock()
	if !doc.hasPermission(e.SourceID, "write") {
		doc.mu.Unlock()
		return respond(false, event.ErrModRejected, "agent does not have write permission", nil)
	}
	op, err := doc.replaceLines(e.SourceID, start, end, content)
	doc.mu.Unlock()
	if err != nil {
		return respondErr(event.ErrInvalidEvent, err)
	}

	m.broadcastOperation(doc, e.SourceID, "replace_lines", e.Payload)
	return respond(true, "", "replaced", map[string]any{"operation_id": op.OperationID, "version": doc.Version})
}

func (m *Mod) handleAddComment(e *event.Event) modpipeline.Result {
	docID := getString(e.Payload, "document_id")
	doc, ok := m.lookup(docID)
	if !ok {
		return respond(false, event.ErrInvalidEvent, "document not found: "+docID, nil)
	}
	lineNumber := getInt(e.Payload, "line_number", 0)
	text := getString(e.Payload, "comment_text")

	doc.mu.Lock()
	if !doc.hasPermission(e.SourceID, "comment") {
		doc.mu.Unlock()
		return respond(false, event.ErrModRejected, "agent does not have comment permission", nil)
	}
	comment, err := doc.addComment(e.SourceID, lineNumber, text)
	doc.mu.Unlock()
	if err != nil {
		return respondErr(event.ErrInvalidEvent, err)
	}

	m.broadcastOperation(doc, e.SourceID, "add_comment", e.Payload)
	return respond(true, "", "commented", map[string]any{"comment_id": comment.CommentID})
}

func (m *Mod) handleRemoveComment(e *event.Event) modpipeline.Result {
	docID := getString(e.Payload, "document_id")
	doc, ok := m.lookup(docID)
	if !ok {
		return respond(false, event.ErrInvalidEvent, "document not found: "+docID, nil)
	}
	commentID := getString(e.Payload, "comment_id")

	doc.mu.Lock()
	err := doc.removeComment(e.SourceID, commentID)
	doc.mu.Unlock()
	if err != nil {
		return respondErr(event.ErrModRejected, err)
	}

	m.broadcastOperation(doc, e.SourceID, "remove_comment", e.Payload)
	return respond(true, "", "comment removed", map[string]any{"comment_id": commentID})
}

func (m *Mod) handleUpdateCursor(e *event.Event) modpipeline.Result {
	docID := getString(e.Payload, "document_id")
	doc, ok := m.lookup(docID)
	if !ok {
		return respond(false, event.ErrInvalidEvent, "document not found: "+docID, nil)
	}
	cursor := CursorPosition{
		Line:   getInt(e.Payload, "line_number", 1),
		Column: getInt(e.Payload, "column_number", 1),
	}
	doc.mu.Lock()
	doc.updatePresence(e.SourceID, &cursor)
	doc.mu.Unlock()

	m.broadcastPresence(doc, e.SourceID)
	return respond(true, "", "cursor updated", nil)
}

func (m *Mod) handleAcquireLock(e *event.Event) modpipeline.Result {
	docID := getString(e.Payload, "document_id")
	doc, ok := m.lookup(docID)
	if !ok {
		return respond(false, event.ErrInvalidEvent, "document not found: "+docID, nil)
	}
	lineNumber := getInt(e.Payload, "line_number", 0)

	doc.mu.Lock()
	success := doc.acquireLineLock(e.SourceID, lineNumber)
	var lockedBy string
	if !success {
		if lock, ok := doc.locks[lineNumber]; ok {
			lockedBy = lock.agentID
		}
	}
	doc.mu.Unlock()

	if success {
		m.broadcastLockUpdate(doc, e.SourceID)
		return respond(true, "", "lock acquired", map[string]any{"line_number": lineNumber})
	}
	return respond(false, event.ErrModRejected, "line is locked", map[string]any{"line_number": lineNumber, "locked_by": lockedBy})
}

func (m *Mod) handleReleaseLock(e *event.Event) modpipeline.Result {
	docID := getString(e.Payload, "document_id")
	doc, ok := m.lookup(docID)
	if !ok {
		return respond(false, event.ErrInvalidEvent, "document not found: "+docID, nil)
	}
	lineNumber := getInt(e.Payload, "line_number", 0)

	doc.mu.Lock()
	success := doc.releaseLineLock(e.SourceID, lineNumber)
	doc.mu.Unlock()

	if success {
		m.broadcastLockUpdate(doc, e.SourceID)
		return respond(true, "", "lock released", map[string]any{"line_number": lineNumber})
	}
	return respond(false, event.ErrModRejected, "cannot release a lock held by another agent", map[string]any{"line_number": lineNumber})
}

func (m *Mod) handleGetContent(e *event.Event) modpipeline.Result {
	docID := getString(e.Payload, "document_id")
	doc, ok := m.lookup(docID)
	if !ok {
		return respond(false, event.ErrInvalidEvent, "document not found: "+docID, nil)
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()
	if !doc.hasPermission(e.SourceID, "read") {
		return respond(false, event.ErrModRejected, "agent does not have read permission", nil)
	}
	includeComments := getBool(e.Payload, "include_comments")
	includePresence := getBool(e.Payload, "include_presence")
	return respond(true, "", "ok", documentContentPayload(doc, includeComments, includePresence))
}

func (m *Mod) handleGetHistory(e *event.Event) modpipeline.Result {
	docID := getString(e.Payload, "document_id")
	doc, ok := m.lookup(docID)
	if !ok {
		return respond(false, event.ErrInvalidEvent, "document not found: "+docID, nil)
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()
	if !doc.hasPermission(e.SourceID, "read") {
		return respond(false, event.ErrModRejected, "agent does not have read permission", nil)
	}
	offset := getInt(e.Payload, "offset", 0)
	limit := getInt(e.Payload, "limit", 50)

	total := len(doc.History)
	start := clamp(total-offset-limit, 0, total)
	end := clamp(total-offset, 0, total)

	ops := make([]*Operation, 0, end-start)
	for i := end - 1; i >= start; i-- {
		ops = append(ops, doc.History[i])
	}
	return respond(true, "", "ok", map[string]any{"operations": ops, "total_operations": total})
}

func (m *Mod) handleGetPresence(e *event.Event) modpipeline.Result {
	docID := getString(e.Payload, "document_id")
	doc, ok := m.lookup(docID)
	if !ok {
		return respond(false, event.ErrInvalidEvent, "document not found: "+docID, nil)
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()
	if !doc.hasPermission(e.SourceID, "read") {
		return respond(false, event.ErrModRejected, "agent does not have read permission", nil)
	}
	presence := make([]*Presence, 0, len(doc.Presence))
	for _, p := range doc.Presence {
		presence = append(presence, p)
	}
	return respond(true, "", "ok", map[string]any{"agent_presence": presence})
}

func (m *Mod) handleList(e *event.Event) modpipeline.Result {
	includeClosed := getBool(e.Payload, "include_closed")

	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := make([]map[string]any, 0, len(m.documents))
	for id, doc := range m.documents {
		doc.mu.Lock()
		if !doc.hasPermission(e.SourceID, "read") {
			doc.mu.Unlock()
			continue
		}
		_, active := doc.Active[e.SourceID]
		if includeClosed || active {
			docs = append(docs, map[string]any{
				"document_id":    id,
				"name":           doc.Name,
				"creator":        doc.Creator,
				"version":        doc.Version,
				"last_modified":  doc.LastModified,
				"active_agents":  activeAgentList(doc),
				"permission":     doc.Permissions[e.SourceID],
			})
		}
		doc.mu.Unlock()
	}
	return respond(true, "", "ok", map[string]any{"documents": docs})
}

func documentContentPayload(doc *Document, includeComments, includePresence bool) map[string]any {
	var comments []*Comment
	if includeComments {
		for _, cs := range doc.Comments {
			comments = append(comments, cs...)
		}
	}
	var presence []*Presence
	if includePresence {
		for _, p := range doc.Presence {
			presence = append(presence, p)
		}
	}
	return map[string]any{
		"document_id":  doc.ID,
		"content":      append([]string{}, doc.Content...),
		"comments":     comments,
		"presence":     presence,
		"version":      doc.Version,
		"line_authors": doc.LineAuthors,
		"line_locks":   doc.activeLineLocks(),
	}
}

func activeAgentList(doc *Document) []string {
	out := make([]string, 0, len(doc.Active))
	for id := range doc.Active {
		out = append(out, id)
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// broadcastOperation notifies every other active agent that an
// operation occurred, carrying the original request payload so peers
// can apply the same edit locally.
func (m *Mod) broadcastOperation(doc *Document, sourceID, opType string, payload map[string]any) {
	m.fanOut(doc, sourceID, eventPrefix+"operation.broadcast", map[string]any{
		"document_id":    doc.ID,
		"operation_type": opType,
		"payload":        payload,
	})
}

func (m *Mod) broadcastPresence(doc *Document, changedAgentID string) {
	doc.mu.Lock()
	presence := make([]*Presence, 0, len(doc.Presence))
	for _, p := range doc.Presence {
		presence = append(presence, p)
	}
	doc.mu.Unlock()
	m.fanOut(doc, changedAgentID, eventPrefix+"presence.broadcast", map[string]any{
		"document_id":     doc.ID,
		"agent_presence":  presence,
	})
}

func (m *Mod) broadcastLockUpdate(doc *Document, sourceID string) {
	doc.mu.Lock()
	locks := doc.activeLineLocks()
	doc.mu.Unlock()
	m.fanOut(doc, sourceID, eventPrefix+"lock.broadcast", map[string]any{
		"document_id": doc.ID,
		"line_locks":  locks,
	})
}

func (m *Mod) fanOut(doc *Document, sourceID, eventName string, payload map[string]any) {
	if m.deps.Emit == nil {
		return
	}
	doc.mu.Lock()
	recipients := make([]string, 0, len(doc.Active))
	for agentID := range doc.Active {
		if agentID != sourceID {
			recipients = append(recipients, agentID)
		}
	}
	doc.mu.Unlock()

	for _, agentID := range recipients {
		m.deps.Emit(&event.Event{
			EventName:       eventName,
			SourceID:        "shared_document",
			SourceType:      event.SourceMod,
			DestinationID:   "agent:" + agentID,
			RelevantMod:     m.Name(),
			RelevantAgentID: agentID,
			Payload:         payload,
		})
	}
}
