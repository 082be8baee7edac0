package a2arpc

import (
	"context"
	"errors"
	"sync"

	"github.com/openagents/network/internal/clock"
	"github.com/openagents/network/internal/event"
	"github.com/openagents/network/internal/modpipeline"
	"github.com/openagents/network/internal/router"
	"github.com/openagents/network/internal/topology"
)

// Config carries the transport's listen address, auth, and the
// AgentCard it serves for discovery.
type Config struct {
	ListenAddr string
	AuthToken  string
	Card       AgentCard
}

// service holds the Task table and the collaborators needed to turn
// JSON-RPC calls into Router.Route calls; kept separate from the HTTP
// plumbing in http.go so the method dispatch is testable without a
// real listener.
type service struct {
	cfg    Config
	router *router.Router
	topo   *topology.Topology
	mods   *modpipeline.Pipeline
	clk    clock.Clock
	ids    clock.IDGenerator

	mu    sync.RWMutex
	tasks map[string]*Task
}

func newService(cfg Config, r *router.Router, topo *topology.Topology, mods *modpipeline.Pipeline, clk clock.Clock, ids clock.IDGenerator) *service {
	return &service{cfg: cfg, router: r, topo: topo, mods: mods, clk: clk, ids: ids, tasks: make(map[string]*Task)}
}

func (s *service) now() float64 {
	return float64(s.clk.Now().UnixNano()) / 1e9
}

type messageSendParams struct {
	ContextID string         `json:"context_id"`
	TaskID    string         `json:"task_id"`
	ToAgentID string         `json:"to_agent_id"`
	Message   map[string]any `json:"message"`
}

func (s *service) messageSend(ctx context.Context, fromAgentID string, p messageSendParams) (*Task, *rpcError) {
	if p.ToAgentID == "" {
		return nil, invalidParams("to_agent_id is required")
	}

	s.mu.Lock()
	task, ok := s.tasks[p.TaskID]
	if !ok {
		taskID := p.TaskID
		if taskID == "" {
			taskID = s.ids.NewID()
		}
		contextID := p.ContextID
		if contextID == "" {
			contextID = s.ids.NewID()
		}
		task = &Task{
			TaskID:    taskID,
			ContextID: contextID,
			AgentID:   p.ToAgentID,
			Status:    TaskSubmitted,
			CreatedAt: s.now(),
		}
		s.tasks[task.TaskID] = task
	}
	if task.Status.Terminal() {
		s.mu.Unlock()
		return nil, taskNotCancellable("task has already reached a terminal state")
	}
	task.Status = TaskWorking
	task.Messages = append(task.Messages, p.Message)
	task.UpdatedAt = s.now()
	s.mu.Unlock()

	e := &event.Event{
		EventName:        "user.message",
		SourceID:         fromAgentID,
		SourceType:       event.SourceAgent,
		DestinationID:    "agent:" + p.ToAgentID,
		Payload:          p.Message,
		Metadata:         map[string]any{"task_id": task.TaskID, "context_id": task.ContextID},
		RequiresResponse: true,
	}
	if err := e.Validate(); err != nil {
		return nil, invalidParams(err.Error())
	}
	resp, err := s.router.Route(ctx, e)
	if err != nil {
		s.failTask(task.TaskID, err.Error())
		return nil, internalError(err.Error())
	}
	if resp != nil && !resp.Success {
		s.failTask(task.TaskID, resp.Message)
		return nil, internalError(resp.Message)
	}
	return s.completeTask(task.TaskID, resp), nil
}

// completeTask transitions a task to completed and records the
// routed EventResponse's data as its artifact (spec.md §4.6.3).
func (s *service) completeTask(taskID string, resp *event.EventResponse) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil
	}
	task.Status = TaskCompleted
	if resp != nil && resp.Data != nil {
		task.Artifacts = append(task.Artifacts, resp.Data)
	}
	task.UpdatedAt = s.now()
	return task.clone()
}

func (s *service) failTask(taskID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return
	}
	task.Status = TaskFailed
	task.Artifacts = append(task.Artifacts, map[string]any{"error": reason})
	task.UpdatedAt = s.now()
}

func (s *service) tasksGet(taskID string) (*Task, *rpcError) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, taskNotFound(taskID)
	}
	return task.clone(), nil
}

type tasksListParams struct {
	AgentID   string      `json:"agent_id"`
	ContextID string      `json:"context_id"`
	States    []TaskState `json:"states"`
}

func (s *service) tasksList(p tasksListParams) []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wantStates := make(map[TaskState]struct{}, len(p.States))
	for _, st := range p.States {
		wantStates[st] = struct{}{}
	}
	var out []*Task
	for _, task := range s.tasks {
		if p.AgentID != "" && task.AgentID != p.AgentID {
			continue
		}
		if p.ContextID != "" && task.ContextID != p.ContextID {
			continue
		}
		if len(wantStates) > 0 {
			if _, ok := wantStates[task.Status]; !ok {
				continue
			}
		}
		out = append(out, task.clone())
	}
	return out
}

func (s *service) tasksCancel(taskID string) (*Task, *rpcError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, taskNotFound(taskID)
	}
	if task.Status.Terminal() {
		return nil, taskNotCancellable(taskID)
	}
	task.Status = TaskCanceled
	task.UpdatedAt = s.now()
	return task.clone(), nil
}

type announceParams struct {
	AgentID      string         `json:"agent_id"`
	Metadata     map[string]any `json:"metadata"`
	Capabilities []string       `json:"capabilities"`
}

func (s *service) agentsAnnounce(p announceParams) *rpcError {
	if p.AgentID == "" {
		return invalidParams("agent_id is required")
	}
	ok, reason := s.topo.RegisterAgent(p.AgentID, p.Metadata, p.Capabilities, topology.Binding{Transport: "a2arpc"}, true)
	if !ok {
		return invalidParams(string(reason))
	}
	s.topo.MarkRemote(p.AgentID)
	s.mods.NotifyRegisterAgent(p.AgentID, p.Metadata)
	return nil
}

func (s *service) agentsWithdraw(agentID string) {
	s.topo.UnregisterAgent(agentID)
	s.mods.NotifyUnregisterAgent(agentID)
}

func (s *service) agentsList(capability string) []topology.AgentSummary {
	return s.topo.ListAgents(topology.AgentFilter{IncludeLocal: true, IncludeRemote: true, Capability: capability})
}

func (s *service) eventsSend(ctx context.Context, e *event.Event) (*event.EventResponse, *rpcError) {
	resp, err := s.router.Route(ctx, e)
	if err != nil {
		var invalid *event.InvalidEventError
		if errors.As(err, &invalid) {
			return nil, invalidParams(invalid.Error())
		}
		return nil, internalError(err.Error())
	}
	return resp, nil
}
