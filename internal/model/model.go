// Package model defines the persistent entities shared by the store,
// the snapshot assembler, the delta publisher, and the WebSocket wire
// protocol. Entities never hold pointers to one another; relationships
// are expressed by id, and any "join" lives in the snapshot assembler.
package model

import "time"

// Room enumerates the physical locations an Agent can occupy.
type Room string

const (
	RoomPrivateOffice Room = "Private Office"
	RoomWarRoom       Room = "War Room"
	RoomDesks         Room = "Desks"
	RoomLounge        Room = "Lounge"
	RoomServerRoom    Room = "Server Room"
)

// ValidRoom reports whether r is one of the enumerated rooms.
func ValidRoom(r string) bool {
	switch Room(r) {
	case RoomPrivateOffice, RoomWarRoom, RoomDesks, RoomLounge, RoomServerRoom:
		return true
	}
	return false
}

// AgentStatus enumerates the lifecycle states of an Agent.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "Idle"
	AgentWorking    AgentStatus = "Working"
	AgentMeeting    AgentStatus = "Meeting"
	AgentError      AgentStatus = "Error"
	AgentClockedOut AgentStatus = "Clocked Out"
)

// ValidAgentStatus reports whether s is one of the enumerated statuses.
func ValidAgentStatus(s string) bool {
	switch AgentStatus(s) {
	case AgentIdle, AgentWorking, AgentMeeting, AgentError, AgentClockedOut:
		return true
	}
	return false
}

// TaskStatus enumerates the lifecycle states of a Task. Transitions are
// constrained by the dispatcher's state machine (see internal/dispatcher).
type TaskStatus string

const (
	TaskBacklog    TaskStatus = "Backlog"
	TaskInProgress TaskStatus = "In Progress"
	TaskReview     TaskStatus = "Review"
	TaskDone       TaskStatus = "Done"
	TaskBlocked    TaskStatus = "Blocked"
)

// ValidTaskStatus reports whether s is one of the enumerated statuses.
func ValidTaskStatus(s string) bool {
	switch TaskStatus(s) {
	case TaskBacklog, TaskInProgress, TaskReview, TaskDone, TaskBlocked:
		return true
	}
	return false
}

// Agent is a participant in the virtual office. updated_at is
// monotonically non-decreasing per agent; callers must never set it to
// a value earlier than the previously stored one.
type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	Room         Room      `json:"room"`
	Status       AgentStatus `json:"status"`
	CurrentTask  string    `json:"currentTask"`
	ThoughtChain string    `json:"thoughtChain"`
	TechStack    []string  `json:"techStack"`
	AvatarColor  string    `json:"avatarColor"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Task is a unit of work, optionally assigned to one or more agents.
type Task struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Status         TaskStatus `json:"status"`
	Priority       int        `json:"priority"`
	CreatedBy      string     `json:"createdBy"`
	AssignedAgents []string   `json:"assignedAgents"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// HasAssignee reports whether agentID is in the task's assignee set.
func (t *Task) HasAssignee(agentID string) bool {
	for _, a := range t.AssignedAgents {
		if a == agentID {
			return true
		}
	}
	return false
}

// Message is an append-only chat/delegation/status record.
type Message struct {
	ID          string    `json:"id"`
	FromAgent   string    `json:"fromAgent"`
	ToAgent     string    `json:"toAgent"`
	Content     string    `json:"content"`
	MessageType string    `json:"messageType"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ActivityEntry is an append-only audit record.
type ActivityEntry struct {
	ID        int64          `json:"id"`
	AgentID   string         `json:"agentId"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AgentCost is a per-agent token/cost aggregate.
type AgentCost struct {
	AgentID      string  `json:"agentId"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
}
