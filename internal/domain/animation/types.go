package animation

import "strings"

type Status string

const (
	StatusCreated   Status = "created"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

var validStatuses = []Status{StatusCreated, StatusActive, StatusPaused, StatusCompleted, StatusError}

// ParseStatus accepts only the exact lower-case wire values.
func ParseStatus(raw string) (Status, bool) {
	for _, s := range validStatuses {
		if raw == string(s) {
			return s, true
		}
	}
	return "", false
}

type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vector3) Add(d Vector3) Vector3 {
	return Vector3{X: v.X + d.X, Y: v.Y + d.Y, Z: v.Z + d.Z}
}

var (
	ZeroVector = Vector3{}
	UnitScale  = Vector3{X: 1, Y: 1, Z: 1}
)

type Entity struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	Position Vector3        `json:"position"`
	Rotation Vector3        `json:"rotation"`
	Scale    Vector3        `json:"scale"`
	Metadata map[string]any `json:"metadata"`
}

type Session struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	CreatedAt       int64          `json:"createdAt"`
	UpdatedAt       int64          `json:"updatedAt"`
	Status          Status         `json:"status"`
	ActiveEntityIDs []string       `json:"activeEntityIds"`
	Metadata        map[string]any `json:"metadata"`
}

type Command struct {
	ID        string         `json:"id"`
	EntityID  string         `json:"characterId"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params"`
	Duration  *float64       `json:"duration,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

func (c Command) NormalizedAction() string {
	return strings.ToLower(strings.TrimSpace(c.Action))
}

type LogEntry struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Timestamp int64          `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SessionState is the full snapshot sent on connect and served by /state.
type SessionState struct {
	Session        Session    `json:"session"`
	CommandHistory []Command  `json:"commandHistory"`
	Clients        []string   `json:"clients"`
	Logs           []LogEntry `json:"logs"`
}
