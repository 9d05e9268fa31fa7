package server

// Wire message kinds. Every exchange is newline-delimited JSON over one
// persistent, authenticated localhost connection.
const (
	TypeHello      = "hello"
	TypeWelcome    = "welcome"
	TypeSubmitTask = "submit_task"
	TypeAck        = "ack"
	TypeGetStatus  = "get_status"
	TypeStatus     = "status"
	TypeGetStats   = "get_stats"
	TypeStats      = "stats"
	TypeNavigate   = "navigate"
	TypeResults    = "results"
	TypeAuthNeeded = "auth_required"
	TypeProgress   = "progress"
	TypeDirChanged = "dir_changed"
	TypeShutdown   = "shutdown"
	TypeLinkDown   = "link_down"
	TypeError      = "error"
)

// Message is the single envelope for every request, reply and push. Fields
// irrelevant to a given kind stay empty and are omitted on the wire.
type Message struct {
	Type string `json:"type"`

	// hello / welcome
	Key       string `json:"key,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// task submission and status
	TaskID   string         `json:"task_id,omitempty"`
	Function string         `json:"function,omitempty"`
	Args     []any          `json:"args,omitempty"`
	Kwargs   map[string]any `json:"kwargs,omitempty"`

	// navigation
	Path    string         `json:"path,omitempty"`
	Files   []string       `json:"files,omitempty"`
	Dirs    []string       `json:"dirs,omitempty"`
	Details map[string]any `json:"details,omitempty"`

	// status/stats/progress payloads
	Data any `json:"data,omitempty"`

	Error string `json:"error,omitempty"`
}
