package protocol

import "time"

// Version is the only envelope version exec handlers speak.
const Version = 1

// WorkerRef identifies a worker handed to an exec handler.
type WorkerRef struct {
	Index    int    `json:"index"`
	Identity string `json:"identity"`
	Kind     string `json:"kind,omitempty"`
}

// Request is written to the handler process on stdin.
type Request struct {
	Protocol   int            `json:"protocol"`
	JobID      string         `json:"job_id"`
	Type       string         `json:"type"`
	Multi      bool           `json:"multi"`
	Args       any            `json:"args"`
	Workers    []WorkerRef    `json:"workers"`
	Config     map[string]any `json:"config"`
	DeadlineAt time.Time      `json:"deadline_at"`
}

// Response is read from the handler process on stdout.
type Response struct {
	Status string     `json:"status"` // ok | error
	Error  string     `json:"error,omitempty"`
	Result any        `json:"result,omitempty"`
	Logs   []LogEntry `json:"logs,omitempty"`
}

type LogEntry struct {
	Level   string `json:"level"` // info | warn | error | debug
	Message string `json:"message"`
}
