package jobs

import (
	"time"

	"github.com/MimeLyc/findoc-analyzer/internal/analysis"
)

type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

func (s State) Valid() bool {
	switch s {
	case StateQueued, StateRunning, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Job is one submitted analysis. Result is set only once the job completed,
// Error only once it failed.
type Job struct {
	ID        string          `json:"id"`
	Status    State           `json:"status"`
	Query     string          `json:"query"`
	FilePath  string          `json:"file_path"`
	Result    analysis.Report `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Messages recorded on failed jobs that the runner produces itself.
const (
	MsgInterrupted      = "analysis interrupted"
	MsgPersistResult    = "failed to persist analysis result"
	MsgAnalysisTimedOut = "analysis timed out"
)
