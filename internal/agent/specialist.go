// Package agent runs one LLM specialist through a tool-calling conversation
// until it produces a final answer.
package agent

import (
	"context"
	"errors"

	"github.com/MimeLyc/findoc-analyzer/internal/llm"
	"github.com/MimeLyc/findoc-analyzer/internal/tools"
)

const defaultMaxRounds = 10

// ErrNoFinalAnswer means the model kept calling tools after it was told to answer.
var ErrNoFinalAnswer = errors.New("specialist gave no final answer")

// ChatClient is the part of llm.Client a specialist needs.
type ChatClient interface {
	ChatCompletionWithTools(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition, opts *llm.ChatCompletionOptions) (*llm.ChatResponse, error)
}

// Brief is one piece of work handed to a specialist.
type Brief struct {
	// Role names the specialist in logs.
	Role string
	// Instructions become the system message. Empty means none.
	Instructions string
	Prompt       string
	// MaxRounds overrides the specialist's own limit when positive.
	MaxRounds int
}

// Outcome is what a finished conversation produced.
type Outcome struct {
	Answer string
	Steps  []Step
	// Rounds counts LLM calls.
	Rounds int
	Tokens int
}

// Step records one tool call the model made.
type Step struct {
	Tool   string
	Input  string
	Output string
	Failed bool
}

// FailedSteps counts tool calls that came back as errors.
func (o *Outcome) FailedSteps() int {
	n := 0
	for _, s := range o.Steps {
		if s.Failed {
			n++
		}
	}
	return n
}

// Specialist pairs a chat client with the tools it may call. It keeps no
// per-conversation state and can serve concurrent briefs.
type Specialist struct {
	client    ChatClient
	tools     *tools.Registry
	maxRounds int
}

// NewSpecialist builds a specialist. A nil registry offers no tools and a
// non-positive maxRounds falls back to 10.
func NewSpecialist(client ChatClient, registry *tools.Registry, maxRounds int) *Specialist {
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	return &Specialist{
		client:    client,
		tools:     registry,
		maxRounds: maxRounds,
	}
}

func (s *Specialist) Run(ctx context.Context, brief Brief) (*Outcome, error) {
	rounds := s.maxRounds
	if brief.MaxRounds > 0 {
		rounds = brief.MaxRounds
	}
	c := &conversation{
		client:    s.client,
		tools:     s.tools,
		maxRounds: rounds,
		role:      brief.Role,
	}
	return c.run(ctx, brief)
}
