package analysis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/findoc-analyzer/internal/agent"
	"github.com/MimeLyc/findoc-analyzer/internal/tools"
	"github.com/MimeLyc/findoc-analyzer/pkg/log"
	"golang.org/x/sync/errgroup"
)

// Crew runs the roster's agent tasks against one document. Every Run builds
// its own agents, registries and prompts; the Crew itself holds only
// read-only collaborators and is safe for concurrent use.
type Crew struct {
	client        agent.ChatClient
	extractor     *TextExtractor
	roster        *Roster
	search        tools.Tool
	maxIterations int
}

type CrewOption func(*Crew)

// WithSearch offers a web search tool to tasks that list web_search.
func WithSearch(tool tools.Tool) CrewOption {
	return func(c *Crew) { c.search = tool }
}

// WithMaxIterations caps tool-calling rounds for roles without their own limit.
func WithMaxIterations(n int) CrewOption {
	return func(c *Crew) { c.maxIterations = n }
}

func NewCrew(client agent.ChatClient, extractor *TextExtractor, roster *Roster, opts ...CrewOption) (*Crew, error) {
	if client == nil {
		return nil, fmt.Errorf("crew requires an LLM client")
	}
	if extractor == nil {
		return nil, fmt.Errorf("crew requires a text extractor")
	}
	if roster == nil {
		var err error
		if roster, err = DefaultRoster(); err != nil {
			return nil, err
		}
	}
	c := &Crew{
		client:        client,
		extractor:     extractor,
		roster:        roster,
		maxIterations: 8,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Crew) Run(ctx context.Context, filePath, query string) (Report, error) {
	start := time.Now()

	doc, err := c.extractor.Extract(ctx, filePath)
	if err != nil {
		return nil, err
	}

	report, _, err := baseReport(doc)
	if err != nil {
		return nil, NewAnalysisError("Error building report", err)
	}

	var mu sync.Mutex
	outputs := make(map[string]string, len(c.roster.Tasks))

	for i, wave := range c.roster.Waves() {
		g, gctx := errgroup.WithContext(ctx)
		for _, task := range wave {
			g.Go(func() error {
				mu.Lock()
				prompt := c.buildPrompt(task, filePath, query, outputs)
				mu.Unlock()

				out, err := c.runTask(gctx, task, doc, prompt)
				if err != nil {
					return fmt.Errorf("%s task failed: %w", task.Section, err)
				}

				mu.Lock()
				outputs[task.Section] = out
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, NewAnalysisError(fmt.Sprintf("Agent wave %d failed", i+1), err)
		}
	}

	for section, out := range outputs {
		report[section] = out
	}

	if err := ValidateReport(report); err != nil {
		return nil, NewAnalysisError("Report failed validation", err)
	}

	log.Info("Crew finished %s: %d tasks in %s", filePath, len(outputs), time.Since(start).Round(time.Millisecond))
	return report, nil
}

func (c *Crew) runTask(ctx context.Context, task Task, doc *Document, prompt string) (string, error) {
	role, ok := c.roster.Role(task.Agent)
	if !ok {
		return "", fmt.Errorf("unknown agent %q", task.Agent)
	}

	registry, err := c.registryFor(task, doc)
	if err != nil {
		return "", err
	}

	maxIter := role.MaxIterations
	if maxIter <= 0 {
		maxIter = c.maxIterations
	}

	specialist := agent.NewSpecialist(c.client, registry, maxIter)
	res, err := specialist.Run(ctx, agent.Brief{
		Role:         task.Agent,
		Instructions: role.SystemPrompt(),
		Prompt:       prompt,
	})
	if err != nil {
		return "", err
	}

	out := strings.TrimSpace(res.Answer)
	if out == "" {
		return "", fmt.Errorf("agent %s returned an empty answer", task.Agent)
	}
	log.Debug("Task %s done: %d rounds, %d tool calls (%d failed), %d tokens",
		task.Section, res.Rounds, len(res.Steps), res.FailedSteps(), res.Tokens)
	return out, nil
}

func (c *Crew) registryFor(task Task, doc *Document) (*tools.Registry, error) {
	registry := tools.NewRegistry()
	bound := documentTools(doc)
	for _, name := range task.Tools {
		var tool tools.Tool
		if name == ToolWebSearch {
			if c.search == nil {
				continue
			}
			tool = c.search
		} else {
			tool = bound[name]
		}
		if tool == nil {
			return nil, fmt.Errorf("tool %q is not available", name)
		}
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// buildPrompt renders the task and appends the outputs of the tasks it depends on.
// Caller holds the outputs lock.
func (c *Crew) buildPrompt(task Task, filePath, query string, outputs map[string]string) string {
	description, expected := task.Render(filePath, query)

	var b strings.Builder
	b.WriteString(strings.TrimSpace(description))
	b.WriteString("\n\nExpected output:\n")
	b.WriteString(strings.TrimSpace(expected))

	for _, dep := range task.Context {
		fmt.Fprintf(&b, "\n\n## Context: %s\n%s", dep, outputs[dep])
	}
	return b.String()
}
