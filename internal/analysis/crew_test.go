package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MimeLyc/findoc-analyzer/internal/llm"
	"github.com/MimeLyc/findoc-analyzer/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatCall struct {
	system string
	user   string
	tools  []string
}

// fakeChat answers every task with its first prompt line. Tasks offered
// assess_risk call it once before answering.
type fakeChat struct {
	mu    sync.Mutex
	calls []chatCall
	err   error
}

func (f *fakeChat) ChatCompletionWithTools(ctx context.Context, messages []llm.Message, defs []llm.ToolDefinition, _ *llm.ChatCompletionOptions) (*llm.ChatResponse, error) {
	call := chatCall{}
	for _, m := range messages {
		switch m.Role {
		case "system":
			call.system = m.Content
		case "user":
			call.user = m.Content
		}
	}
	for _, d := range defs {
		call.tools = append(call.tools, d.Function.Name)
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	last := messages[len(messages)-1]
	if last.Role == "user" && contains(call.tools, ToolAssessRisk) {
		return &llm.ChatResponse{Choices: []llm.Choice{{
			FinishReason: "tool_calls",
			Message: llm.Message{Role: "assistant", ToolCalls: []llm.ToolCall{{
				ID: "call-risk", Type: "function",
				Function: llm.FunctionCall{Name: ToolAssessRisk, Arguments: "{}"},
			}}},
		}}}, nil
	}

	content := "answer: " + strings.SplitN(call.user, "\n", 2)[0]
	if last.Role == "tool" {
		content = "risk tool said: " + last.Content
	}
	return &llm.ChatResponse{Choices: []llm.Choice{{
		FinishReason: "stop",
		Message:      llm.Message{Role: "assistant", Content: content},
	}}}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type fakeSearch struct{}

func (fakeSearch) Name() string                { return ToolWebSearch }
func (fakeSearch) Description() string         { return "search" }
func (fakeSearch) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (fakeSearch) Execute(context.Context, json.RawMessage) (tools.ToolResult, error) {
	return tools.ToolResult{Content: "no news"}, nil
}

func newTestCrew(t *testing.T, chat *fakeChat, opts ...CrewOption) *Crew {
	t.Helper()
	crew, err := NewCrew(chat, NewTextExtractor("", &stubRunner{stdout: sampleText}), nil, opts...)
	require.NoError(t, err)
	return crew
}

func TestCrew_Run_ProducesAllSections(t *testing.T) {
	chat := &fakeChat{}
	crew := newTestCrew(t, chat)
	path := writePDF(t)

	report, err := crew.Run(context.Background(), path, "Should I invest in ACME?")
	require.NoError(t, err)

	for _, section := range []string{
		SectionDocument, SectionMetrics, SectionRiskIndicators, SectionVerification,
		SectionFinancial, SectionInvestment, SectionRiskAssessment, SectionSummary,
	} {
		assert.Contains(t, report, section)
	}
	assert.Equal(t, "answer: Carefully review the uploaded financial document to verify its authenticity and", report[SectionVerification])
	assert.Contains(t, report[SectionRiskAssessment], "risk tool said:")
	assert.Contains(t, report[SectionRiskAssessment], `"overall_risk": "Medium"`)

	// five tasks plus one extra round for the risk tool call
	require.Len(t, chat.calls, 6)
	assert.Contains(t, chat.calls[0].system, "Financial Document Verifier")
	assert.Contains(t, chat.calls[0].user, path)

	summary := chat.calls[5]
	assert.Contains(t, summary.user, "Should I invest in ACME?")
	for _, dep := range []string{SectionVerification, SectionFinancial, SectionInvestment, SectionRiskAssessment} {
		assert.Contains(t, summary.user, "## Context: "+dep)
	}
	assert.Empty(t, summary.tools)
}

func TestCrew_Run_WebSearchOnlyWhenConfigured(t *testing.T) {
	chat := &fakeChat{}
	_, err := newTestCrew(t, chat).Run(context.Background(), writePDF(t), "q")
	require.NoError(t, err)
	for _, c := range chat.calls {
		assert.NotContains(t, c.tools, ToolWebSearch)
	}

	chat = &fakeChat{}
	_, err = newTestCrew(t, chat, WithSearch(fakeSearch{})).Run(context.Background(), writePDF(t), "q")
	require.NoError(t, err)
	var offered int
	for _, c := range chat.calls {
		if contains(c.tools, ToolWebSearch) {
			offered++
		}
	}
	assert.Positive(t, offered)
}

func TestCrew_Run_LLMFailureIsAnalysisError(t *testing.T) {
	chat := &fakeChat{err: errors.New("upstream unavailable")}

	_, err := newTestCrew(t, chat).Run(context.Background(), writePDF(t), "q")
	require.Error(t, err)

	var aerr *AnalysisError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, "Agent wave 1 failed", aerr.Detail)
	assert.Contains(t, err.Error(), "upstream unavailable")
}

func TestCrew_Run_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestCrew(t, &fakeChat{}).Run(ctx, writePDF(t), "q")
	require.ErrorIs(t, err, context.Canceled)
}

func TestCrew_Run_ConcurrentRunsDoNotShareState(t *testing.T) {
	chat := &fakeChat{}
	crew := newTestCrew(t, chat)

	path := writePDF(t)
	var wg sync.WaitGroup
	reports := make([]Report, 4)
	errs := make([]error, 4)
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i], errs[i] = crew.Run(context.Background(), path, "query "+string(rune('A'+i)))
		}()
	}
	wg.Wait()

	for i := range reports {
		require.NoError(t, errs[i])
		assert.Contains(t, reports[i][SectionSummary], "answer:")
	}
	assert.Len(t, chat.calls, 24)
}

func TestNewCrew_RequiresCollaborators(t *testing.T) {
	_, err := NewCrew(nil, NewTextExtractor("", nil), nil)
	require.Error(t, err)
	_, err = NewCrew(&fakeChat{}, nil, nil)
	require.Error(t, err)
}
