package agent

import (
	"context"
	"fmt"

	"github.com/MimeLyc/findoc-analyzer/internal/llm"
	"github.com/MimeLyc/findoc-analyzer/internal/tools"
	"github.com/MimeLyc/findoc-analyzer/pkg/log"
)

// finalAnswerNudge replaces the tool list on the last round.
const finalAnswerNudge = "You have reached the limit of tool calls for this task. Do not call any more tools. Give your best final answer now, based on what you have gathered."

type conversation struct {
	client    ChatClient
	tools     *tools.Registry
	maxRounds int
	role      string

	messages []llm.Message
	outcome  Outcome
}

func (c *conversation) run(ctx context.Context, brief Brief) (*Outcome, error) {
	if brief.Instructions != "" {
		c.messages = append(c.messages, llm.Message{Role: "system", Content: brief.Instructions})
	}
	c.messages = append(c.messages, llm.Message{Role: "user", Content: brief.Prompt})

	defs := c.tools.Definitions()
	for round := 1; round <= c.maxRounds; round++ {
		offered := defs
		last := round == c.maxRounds
		if last && len(defs) > 0 {
			// The final round withholds tools so the model has to answer.
			offered = nil
			c.messages = append(c.messages, llm.Message{Role: "user", Content: finalAnswerNudge})
		}

		msg, finish, err := c.ask(ctx, round, offered)
		if err != nil {
			return nil, err
		}

		if len(msg.ToolCalls) == 0 {
			if finish == "length" {
				log.Warn("Specialist %s: response truncated at round %d", c.role, round)
			}
			c.outcome.Answer = msg.Content
			return &c.outcome, nil
		}
		if last {
			break
		}

		c.messages = append(c.messages, msg)
		for _, call := range msg.ToolCalls {
			if err := c.callTool(ctx, call); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("%w after %d rounds", ErrNoFinalAnswer, c.maxRounds)
}

func (c *conversation) ask(ctx context.Context, round int, offered []llm.ToolDefinition) (llm.Message, string, error) {
	if err := ctx.Err(); err != nil {
		return llm.Message{}, "", err
	}
	c.outcome.Rounds++

	resp, err := c.client.ChatCompletionWithTools(ctx, c.messages, offered, nil)
	if err != nil {
		return llm.Message{}, "", fmt.Errorf("LLM call failed at round %d: %w", round, err)
	}
	c.outcome.Tokens += resp.Usage.TotalTokens

	if len(resp.Choices) == 0 {
		return llm.Message{}, "", fmt.Errorf("no choices in response at round %d", round)
	}
	choice := resp.Choices[0]
	return choice.Message, choice.FinishReason, nil
}

func (c *conversation) callTool(ctx context.Context, call llm.ToolCall) error {
	res, err := c.tools.Call(ctx, call.Function.Name, call.Function.Arguments)
	if err != nil {
		return err
	}

	c.outcome.Steps = append(c.outcome.Steps, Step{
		Tool:   call.Function.Name,
		Input:  call.Function.Arguments,
		Output: res.Content,
		Failed: res.IsError,
	})
	c.messages = append(c.messages, llm.Message{
		Role:       "tool",
		Content:    res.Content,
		ToolCallID: call.ID,
	})
	log.Debug("Specialist %s: tool %s failed=%v", c.role, call.Function.Name, res.IsError)
	return nil
}
