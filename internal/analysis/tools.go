package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MimeLyc/findoc-analyzer/internal/tools"
)

// Tool names the roster may reference.
const (
	ToolReadDocument      = "read_financial_document"
	ToolAnalyzeInvestment = "analyze_investment"
	ToolAssessRisk        = "assess_risk"
	ToolWebSearch         = "web_search"
)

const readPageLimit = 12000

// readDocumentTool pages through the text of the job's own document. It is
// bound to one Document so agents cannot read arbitrary paths.
type readDocumentTool struct {
	doc *Document
}

type readDocumentArgs struct {
	Page int `json:"page,omitempty"`
}

func (t readDocumentTool) Name() string { return ToolReadDocument }

func (t readDocumentTool) Description() string {
	return fmt.Sprintf("Reads the text of the uploaded financial document (%d pages). Pass a 1-based page number to read one page, or omit it to read from the beginning.", len(t.doc.Pages))
}

func (t readDocumentTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"page": {"type": "integer", "minimum": 1, "description": "1-based page number (optional)"}
		}
	}`)
}

func (t readDocumentTool) Execute(_ context.Context, raw json.RawMessage) (tools.ToolResult, error) {
	var args readDocumentArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return tools.ErrorResult("Failed to parse arguments: %v", err), nil
		}
	}

	if args.Page == 0 {
		return tools.ToolResult{Content: truncate(t.doc.Text(), readPageLimit)}, nil
	}
	if args.Page < 1 || args.Page > len(t.doc.Pages) {
		return tools.ErrorResult("page %d out of range 1-%d", args.Page, len(t.doc.Pages)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Page %d of %d:\n", args.Page, len(t.doc.Pages))
	b.WriteString(truncate(t.doc.Pages[args.Page-1], readPageLimit))
	return tools.ToolResult{Content: b.String()}, nil
}

type analyzeInvestmentTool struct {
	doc *Document
}

func (t analyzeInvestmentTool) Name() string { return ToolAnalyzeInvestment }

func (t analyzeInvestmentTool) Description() string {
	return "Extracts revenue, net income and earnings per share from the document and scores profitability. Returns JSON."
}

func (t analyzeInvestmentTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t analyzeInvestmentTool) Execute(context.Context, json.RawMessage) (tools.ToolResult, error) {
	return tools.JSONResult(AnalyzeInvestment(t.doc.Text())), nil
}

type assessRiskTool struct {
	doc *Document
}

func (t assessRiskTool) Name() string { return ToolAssessRisk }

func (t assessRiskTool) Description() string {
	return "Counts high, medium and low risk indicators in the document and returns an overall risk level with mitigation strategies. Returns JSON."
}

func (t assessRiskTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t assessRiskTool) Execute(context.Context, json.RawMessage) (tools.ToolResult, error) {
	return tools.JSONResult(AssessRisk(t.doc.Text())), nil
}

// documentTools returns the tools bound to doc, keyed by name.
func documentTools(doc *Document) map[string]tools.Tool {
	return map[string]tools.Tool{
		ToolReadDocument:      readDocumentTool{doc: doc},
		ToolAnalyzeInvestment: analyzeInvestmentTool{doc: doc},
		ToolAssessRisk:        assessRiskTool{doc: doc},
	}
}
