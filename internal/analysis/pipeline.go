// Package analysis turns an uploaded financial document into a Report.
//
// A Pipeline is a pure function of (file path, query): it never touches job
// state. Two implementations exist: Crew, a chain of LLM agent roles, and
// MetricsPipeline, a deterministic offline analysis.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
)

// Report maps a section name to its content. Contents are JSON-native values
// (string, float64, bool, nil, []any, map[string]any).
type Report map[string]any

// Pipeline analyses the document at filePath with respect to query.
type Pipeline interface {
	Run(ctx context.Context, filePath, query string) (Report, error)
}

// AnalysisError reports any failure inside a pipeline.
type AnalysisError struct {
	Detail string
	Cause  error
}

func NewAnalysisError(detail string, cause error) *AnalysisError {
	return &AnalysisError{Detail: detail, Cause: cause}
}

func (e *AnalysisError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.Cause)
	}
	return e.Detail
}

func (e *AnalysisError) Unwrap() error {
	return e.Cause
}

// Section names.
const (
	SectionDocument       = "document"
	SectionMetrics        = "metrics"
	SectionRiskIndicators = "risk_indicators"
	SectionVerification   = "verification"
	SectionFinancial      = "financial_analysis"
	SectionInvestment     = "investment_recommendation"
	SectionRiskAssessment = "risk_assessment"
	SectionSummary        = "summary"
)

// Set stores v under section after converting it to JSON-native values.
func (r Report) Set(section string, v any) error {
	native, err := toJSONNative(v)
	if err != nil {
		return fmt.Errorf("section %s: %w", section, err)
	}
	r[section] = native
	return nil
}

// Sections returns the section names present in the report.
func (r Report) Sections() []string {
	ret := make([]string, 0, len(r))
	for name := range r {
		ret = append(ret, name)
	}
	return ret
}

func toJSONNative(v any) (any, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
