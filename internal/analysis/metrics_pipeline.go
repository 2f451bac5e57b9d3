package analysis

import (
	"context"

	"github.com/MimeLyc/findoc-analyzer/pkg/log"
)

// MetricsPipeline analyses a document without any LLM: regex metrics,
// keyword risk and a templated summary.
type MetricsPipeline struct {
	extractor *TextExtractor
}

func NewMetricsPipeline(extractor *TextExtractor) *MetricsPipeline {
	return &MetricsPipeline{extractor: extractor}
}

type verificationSection struct {
	Status  string `json:"status"`
	Pages   int    `json:"pages"`
	Metrics int    `json:"metrics_found"`
}

type recommendationSection struct {
	Recommendation  string  `json:"recommendation"`
	ConfidenceScore float64 `json:"confidence_score"`
}

func (p *MetricsPipeline) Run(ctx context.Context, filePath, query string) (Report, error) {
	doc, err := p.extractor.Extract(ctx, filePath)
	if err != nil {
		return nil, err
	}

	report, base, err := baseReport(doc)
	if err != nil {
		return nil, NewAnalysisError("Error building report", err)
	}

	investment := base.investment
	found := 0
	for _, v := range []*float64{investment.FinancialMetrics.Revenue, investment.FinancialMetrics.NetIncome, investment.FinancialMetrics.EPS} {
		if v != nil {
			found++
		}
	}
	status := "Unverified"
	if found > 0 {
		status = "Verified"
	}

	sections := map[string]any{
		SectionVerification: verificationSection{Status: status, Pages: base.info.Pages, Metrics: found},
		SectionFinancial:    investment,
		SectionInvestment: recommendationSection{
			Recommendation:  investment.Recommendation,
			ConfidenceScore: investment.ConfidenceScore,
		},
		SectionRiskAssessment: base.risk,
		SectionSummary:        deterministicSummary(query, base),
	}
	for name, v := range sections {
		if err := report.Set(name, v); err != nil {
			return nil, NewAnalysisError("Error building report", err)
		}
	}

	if err := ValidateReport(report); err != nil {
		return nil, NewAnalysisError("Report failed validation", err)
	}

	log.Debug("Metrics pipeline finished %s: %d pages, risk %s", filePath, base.info.Pages, base.risk.OverallRisk)
	return report, nil
}
