package analysis

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DocumentInfo describes the extracted document.
type DocumentInfo struct {
	Pages      int    `json:"pages"`
	Language   string `json:"language"`
	Characters int    `json:"characters"`
}

// baseline is what every pipeline derives from the text alone.
type baseline struct {
	info       DocumentInfo
	investment InvestmentAnalysis
	risk       RiskAssessment
}

// baseReport fills the document, metrics and risk_indicators sections.
func baseReport(doc *Document) (Report, baseline, error) {
	text := doc.Text()
	b := baseline{
		info: DocumentInfo{
			Pages:      len(doc.Pages),
			Language:   doc.Language.String(),
			Characters: utf8.RuneCountInString(text),
		},
		investment: AnalyzeInvestment(text),
		risk:       AssessRisk(text),
	}

	report := Report{}
	for section, v := range map[string]any{
		SectionDocument:       b.info,
		SectionMetrics:        b.investment,
		SectionRiskIndicators: b.risk,
	} {
		if err := report.Set(section, v); err != nil {
			return nil, b, err
		}
	}
	return report, b, nil
}

func formatFigure(v *float64) string {
	if v == nil {
		return "not found"
	}
	return fmt.Sprintf("%.2f", *v)
}

// deterministicSummary renders a short prose summary from the scraped figures.
func deterministicSummary(query string, base baseline) string {
	info, inv, risk := base.info, base.investment, base.risk
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n", query)
	fmt.Fprintf(&b, "The document has %d page(s) in language %q.\n", info.Pages, info.Language)
	fmt.Fprintf(&b, "Revenue: %s. Net income: %s. Earnings per share: %s.\n",
		formatFigure(inv.FinancialMetrics.Revenue),
		formatFigure(inv.FinancialMetrics.NetIncome),
		formatFigure(inv.FinancialMetrics.EPS))
	if inv.ProfitMargin != "" {
		fmt.Fprintf(&b, "Profit margin: %s (%s).\n", inv.ProfitMargin, strings.Join(inv.KeyFindings, "; "))
	}
	fmt.Fprintf(&b, "Recommendation: %s with confidence %.2f.\n", inv.Recommendation, inv.ConfidenceScore)
	fmt.Fprintf(&b, "Overall risk: %s (high=%d, medium=%d, low=%d indicators).",
		risk.OverallRisk, risk.RiskFactors.High, risk.RiskFactors.Medium, risk.RiskFactors.Low)
	return b.String()
}
