package analysis

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FinancialMetrics holds the headline figures scraped from the text.
// A nil field means the figure was not found.
type FinancialMetrics struct {
	Revenue   *float64 `json:"revenue"`
	NetIncome *float64 `json:"net_income"`
	EPS       *float64 `json:"eps"`
}

// InvestmentAnalysis is the deterministic investment read of a document.
type InvestmentAnalysis struct {
	FinancialMetrics FinancialMetrics `json:"financial_metrics"`
	Recommendation   string           `json:"recommendation"`
	ConfidenceScore  float64          `json:"confidence_score"`
	ProfitMargin     string           `json:"profit_margin,omitempty"`
	KeyFindings      []string         `json:"key_findings"`
}

const (
	defaultRecommendation = "HOLD"
	defaultConfidence     = 0.75
)

var (
	revenuePattern   = regexp.MustCompile(`(?i)revenue\s*:?\s*[$£€]?\s*([\d,]+(?:\.\d{2})?)`)
	netIncomePattern = regexp.MustCompile(`(?i)net\s*income\s*:?\s*[$£€]?\s*([\d,]+(?:\.\d{2})?)`)
	epsPattern       = regexp.MustCompile(`(?i)earnings\s*per\s*share\s*:?\s*[$£€]?\s*([\d,]+(?:\.\d{2})?)`)
)

// ExtractMetrics finds the first revenue, net income and EPS figures.
func ExtractMetrics(text string) FinancialMetrics {
	return FinancialMetrics{
		Revenue:   extractMetric(text, revenuePattern),
		NetIncome: extractMetric(text, netIncomePattern),
		EPS:       extractMetric(text, epsPattern),
	}
}

func extractMetric(text string, pattern *regexp.Regexp) *float64 {
	match := pattern.FindStringSubmatch(text)
	if len(match) < 2 {
		return nil
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64)
	if err != nil {
		return nil
	}
	return &value
}

// AnalyzeInvestment scores profitability from the scraped metrics.
func AnalyzeInvestment(text string) InvestmentAnalysis {
	metrics := ExtractMetrics(text)
	analysis := InvestmentAnalysis{
		FinancialMetrics: metrics,
		Recommendation:   defaultRecommendation,
		ConfidenceScore:  defaultConfidence,
		KeyFindings:      []string{},
	}

	if metrics.Revenue == nil || metrics.NetIncome == nil {
		return analysis
	}
	if *metrics.Revenue <= 0 || *metrics.NetIncome <= 0 {
		return analysis
	}

	margin := *metrics.NetIncome / *metrics.Revenue * 100
	analysis.ProfitMargin = fmt.Sprintf("%.2f%%", margin)
	switch {
	case margin > 20:
		analysis.KeyFindings = append(analysis.KeyFindings, "Strong profitability with high profit margin")
	case margin > 10:
		analysis.KeyFindings = append(analysis.KeyFindings, "Moderate profitability")
	default:
		analysis.KeyFindings = append(analysis.KeyFindings, "Low profit margins detected")
	}
	return analysis
}
