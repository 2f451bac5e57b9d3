package analysis

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

var riskKeywords = map[RiskLevel][]string{
	RiskHigh:   {"bankruptcy", "default", "liquidation", "fraud", "lawsuit"},
	RiskMedium: {"risk", "volatility", "uncertainty", "competition", "regulation"},
	RiskLow:    {"growth", "opportunity", "stable", "diversified"},
}

var mitigationStrategies = []string{
	"Diversify investment portfolio",
	"Conduct thorough due diligence",
	"Consult with financial advisor",
}

// RiskCounts is the number of keyword occurrences per level.
type RiskCounts struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

type RiskAssessment struct {
	OverallRisk          string     `json:"overall_risk"`
	RiskFactors          RiskCounts `json:"risk_factors"`
	MitigationStrategies []string   `json:"mitigation_strategies"`
}

// AssessRisk counts risk keywords as substrings of the lowercased text.
// Any high keyword makes the document High risk; more than two medium
// keywords make it Medium.
func AssessRisk(text string) RiskAssessment {
	lower := strings.ToLower(text)
	count := func(level RiskLevel) int {
		n := 0
		for _, kw := range riskKeywords[level] {
			n += strings.Count(lower, kw)
		}
		return n
	}

	counts := RiskCounts{
		High:   count(RiskHigh),
		Medium: count(RiskMedium),
		Low:    count(RiskLow),
	}

	overall := RiskLow
	switch {
	case counts.High > 0:
		overall = RiskHigh
	case counts.Medium > 2:
		overall = RiskMedium
	}

	return RiskAssessment{
		OverallRisk:          cases.Title(language.English).String(string(overall)),
		RiskFactors:          counts,
		MitigationStrategies: append([]string(nil), mitigationStrategies...),
	}
}
