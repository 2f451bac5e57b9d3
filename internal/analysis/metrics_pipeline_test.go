package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsPipeline_Run(t *testing.T) {
	p := NewMetricsPipeline(NewTextExtractor("", &stubRunner{stdout: sampleText}))

	report, err := p.Run(context.Background(), writePDF(t), "Is ACME a buy?")
	require.NoError(t, err)

	for _, section := range []string{
		SectionDocument, SectionMetrics, SectionRiskIndicators, SectionVerification,
		SectionFinancial, SectionInvestment, SectionRiskAssessment, SectionSummary,
	} {
		assert.Contains(t, report, section)
	}

	doc := report[SectionDocument].(map[string]any)
	assert.Equal(t, float64(2), doc["pages"])

	metrics := report[SectionMetrics].(map[string]any)
	assert.Equal(t, "25.00%", metrics["profit_margin"])
	assert.Equal(t, "HOLD", metrics["recommendation"])

	verification := report[SectionVerification].(map[string]any)
	assert.Equal(t, "Verified", verification["status"])
	assert.Equal(t, float64(3), verification["metrics_found"])

	risk := report[SectionRiskIndicators].(map[string]any)
	assert.Equal(t, "Medium", risk["overall_risk"])

	summary := report[SectionSummary].(string)
	assert.Contains(t, summary, "Is ACME a buy?")
	assert.Contains(t, summary, "Revenue: 1000000.00")
	assert.Contains(t, summary, "Overall risk: Medium")
}

func TestMetricsPipeline_UnverifiedWithoutFigures(t *testing.T) {
	p := NewMetricsPipeline(NewTextExtractor("", &stubRunner{stdout: "Minutes of the annual general meeting."}))

	report, err := p.Run(context.Background(), writePDF(t), "q")
	require.NoError(t, err)
	verification := report[SectionVerification].(map[string]any)
	assert.Equal(t, "Unverified", verification["status"])
	assert.Contains(t, report[SectionSummary], "Revenue: not found")
}

func TestMetricsPipeline_PropagatesExtractionError(t *testing.T) {
	p := NewMetricsPipeline(NewTextExtractor("", &stubRunner{stdout: ""}))

	_, err := p.Run(context.Background(), writePDF(t), "q")
	var aerr *AnalysisError
	require.True(t, errors.As(err, &aerr))
	assert.Contains(t, aerr.Error(), "No text could be extracted")
}
