package analysis

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	mu     sync.Mutex
	stdout string
	stderr string
	err    error
	calls  [][]string
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	s.mu.Lock()
	s.calls = append(s.calls, append([]string{name}, args...))
	s.mu.Unlock()
	return []byte(s.stdout), []byte(s.stderr), s.err
}

// writePDF creates a placeholder file; the stub runner supplies its text.
func writePDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o600))
	return path
}

const sampleText = `ACME Corporation Annual Report 2023
Total revenue $1,000,000.00 for the fiscal year. Net income $250,000.00 after taxes.
Earnings per share $2.50.
` + "\f" + `Market risk and regulation remain key concerns, along with competition.
The company remains stable with strong growth opportunity across diversified segments.
`
