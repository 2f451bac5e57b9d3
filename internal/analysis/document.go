package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/MimeLyc/findoc-analyzer/pkg/log"
	"golang.org/x/text/language"
)

// Runner lets tests stub the external text extractor.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands on the host.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	if err != nil {
		log.Error("exec %s failed after %s: %v (stderr: %s)", name, time.Since(start), err, truncate(errb.String(), 8<<10))
	} else {
		log.Debug("exec %s ok in %s, %d bytes", name, time.Since(start), out.Len())
	}
	return out.Bytes(), errb.Bytes(), err
}

// Document is the extracted text of one PDF.
type Document struct {
	Path     string
	Pages    []string
	Language language.Tag
}

// Text joins the pages with a blank line.
func (d *Document) Text() string {
	return strings.Join(d.Pages, "\n\n")
}

// TextExtractor reads PDF text with pdftotext.
type TextExtractor struct {
	bin    string
	runner Runner
}

func NewTextExtractor(bin string, runner Runner) *TextExtractor {
	if bin == "" {
		bin = "pdftotext"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &TextExtractor{bin: bin, runner: runner}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Extract returns the cleaned page texts of the PDF at path.
func (e *TextExtractor) Extract(ctx context.Context, path string) (*Document, error) {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return nil, NewAnalysisError("Error processing document: Only PDF files are supported", nil)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, NewAnalysisError(fmt.Sprintf("Error processing document: File not found: %s", path), nil)
		}
		return nil, NewAnalysisError("Error processing document", err)
	}

	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.bin, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		detail := strings.TrimSpace(string(errb))
		if detail == "" {
			detail = err.Error()
		}
		return nil, NewAnalysisError("Error processing document: "+truncate(detail, 512), err)
	}

	// form feed separates pages
	pages := make([]string, 0)
	for _, raw := range strings.Split(string(out), "\f") {
		page := strings.TrimSpace(whitespaceRun.ReplaceAllString(raw, " "))
		if page != "" {
			pages = append(pages, page)
		}
	}
	if len(pages) == 0 {
		return nil, NewAnalysisError("Error processing document: No text could be extracted from the PDF", nil)
	}

	return &Document{
		Path:     path,
		Pages:    pages,
		Language: DetectLanguage(pages),
	}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
