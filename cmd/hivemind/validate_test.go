package main

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/hivemindlabs/hivemind/pkg/index"
	"github.com/hivemindlabs/hivemind/pkg/template"
)

// captureOutput runs fn with stdout and stderr redirected to pipes and
// returns what was written to each. color-styled output is redirected too.
func captureOutput(t *testing.T, fn func()) (stdout, stderr string) {
	t.Helper()
	outR, outW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}

	oldOut, oldErr, oldColor := os.Stdout, os.Stderr, color.Output
	os.Stdout, os.Stderr, color.Output = outW, errW, outW
	defer func() {
		os.Stdout, os.Stderr, color.Output = oldOut, oldErr, oldColor
	}()

	fn()

	_ = outW.Close()
	_ = errW.Close()
	outB, _ := io.ReadAll(outR)
	errB, _ := io.ReadAll(errR)
	return string(outB), string(errB)
}

func TestPrintReport_WritesOneStream(t *testing.T) {
	report := &index.ValidationReport{
		FilesScanned: 2,
		Counts: map[template.IssueKind]int{
			template.IssueMissingField: 1,
		},
		Files: []index.FileIssues{{
			Path:    "/vault/a.md",
			RelPath: "a.md",
			Type:    "character",
			Issues: []template.Issue{{
				Kind:    template.IssueMissingField,
				Field:   "name",
				Message: "required field is missing",
			}},
		}},
		ParseFailures: []index.ParseFailure{
			{Path: "/vault/broken.md", Err: "unclosed frontmatter block"},
		},
	}

	stdout, stderr := captureOutput(t, func() { printReport(report) })

	// Headers and issue lines interleave on one stream, so piping the
	// command keeps the report in order.
	if stderr != "" {
		t.Fatalf("report leaked to stderr: %q", stderr)
	}
	for _, want := range []string{"missing_field", "a.md", "required field is missing", "broken.md"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}
}
