package dispatch

import (
	"regexp"
	"strings"

	"github.com/isomorphiq/orchestrator/pkg/contextstore"
)

const maxHarvestedSnippets = 12

var (
	statusLine     = regexp.MustCompile(`(?im)^\s*[*-]?\s*Test status:\s*(passed|failed)\b`)
	rootCauseLine  = regexp.MustCompile(`(?im)^\s*[*-]?\s*Suspected root cause:\s*(.+)$`)
	failureSnippet = regexp.MustCompile(
		`(?i)\b(error|timed?\s*out|timeout|exception|FAIL(ED)?)\b|\bTS\d{4}\b`)
	sectionHeader = regexp.MustCompile(`(?i)^\s*[*-]?\s*(Failed tests|Repro steps|Suspected root cause|Test status|Summary):`)
)

// InferTestOutcome parses a testStatus and testReport from free-form
// agent output. Returns ok=false when the output carries no test signal.
func InferTestOutcome(output string) (string, map[string]any, bool) {
	status := ""
	if m := statusLine.FindStringSubmatch(output); m != nil {
		status = strings.ToLower(m[1])
	}

	failedTests := sectionItems(output, "Failed tests:")
	reproSteps := sectionItems(output, "Repro steps:")

	rootCause := ""
	if m := rootCauseLine.FindStringSubmatch(output); m != nil {
		rootCause = strings.TrimSpace(m[1])
	}

	snippets := harvestFailureSnippets(output)

	if status == "" {
		if len(failedTests) > 0 {
			status = contextstore.TestStatusFailed
		} else {
			return "", nil, false
		}
	}

	notes := ""
	if status == contextstore.TestStatusFailed && len(snippets) > 0 {
		notes = strings.Join(snippets, "\n")
	}
	if rootCause == "" {
		if len(failedTests) > 0 {
			rootCause = failedTests[0]
		} else if status == contextstore.TestStatusPassed {
			rootCause = "tests completed without errors"
		} else if len(snippets) > 0 {
			rootCause = snippets[0]
		}
	}

	report := map[string]any{
		"failedTests":        toAnySlice(failedTests),
		"reproSteps":         toAnySlice(reproSteps),
		"suspectedRootCause": rootCause,
		"notes":              notes,
	}
	return status, report, true
}

// sectionItems collects the bullet or plain lines under a header until a
// blank line or the next known section.
func sectionItems(output, header string) []string {
	var items []string
	lines := strings.Split(output, "\n")
	in := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !in {
			if rest, found := cutHeader(trimmed, header); found {
				in = true
				if rest != "" {
					items = append(items, rest)
				}
			}
			continue
		}
		if trimmed == "" || sectionHeader.MatchString(trimmed) {
			break
		}
		items = append(items, strings.TrimSpace(strings.TrimLeft(trimmed, "-* \t")))
	}
	return items
}

func cutHeader(line, header string) (string, bool) {
	cleaned := strings.TrimLeft(line, "-* \t")
	if len(cleaned) < len(header) || !strings.EqualFold(cleaned[:len(header)], header) {
		return "", false
	}
	return strings.TrimSpace(cleaned[len(header):]), true
}

// harvestFailureSnippets collects lines that look like diagnostics:
// error/timeout language or typed-diagnostic codes.
func harvestFailureSnippets(output string) []string {
	var snippets []string
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || sectionHeader.MatchString(trimmed) {
			continue
		}
		if failureSnippet.MatchString(trimmed) {
			snippets = append(snippets, trimmed)
			if len(snippets) >= maxHarvestedSnippets {
				break
			}
		}
	}
	return snippets
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
