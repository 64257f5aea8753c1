package pipeline

import (
	"fmt"
	"strings"

	"modgen/pkg/state"
)

// FormatExecutionResult renders an execution result mapping for terminal
// output.
func FormatExecutionResult(res map[string]any) string {
	if len(res) == 0 {
		return "execution: not run"
	}

	var b strings.Builder
	if state.BoolKey(res, state.KeySuccess) {
		b.WriteString("execution: ok\n")
	} else {
		b.WriteString("execution: FAILED\n")
		if desc := state.StringKey(res, state.KeyError); desc != "" {
			fmt.Fprintf(&b, "  error: %s\n", indentCont(desc))
		}
	}
	if out := strings.TrimSpace(state.StringKey(res, state.KeyStdout)); out != "" {
		fmt.Fprintf(&b, "  stdout:\n%s\n", indentBlock(out))
	}
	if errOut := strings.TrimSpace(state.StringKey(res, state.KeyStderr)); errOut != "" {
		fmt.Fprintf(&b, "  stderr:\n%s\n", indentBlock(errOut))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatReviewResult renders a review result mapping, re-parsing the raw
// verdict so issues and suggestions come out as bullet lists.
func FormatReviewResult(res map[string]any) string {
	if len(res) == 0 {
		return "review: not run"
	}

	var b strings.Builder
	if state.BoolKey(res, state.KeyApproved) {
		b.WriteString("review: approved\n")
	} else {
		b.WriteString("review: rejected\n")
	}

	verdict := ParseReviewVerdict(state.StringKey(res, state.KeyRawReview))
	for _, issue := range verdict.Issues {
		fmt.Fprintf(&b, "  issue: %s\n", indentCont(issue))
	}
	for _, sug := range verdict.Suggestions {
		fmt.Fprintf(&b, "  suggestion: %s\n", indentCont(sug))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatPackageInfo renders the packaging descriptor.
func FormatPackageInfo(info map[string]any) string {
	path := state.StringKey(info, state.KeyModulePath)
	if path == "" {
		return "package: not written"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "package: %s\n", path)
	if f := state.StringKey(info, state.KeyStandaloneFile); f != "" {
		fmt.Fprintf(&b, "  standalone: %s", f)
	}
	return strings.TrimRight(b.String(), "\n")
}

func indentBlock(s string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = "    " + lines[i]
	}
	return strings.Join(lines, "\n")
}

func indentCont(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", "\n    ")
}
