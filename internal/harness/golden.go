package harness

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Render formats a transcript for humans and golden files. Button tokens
// are left out; they are opaque and checked by the selection package.
func Render(name string, result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", name)
	for _, t := range result.Transcript {
		b.WriteByte('\n')
		if t.Identity == "" {
			fmt.Fprintf(&b, "%s\n", t.Input)
			continue
		}
		fmt.Fprintf(&b, "%s> %s\n", t.Identity, t.Input)
		for _, r := range t.Replies {
			for _, line := range strings.Split(r.Text, "\n") {
				fmt.Fprintf(&b, "  %s\n", line)
			}
			if len(r.Choices) > 0 {
				labels := make([]string, len(r.Choices))
				for i, c := range r.Choices {
					labels[i] = "[" + c.Label + "]"
				}
				fmt.Fprintf(&b, "  %s\n", strings.Join(labels, " "))
			}
		}
		fmt.Fprintf(&b, "  = %s\n", t.Flow)
	}
	if len(result.Errors) > 0 {
		b.WriteString("\nFAILURES:\n")
		for _, e := range result.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return []byte(b.String())
}

// RunWithGolden runs scenario and compares its transcript with
// testdata/golden/{scenario.Name}.golden. Failed expectations appear in
// the transcript, so they fail the comparison too.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, Render(scenario.Name, result))
	return result, nil
}
