package reasoning

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExtract(t *testing.T) {
	text := "We decided to use Postgres for the ledger. I learned that retries hide bugs. " +
		"Fixed the flaky upload test. The deploy failed because the migration locked the table. " +
		"We must rotate keys quarterly. We decided on it. We decided to use Postgres for the ledger!"

	want := []Fact{
		{Kind: "decision", Value: "use Postgres for the ledger", Confidence: 0.7, Source: SourceExtraction},
		{Kind: "learning", Value: "retries hide bugs", Confidence: 0.7, Source: SourceExtraction},
		{Kind: "fix", Value: "the flaky upload test", Confidence: 0.7, Source: SourceExtraction},
		{Kind: "causal", Value: "The deploy failed because the migration locked the table", Confidence: 0.7, Source: SourceInference},
		{Kind: "requirement", Value: "rotate keys quarterly", Confidence: 0.7, Source: SourceExtraction},
	}
	if diff := cmp.Diff(want, Extract(text)); diff != "" {
		t.Errorf("Extract mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractNothing(t *testing.T) {
	if got := Extract("hello there, nothing to see"); len(got) != 0 {
		t.Errorf("expected no facts, got %v", got)
	}
}
