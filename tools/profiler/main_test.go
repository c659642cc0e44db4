package main

import (
	"strings"
	"testing"
)

func TestSummarizeComputesBreakdown(t *testing.T) {
	input := strings.Join([]string{
		`{"operation":"send","duration":100}`,
		`{"operation":"send","duration":300}`,
		`{"operation":"read","duration":600}`,
		`not json, should be skipped`,
	}, "\n")

	out, err := summarize(strings.NewReader(input), "test.log")
	if err != nil {
		t.Fatalf("summarize() error = %v", err)
	}
	if out.Summary.TotalDurationUs != 1000 {
		t.Fatalf("TotalDurationUs = %d, want 1000", out.Summary.TotalDurationUs)
	}
	if out.Summary.Bottleneck != "read" {
		t.Fatalf("Bottleneck = %q, want read", out.Summary.Bottleneck)
	}
	if out.Summary.SampleCount != 3 {
		t.Fatalf("SampleCount = %d, want 3", out.Summary.SampleCount)
	}

	var readEntry *BreakdownEntry
	for i := range out.Breakdown {
		if out.Breakdown[i].Operation == "read" {
			readEntry = &out.Breakdown[i]
		}
	}
	if readEntry == nil || readEntry.PctBasisPts != 6000 {
		t.Fatalf("read entry = %+v, want 60%% (6000 bp)", readEntry)
	}
}

func TestSummarizeEmptyInput(t *testing.T) {
	out, err := summarize(strings.NewReader(""), "-")
	if err != nil {
		t.Fatalf("summarize() error = %v", err)
	}
	if out.Summary.SampleCount != 0 || len(out.Breakdown) != 0 {
		t.Fatalf("expected empty summary, got %+v", out)
	}
}
