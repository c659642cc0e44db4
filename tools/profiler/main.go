// Command imq-profiler renders a deterministic timing breakdown from the
// JSON-lines output of pkg/profiling's decorator (IMQ_LOG_TIME=1).
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
)

const ToolVersion = "0.1.0"

const (
	ExitSuccess     = 0
	ExitGeneralErr  = 1
	ExitInvalidArgs = 2
)

// Header echoes the run's input context deterministically.
type Header struct {
	ToolVersion string `json:"tool_version"`
	InputFile   string `json:"input_file"`
	Operation   string `json:"operation,omitempty"`
}

// Summary is the overall reduction across every matched log line.
type Summary struct {
	TotalDurationUs int64  `json:"total_duration_us"`
	Bottleneck      string `json:"bottleneck"`
	SampleCount     int    `json:"sample_count"`
}

// BreakdownEntry is one operation's contribution, basis points are 1/100 of a percent.
type BreakdownEntry struct {
	Operation       string `json:"operation"`
	TotalDurationUs int64  `json:"total_duration_us"`
	Count           int    `json:"count"`
	PctBasisPts     int64  `json:"pct_bp"`
}

// Output is the stable, structured profiler report.
type Output struct {
	Header    Header           `json:"header"`
	Summary   Summary          `json:"summary"`
	Breakdown []BreakdownEntry `json:"breakdown"`
}

type logLine struct {
	Operation string  `json:"operation"`
	Duration  float64 `json:"duration"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("imq-profiler", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	inputPath := fs.String("in", "", "path to a decorator JSON-lines log (default: stdin)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(stderr, err)
		return ExitInvalidArgs
	}

	var src io.Reader = stdin
	inputName := "-"
	if *inputPath != "" {
		f, err := os.Open(*inputPath)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return ExitGeneralErr
		}
		defer f.Close()
		src = f
		inputName = *inputPath
	}

	out, err := summarize(src, inputName)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return ExitGeneralErr
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(stderr, err)
		return ExitGeneralErr
	}
	return ExitSuccess
}

func summarize(r io.Reader, inputName string) (Output, error) {
	totals := map[string]int64{}
	counts := map[string]int{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var l logLine
		if err := json.Unmarshal(line, &l); err != nil {
			continue // skip malformed/non-decorator lines rather than fail the whole report
		}
		if l.Operation == "" {
			continue
		}
		totals[l.Operation] += int64(l.Duration)
		counts[l.Operation]++
	}
	if err := scanner.Err(); err != nil {
		return Output{}, fmt.Errorf("imq-profiler: read input: %w", err)
	}

	var total int64
	for _, v := range totals {
		total += v
	}

	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Strings(names)

	breakdown := make([]BreakdownEntry, 0, len(names))
	bottleneck := ""
	var bottleneckDur int64
	for _, name := range names {
		dur := totals[name]
		var bp int64
		if total > 0 {
			bp = dur * 10000 / total
		}
		breakdown = append(breakdown, BreakdownEntry{
			Operation:       name,
			TotalDurationUs: dur,
			Count:           counts[name],
			PctBasisPts:     bp,
		})
		if dur > bottleneckDur {
			bottleneckDur = dur
			bottleneck = name
		}
	}

	sampleCount := 0
	for _, c := range counts {
		sampleCount += c
	}

	return Output{
		Header: Header{ToolVersion: ToolVersion, InputFile: inputName},
		Summary: Summary{
			TotalDurationUs: total,
			Bottleneck:      bottleneck,
			SampleCount:     sampleCount,
		},
		Breakdown: breakdown,
	}, nil
}
