package harness

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/flowguard/internal/canonical"
)

// MarshalTrace renders a trace as canonical JSON, one event per line.
func MarshalTrace(trace []TraceEvent) ([]byte, error) {
	var buf bytes.Buffer
	for _, ev := range trace {
		line, err := canonical.Marshal(ev.toCanonical())
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// RunWithGolden runs the scenario, fails the test on any unmet expectation,
// and compares the trace with testdata/golden/<name>.golden.
//
// To regenerate golden files:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, sc *Scenario) *Result {
	t.Helper()
	result, err := Run(t.Context(), sc)
	if err != nil {
		t.Fatalf("scenario %s: %v", sc.Name, err)
	}
	for _, e := range result.Errors {
		t.Errorf("scenario %s: %s", sc.Name, e)
	}
	data, err := MarshalTrace(result.Trace)
	if err != nil {
		t.Fatalf("scenario %s: marshal trace: %v", sc.Name, err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, data)
	return result
}
