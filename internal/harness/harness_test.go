package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runScenario(t *testing.T, doc string) *Result {
	t.Helper()
	s, err := ParseScenario([]byte(doc))
	require.NoError(t, err)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	return result
}

func TestScenarios(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(strings.TrimSuffix(filepath.Base(file), ".yaml"), func(t *testing.T) {
			s, err := LoadScenario(file)
			require.NoError(t, err)

			result, err := Run(context.Background(), s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario failed:\n%s", strings.Join(result.Errors, "\n"))
			assert.Len(t, result.Trace, len(s.Flow))
		})
	}
}

func TestScenarios_Golden(t *testing.T) {
	for _, name := range []string{"duplicate_checkin", "checkin_size_boundary"} {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
			require.NoError(t, err)

			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/duplicate_checkin.yaml")
	require.NoError(t, err)

	first, err := Run(context.Background(), s)
	require.NoError(t, err)
	second, err := Run(context.Background(), s)
	require.NoError(t, err)

	a, err := TraceSnapshot{ScenarioName: s.Name, Trace: first.Trace}.marshal()
	require.NoError(t, err)
	b, err := TraceSnapshot{ScenarioName: s.Name, Trace: second.Trace}.marshal()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_ReportsWrongOutcome(t *testing.T) {
	result := runScenario(t, `
name: wrong_outcome
description: "Expecting success from a missing file"
flow:
  - op: checkin
    args: { path: missing.pdf }
assertions:
  - type: trace_count
    op: checkin
    count: 1
`)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "flow[0] checkin: expected outcome OK, got NOT_FOUND")
	assert.Equal(t, "NOT_FOUND", result.Trace[0].Outcome)
}

func TestRun_ReportsWrongResult(t *testing.T) {
	result := runScenario(t, `
name: wrong_result
description: "Status of an empty cabinet"
flow:
  - op: status
    expect:
      outcome: OK
      result: { files: 3 }
assertions:
  - type: trace_count
    op: status
    count: 1
`)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected result")
}

func TestRun_ReportsFailedAssertion(t *testing.T) {
	result := runScenario(t, `
name: failed_assertion
description: "Assertion that cannot hold"
flow:
  - op: status
assertions:
  - type: trace_count
    op: status
    count: 2
`)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "trace_count")
}

func TestRun_RewritesRootInResults(t *testing.T) {
	result := runScenario(t, `
name: root_rewrite
description: "Checkout paths are reported relative to the scenario root"
files:
  - path: a.pdf
    content: "abc"
flow:
  - op: checkin
    args: { path: a.pdf }
  - op: checkout
    args: { path: a.pdf, dest: out.pdf }
assertions:
  - type: trace_count
    op: checkout
    count: 1
`)
	require.True(t, result.Pass, strings.Join(result.Errors, "\n"))
	assert.Equal(t, "$ROOT/out.pdf", result.Trace[1].Result["path"])
	assert.Equal(t, true, result.Trace[1].Result["matches_source"])
}

func TestRun_AlgorithmAndConfig(t *testing.T) {
	result := runScenario(t, `
name: blake3_config
description: "Cabinet algorithm and settings come from the scenario"
algorithm: blake3
config:
  file.index.extensions: txt
files:
  - path: notes.txt
    content: "hello"
  - path: a.pdf
    content: "skipped"
flow:
  - op: index
    expect:
      outcome: OK
      result: { matched: 1, skipped_by_filter: 1 }
  - op: find
    args: { path: notes.txt }
assertions:
  - type: final_state
    table: repository
    expect: { algorithm: blake3 }
`)
	require.True(t, result.Pass, strings.Join(result.Errors, "\n"))
	digest, _ := result.Trace[1].Result["digest"].(string)
	assert.True(t, strings.HasPrefix(digest, "blake3:"), digest)
}

func TestRun_SetupErrors(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: bad_config
description: "Invalid setting"
config:
  indexing.workers: "many"
flow:
  - op: status
assertions:
  - type: trace_count
    op: status
    count: 1
`))
	require.NoError(t, err)
	_, err = Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config indexing.workers")

	s.Config = nil
	s.Algorithm = "md5"
	_, err = Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid algorithm")
}
