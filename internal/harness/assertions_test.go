package harness

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hellisbugfree/filing-cabinet/internal/store"
	"github.com/hellisbugfree/filing-cabinet/internal/testutil"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Op: "index", Args: map[string]any{"path": "docs"}, Outcome: OutcomeOK},
		{Seq: 2, Op: "checkin", Args: map[string]any{"path": "docs/a.pdf"}, Outcome: OutcomeOK},
		{Seq: 3, Op: "checkin", Args: map[string]any{"path": "docs/big.pdf"}, Outcome: "POLICY_REJECTED"},
		{Seq: 4, Op: "status", Outcome: OutcomeOK},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	tests := []struct {
		name      string
		assertion Assertion
		wantErr   bool
	}{
		{"op only", Assertion{Op: "status"}, false},
		{"args subset", Assertion{Op: "checkin", Args: map[string]any{"path": "docs/big.pdf"}}, false},
		{"outcome", Assertion{Op: "checkin", Outcome: "POLICY_REJECTED"}, false},
		{"outcome and args", Assertion{Op: "checkin", Outcome: "POLICY_REJECTED", Args: map[string]any{"path": "docs/a.pdf"}}, true},
		{"missing op", Assertion{Op: "verify"}, true},
		{"wrong args", Assertion{Op: "index", Args: map[string]any{"path": "other"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.assertion.Type = AssertTraceContains
			err := assertTraceContains(trace, tt.assertion)
			if tt.wantErr {
				var ae *AssertionError
				require.ErrorAs(t, err, &ae)
				assert.Equal(t, AssertTraceContains, ae.Type)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Ops: []string{"index", "checkin", "status"}}))
	assert.NoError(t, assertTraceOrder(trace, Assertion{Ops: []string{"index", "status"}}))

	err := assertTraceOrder(trace, Assertion{Ops: []string{"status", "index"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should be before")

	err = assertTraceOrder(trace, Assertion{Ops: []string{"index", "verify"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing op: verify")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Op: "checkin", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Op: "verify", Count: 0}))

	err := assertTraceCount(trace, Assertion{Op: "checkin", Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 occurrences")
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "1 occurrences of checkin",
		Actual:   "2 occurrences",
		Trace:    sampleTrace(),
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, "Full trace:")
	assert.Contains(t, msg, "[3] checkin map[path:docs/big.pdf] -> POLICY_REJECTED")
}

func TestStateValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		want     bool
	}{
		{"string", "file", "file", true},
		{"string bytes", "file", []byte("file"), true},
		{"string mismatch", "file", "symlink", false},
		{"int vs int64", 17, int64(17), true},
		{"int mismatch", 17, int64(18), false},
		{"bool vs int", false, int64(0), true},
		{"bool true vs int", true, int64(1), true},
		{"nil vs nil", nil, nil, true},
		{"nil vs value", nil, int64(1), false},
		{"value vs nil", 1, nil, false},
		{"string vs int", "17", int64(17), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stateValuesEqual(tt.expected, tt.actual))
		})
	}
}

func TestMatchArgs(t *testing.T) {
	actual := map[string]any{"matched": 2, "removed": int64(0), "path": "$ROOT/a.pdf", "stored": true}

	assert.True(t, matchArgs(actual, nil))
	assert.True(t, matchArgs(actual, map[string]any{"matched": int64(2), "removed": 0}))
	assert.True(t, matchArgs(actual, map[string]any{"path": "$ROOT/a.pdf", "stored": true}))
	assert.False(t, matchArgs(actual, map[string]any{"matched": 3}))
	assert.False(t, matchArgs(actual, map[string]any{"missing": 1}))
	assert.False(t, matchArgs(nil, map[string]any{"matched": 2}))
}

func newAssertionStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cabinet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.WriteConfig(context.Background(), map[string]string{
		"cabinet.name":     "/srv/tree/Archive",
		"indexing.workers": "4",
	}, testutil.DefaultEpoch.Add(time.Hour)))
	return st
}

func TestAssertFinalState(t *testing.T) {
	st := newAssertionStore(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		assertion Assertion
		want      string
	}{
		{
			name: "match",
			assertion: Assertion{Table: "config",
				Where:  map[string]any{"key": "indexing.workers"},
				Expect: map[string]any{"value": "4"}},
		},
		{
			name: "root expansion",
			assertion: Assertion{Table: "config",
				Where:  map[string]any{"key": "cabinet.name"},
				Expect: map[string]any{"value": "$ROOT/Archive"}},
		},
		{
			name: "value mismatch",
			assertion: Assertion{Table: "config",
				Where:  map[string]any{"key": "indexing.workers"},
				Expect: map[string]any{"value": "8"}},
			want: `field "value" = 8`,
		},
		{
			name: "row not found",
			assertion: Assertion{Table: "config",
				Where:  map[string]any{"key": "nope"},
				Expect: map[string]any{"value": "1"}},
			want: "row not found",
		},
		{
			name: "ambiguous",
			assertion: Assertion{Table: "config",
				Expect: map[string]any{"value": "4"}},
			want: "multiple rows matched",
		},
		{
			name: "unknown column",
			assertion: Assertion{Table: "config",
				Where:  map[string]any{"key": "indexing.workers"},
				Expect: map[string]any{"colour": "red"}},
			want: `field "colour" to exist`,
		},
		{
			name: "invalid table",
			assertion: Assertion{Table: "config; DROP TABLE files",
				Expect: map[string]any{"value": "4"}},
			want: "invalid table name",
		},
		{
			name: "invalid column",
			assertion: Assertion{Table: "config",
				Where:  map[string]any{"key = key OR 1": 1},
				Expect: map[string]any{"value": "4"}},
			want: "invalid column name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertFinalState(ctx, st, "/srv/tree", tt.assertion)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	for _, ev := range sampleTrace() {
		result.AddTrace(ev)
	}

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Op: "checkin", Count: 2},
		{Type: AssertTraceContains, Op: "verify"},
		{Type: AssertFinalState, Table: "files", Expect: map[string]any{"size": 1}},
		{Type: "bogus"},
	}, nil)

	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "trace_contains")
	assert.Contains(t, errs[1], "final_state requires database context")
	assert.Contains(t, errs[2], `unknown assertion type "bogus"`)
}

func TestResult_AddTraceNumbersSteps(t *testing.T) {
	r := NewResult()
	r.AddTrace(TraceEvent{Op: "index", Seq: 42})
	r.AddTrace(TraceEvent{Op: "status"})

	assert.Equal(t, int64(1), r.Trace[0].Seq)
	assert.Equal(t, int64(2), r.Trace[1].Seq)
	assert.True(t, r.Pass)

	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}
