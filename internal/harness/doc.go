// Package harness runs end-to-end cabinet scenarios.
//
// A scenario lays out a file tree, applies settings, runs a flow of cabinet
// operations with expected outcomes, and finally asserts on the trace and on
// the registry tables.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	algorithm: sha256
//	files:
//	  - path: docs/a.pdf
//	    content: "hello"
//	  - path: docs/big.pdf
//	    size: 2048
//	    seed: 7
//	    age_days: 3
//	  - path: docs/link.pdf
//	    link: a.pdf
//	config:
//	  file.checkin.max_size: 1KiB
//	flow:
//	  - op: index
//	    args: { path: docs }
//	    expect:
//	      outcome: OK
//	      result: { matched: 2 }
//	assertions:
//	  - type: trace_count
//	    op: checkin
//	    count: 1
//	  - type: final_state
//	    table: incarnations
//	    where: { path: "$ROOT/docs/a.pdf" }
//	    expect: { kind: file }
//
// Paths in args are relative to the scenario root. "$ROOT" in assertion
// values expands to the root, and paths in the trace are rewritten to it.
//
// # Operations
//
//   - index: path, prune, workers
//   - checkin: path
//   - checkout: path or digest, dest, force
//   - verify: optional path or digest of stored content, or file to re-hash
//     in place; without any every stored file is checked
//   - find: path
//   - remove: path (forget the incarnation)
//   - status
//   - config: key, value
//   - write: path, content (changes a file on disk)
//   - delete: path (removes a file from disk)
//   - corrupt: path (damages the canonical copy of the path's content)
//   - advance: hours (moves the clock forward)
//
// Outcomes are "OK" or a fault code such as POLICY_REJECTED or INTEGRITY.
//
// # Assertion Types
//
//   - trace_contains: an op appears with the given outcome and args
//   - trace_order: ops appear in the given order
//   - trace_count: an op appears exactly N times
//   - final_state: exactly one registry row matches where and expect
//
// # Deterministic Testing
//
// Every run uses a fresh cabinet in a temporary directory, a fake clock
// starting at testutil.DefaultEpoch, sequential run IDs and a fixed device
// ID, so traces can be compared against golden files.
package harness
