// Package harness runs projection scenarios and compares their traces
// against golden files.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: warm_start
//	description: "Cached state is restored and live events fold on top"
//	reducer: counter
//	head: 4385398
//	checkpoint:
//	  blockNumber: 1
//	  state: { counter: 5, actionHistory: [{ event: Add, payload: 5 }] }
//	past:
//	  - { event: Add, payload: 2, block: 3 }
//	externals:
//	  - past: []
//	flow:
//	  - push: { event: Add, payload: 10, block: 4385399 }
//	  - push: { event: Add, payload: 1, block: 9 }
//	    expect: skip
//	  - fail: "connection reset"
//	assertions:
//	  - type: final_state
//	    expect: { counter: 17 }
//	  - type: checkpoint
//	    block: 4385400
//
// A push step defaults to expect: apply and waits for the snapshot it
// produces. A skip step does not wait. fail and close steps, and push steps
// marked expect: fail, wait for the projection to fail.
//
// # Assertion Types
//
//   - final_state: the last snapshot's state contains the expected fields
//   - checkpoint: the last written checkpoint has the given block and fields
//   - trace_contains: an event of the given type (and block) with the fields
//   - trace_count: exactly N events of the given type
//   - failure: the projection failed with the given code
//   - clean: the projection did not fail
//   - monotonic: snapshot seq and block never decrease
//
// # Deterministic Traces
//
// Checkpoints are written only when the projection closes (the debounce is
// longer than any scenario), and snapshots are taken one step at a time, so
// the trace of a scenario is identical across runs and can be compared with
// testdata/golden/<name>.golden.
package harness
