// Package harness runs conformance scenarios against the execution
// protocol.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: hello
//	description: "Round trip through a fresh store"
//	store: mem                # default; any other value is a directory
//	steps:
//	  - exec: '{"put": {"id": "obj1"}}'
//	    input: '"Hello, from Replicant!"'
//	  - exec: '{"get": {"id": "obj1"}}'
//	    read: true
//	    chunk: 4
//	    expect:
//	      output: '"Hello, from Replicant!"'
//	  - exec: '{"get": {"id": "nope"}}'
//	    read: true
//	    expect:
//	      error: not found
//	objects:
//	  obj1: '"Hello, from Replicant!"'
//	  gone: null              # must not exist
//
// Each step is one execution: Begin, Write when input is present, Read
// until the end-of-output signal when read is true, and always End.
//
// # Expectations
//
//   - output: exact bytes collected by the reads
//   - error: substring of the first Write, Read or End error
//   - begin_error: substring of the Begin error; nothing else runs
//   - code: error code of whichever call failed
//
// A step without expectations must succeed. After the steps, every entry
// of objects is checked with a get command on the same connection.
//
// # Deterministic Traces
//
// Every call is recorded with its byte count or outcome code, never with
// wall-clock data, so traces are stable across runs and can be compared
// against golden files with RunWithGolden. Each scenario gets a fresh
// store and a Client of its own.
package harness
