// Package session implements the handle-based execution protocol.
//
// A Client hands out two kinds of opaque handles. A ConnID names an open
// store; an ExecID names one command in flight on a connection. Every call
// is synchronous and reports success or failure; on failure no other
// result of the call is meaningful.
//
// The lifecycle of an execution is fixed:
//
//	exec, err := c.Begin(conn, payload)  // accepted and started
//	err = c.Write(exec, input)           // optional, at most once
//	n, err := c.Read(exec, buf)          // repeat until n == 0
//	err = c.End(exec)                    // exactly once, always
//
// Output is pulled in caller-sized chunks. A Read returning 0 bytes and a
// nil error is the end-of-output signal; any positive count, even one
// below the buffer size, only means more reads are due. A command that
// fails after producing output delivers that output normally and reports
// its failure from End.
//
// Caller obligations:
//   - End every ExecID that Begin returned, even after failed Writes or
//     Reads. An execution that is never ended holds its connection open.
//   - Drive each execution from one goroutine at a time. Distinct
//     executions, including ones on the same connection, may be driven
//     concurrently.
//   - End all executions of a connection before closing it.
//   - Open a store at most once at a time. A second Open of a store that
//     is already open fails; Drop of an open store fails too.
//
// Calls block for as long as the engine takes. The protocol has no
// timeouts or cancellation of its own: a Read waits until output is
// available or the command ends, and End waits for the command to return.
package session
