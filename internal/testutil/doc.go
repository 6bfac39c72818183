// Package testutil provides fakes for exercising the execution protocol
// without a real store engine.
//
// FakeBackend implements engine.Backend with stores whose tasks are
// scripted per payload. The task constructors (Emit, EmitChunks, Echo,
// Panic, Gate) cover the engine behaviors the protocol must cope with:
// chunked output, input consumption, deferred failure, panics, and
// commands that stay in flight.
package testutil
