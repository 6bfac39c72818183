// Package engine is the store engine behind the execution protocol.
//
// The protocol layer (package session) treats the engine as a black box
// reachable only through Backend, Store and Task. This package provides
// the production implementation, SQLite, which resolves store specs to
// SQLite databases and runs the commands of package command against them.
//
// Tests of the protocol layer inject their own Backend; nothing here is
// process-global.
package engine
