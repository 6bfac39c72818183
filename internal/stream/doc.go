// Package stream builds whole-output helpers on top of the chunked read
// contract of package session.
//
// Callers that just want a command's complete output use Run; callers
// that already hold an ExecID use ReadAll.
package stream
