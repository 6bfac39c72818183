// Package command parses and runs the commands carried by execution
// payloads.
//
// A payload is a JSON object naming exactly one command, for example
//
//	{"put": {"id": "obj1"}}
//
// Payloads are checked against a CUE schema (schema.cue) before decoding,
// so unknown commands, extra fields and empty ids are rejected up front
// with ErrMalformed. Object ids are NFC-normalized so that visually
// identical ids address the same object.
//
// Commands read their input stream and write their output stream; the
// bytes on those streams are the only results. A command that fails after
// producing partial output reports the failure through its returned error.
package command
