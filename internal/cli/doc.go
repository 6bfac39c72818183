// Package cli implements the repc command line: exec for single
// commands, demo for a guided round trip, and test for conformance
// scenarios.
package cli
