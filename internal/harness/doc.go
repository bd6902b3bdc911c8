// Package harness runs scripted conversations against the full stack.
//
// A scenario is a YAML file listing the messages and button taps of one or
// more identities, optional per-step expectations, and assertions on the
// final store state. Each run uses a fresh in-memory database seeded with
// the scenario catalog, a manual clock and sequence id generators, so the
// same scenario always produces the same transcript.
//
// Transcripts are compared against golden files in testdata/golden. To
// regenerate them, run:
//
//	go test ./internal/harness -update
package harness
