// Package capture implements the capture session state machine:
//
//	idle -> recording -> stopped -> processing -> saved|error -> idle
//
// A session records either audio (pushed by a browser or read from a local
// microphone) or handwriting strokes on a canvas pad. Stopping finalises a
// blob; submitting hands the blob to a Processor with exactly one remote call
// and no retry. Audio recordings stop on their own at MaxRecording.
//
// Each owner has at most one session. Starting a new one destroys the old
// session and abandons whatever request it had in flight.
package capture
