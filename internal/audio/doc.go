// Package audio inspects, encodes and trims the WAV recordings produced by
// capture sessions.
package audio
