// Package microphone records from the default input device through PortAudio.
// It needs cgo and the PortAudio library, so it is only built with the
// portaudio tag and only the CLI imports it.
package microphone
