// Package server implements the ScribbleSense HTTP API: capture session
// control, direct OCR, speech and grammar uploads, DOCX export, the resource
// catalog and dashboard, plus a WebSocket stream of session updates and the
// monitoring endpoints.
package server
