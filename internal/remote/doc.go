// Package remote implements the HTTP plumbing shared by the OCR, speech and grammar clients.
// It sends single multipart or JSON requests without retry, classifies failures
// into a small taxonomy and keeps per-service request statistics.
package remote
