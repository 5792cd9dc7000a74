package ai

import "errors"

var (
	ErrNotConfigured    = errors.New("gemini api key not configured")
	ErrGenerationFailed = errors.New("reply generation failed")
	ErrEmptyResponse    = errors.New("empty response from model")
)
