package transport

import "errors"

var (
	ErrConnectionClosed = errors.New("connection is closed")
	ErrInvalidJSON      = errors.New("invalid JSON data")
	ErrWriteTimeout     = errors.New("write timeout")
)
