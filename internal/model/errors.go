package model

import "errors"

var (
	// ErrInvalidEndpoint is returned when the endpoint URL is malformed.
	ErrInvalidEndpoint = errors.New("invalid endpoint URL")

	// ErrNotConnected is returned when an operation requires a live connection.
	ErrNotConnected = errors.New("not connected")

	// ErrDecodeFailed is returned when an inbound frame is not a valid message.
	ErrDecodeFailed = errors.New("failed to decode message frame")
)
