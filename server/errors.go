package server

import "errors"

// Registry errors. Check with errors.Is:
//
//	if errors.Is(err, server.ErrDeviceNotFound) {
//	    // unknown or already unregistered id
//	}
var (
	// ErrDeviceNotFound is returned when an identifier is not registered.
	ErrDeviceNotFound = errors.New("registry: device not found")

	// ErrInvalidMessage is returned by Dispatch before lookup when the message kind is unknown.
	ErrInvalidMessage = errors.New("registry: invalid message")

	ErrConnectFailed    = errors.New("registry: connect failed")
	ErrDisconnectFailed = errors.New("registry: disconnect failed")
	ErrDispatchFailed   = errors.New("registry: dispatch failed")
)
