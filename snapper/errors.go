package snapper

import "errors"

var (
	ErrPoolShutdown    = errors.New("snapper: pool shut down")
	ErrNoDevices       = errors.New("snapper: no usable devices")
	ErrInvalidViewport = errors.New("snapper: invalid viewport")
	ErrFenceCreation   = errors.New("snapper: could not create fence")
	ErrNotReady        = errors.New("snapper: map not ready")
	ErrSessionClosed   = errors.New("snapper: session closed")
	ErrInvalidConfig   = errors.New("snapper: invalid config")
	ErrInvalidOptions  = errors.New("snapper: invalid options")
)
