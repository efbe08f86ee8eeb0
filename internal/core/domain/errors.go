package domain

import "errors"

var (
	ErrSourceUnavailable     = errors.New("source unavailable")
	ErrCrossOriginRestricted = errors.New("cross-origin restricted")
	ErrAudioGraphUnavailable = errors.New("audio graph unavailable")
	ErrInvalidTransition     = errors.New("invalid engine state transition")
	ErrEngineTornDown        = errors.New("engine torn down")
	ErrInvalidOrigin         = errors.New("invalid source origin")
	ErrInvalidArgument       = errors.New("invalid argument")
)
