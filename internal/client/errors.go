package client

import "errors"

var (
	ErrUnavailable = errors.New("daemon unavailable")
	ErrRemote      = errors.New("daemon returned an error")
)
