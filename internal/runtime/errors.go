package runtime

import "errors"

var (
	ErrRuntime    = errors.New("runtime error")
	ErrPull       = errors.New("image pull failed")
	ErrEmptyIndex = errors.New("empty image index")
	ErrCommand    = errors.New("container command failed")
)
