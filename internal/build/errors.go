package build

import "errors"

var (
	ErrBuild               = errors.New("build failed")
	ErrCommandFailed       = errors.New("command failed")
	ErrFileSystemOperation = errors.New("file system operation failed")
	ErrCopy                = errors.New("copy failed")
	ErrCache               = errors.New("layer cache failed")
)
