package job

import "errors"

var (
	ErrNotFound     = errors.New("job not found")
	ErrNotRemovable = errors.New("job is no longer waiting")
	ErrLeaseLost    = errors.New("job lease lost")
)
