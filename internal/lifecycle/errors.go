package lifecycle

import "errors"

var (
	ErrClassroomNotFound = errors.New("classroom not found")
)
