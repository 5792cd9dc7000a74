package membership

import "errors"

var (
	ErrClassroomNotFound = errors.New("classroom not found")
	ErrStudentNotFound   = errors.New("student not found")
)
