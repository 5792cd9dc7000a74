package solo

import "errors"

var (
	ErrTeacherNotFound   = errors.New("connection owns no classroom")
	ErrClassroomNotFound = errors.New("classroom not found")
	ErrStudentNotFound   = errors.New("student not found")
	ErrStudentBusy       = errors.New("student is already in a chat")
	ErrNotInSoloChat     = errors.New("sender is not in a solo chat")
	ErrSoloChatNotFound  = errors.New("solo chat not found in this classroom")
)
