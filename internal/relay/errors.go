package relay

import "errors"

var (
	ErrNotInPairedChat   = errors.New("sender is not in a paired chat")
	ErrTeacherNotFound   = errors.New("connection owns no classroom")
	ErrClassroomNotFound = errors.New("classroom not found")
	ErrChatNotFound      = errors.New("chat not found in this classroom")
)
