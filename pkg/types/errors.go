package types

import "errors"

var (
	ErrInvalidClassroomName = errors.New("classroom name must be 1-200 non-blank characters")
	ErrInvalidRealName      = errors.New("student name must be 1-100 non-blank characters")
)
