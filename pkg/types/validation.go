package types

import "strings"

// IsValidClassroomName checks a classroom name before a record is created
// under it. Names are case-sensitive keys, so only length and whitespace
// are constrained.
func IsValidClassroomName(name string) bool {
	if len(name) < 1 || len(name) > 200 {
		return false
	}
	return strings.TrimSpace(name) != ""
}

// IsValidRealName checks a student display name.
func IsValidRealName(name string) bool {
	if len(name) < 1 || len(name) > 100 {
		return false
	}
	return strings.TrimSpace(name) != ""
}
