package store

import (
	"sync"

	"classrelay/pkg/types"
)

// Store is the single in-memory source of truth: classrooms, teacher and
// student records, and the two connection-to-chat indices. It is a pure data
// container; every business rule lives in the components that call it.
//
// All mutation normally happens on the dispatch goroutine, which serializes
// event handlers. The mutex makes the individual map operations safe for
// the read-only status endpoints as well.
type Store struct {
	mu            sync.RWMutex
	classrooms    map[string]*types.Classroom
	teachers      map[string]*types.Teacher
	students      map[string]*types.Student
	pairedChatIDs map[string]string // connID -> paired-chat id, only while paired
	soloChatIDs   map[string]string // connID -> solo-chat id, only while in solo mode
}

// New creates an empty store. Each test constructs its own instance; nothing
// here is package-level state.
func New() *Store {
	return &Store{
		classrooms:    make(map[string]*types.Classroom),
		teachers:      make(map[string]*types.Teacher),
		students:      make(map[string]*types.Student),
		pairedChatIDs: make(map[string]string),
		soloChatIDs:   make(map[string]string),
	}
}

// Classroom returns the classroom with the given name, or nil.
func (s *Store) Classroom(name string) *types.Classroom {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.classrooms[name]
}

// SetClassroom inserts or silently overwrites a classroom record.
func (s *Store) SetClassroom(c *types.Classroom) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classrooms[c.Name] = c
}

// DeleteClassroom removes a classroom record.
func (s *Store) DeleteClassroom(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.classrooms, name)
}

// Teacher returns the teacher record for a connection, or nil.
func (s *Store) Teacher(connID string) *types.Teacher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.teachers[connID]
}

// SetTeacher inserts or overwrites a teacher record.
func (s *Store) SetTeacher(t *types.Teacher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teachers[t.ConnID] = t
}

// DeleteTeacher removes a teacher record.
func (s *Store) DeleteTeacher(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.teachers, connID)
}

// Student returns the student record for a connection, or nil.
func (s *Store) Student(connID string) *types.Student {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.students[connID]
}

// SetStudent inserts or overwrites a student record.
func (s *Store) SetStudent(st *types.Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students[st.ConnID] = st
}

// DeleteStudent removes a student record.
func (s *Store) DeleteStudent(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.students, connID)
}

// PairedChatID returns the paired-chat id for a connection.
func (s *Store) PairedChatID(connID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pairedChatIDs[connID]
	return id, ok
}

// SetPairedChatID records that a connection is in a paired chat.
func (s *Store) SetPairedChatID(connID, chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairedChatIDs[connID] = chatID
}

// DeletePairedChatID clears a connection's paired-chat entry.
func (s *Store) DeletePairedChatID(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pairedChatIDs, connID)
}

// SoloChatID returns the solo-chat id for a connection.
func (s *Store) SoloChatID(connID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.soloChatIDs[connID]
	return id, ok
}

// SetSoloChatID records that a connection is in a solo chat.
func (s *Store) SetSoloChatID(connID, chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.soloChatIDs[connID] = chatID
}

// DeleteSoloChatID clears a connection's solo-chat entry.
func (s *Store) DeleteSoloChatID(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.soloChatIDs, connID)
}

// Stats returns record counts for monitoring.
func (s *Store) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]int{
		"classrooms":   len(s.classrooms),
		"teachers":     len(s.teachers),
		"students":     len(s.students),
		"paired_chats": len(s.pairedChatIDs) / 2,
		"solo_chats":   len(s.soloChatIDs),
	}
}
