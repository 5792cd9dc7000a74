package types

// Author roles recorded in paired-chat transcripts.
const (
	AuthorStudent1 = "student1"
	AuthorStudent2 = "student2"
	AuthorTeacher  = "teacher"
)

// Author roles recorded in solo-chat transcripts.
const (
	AuthorStudent = "student"
	AuthorChatbot = "chatbot"
)

// ChatMessage is a single transcript entry.
type ChatMessage struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

// StudentIdentity captures who a student is inside a chat: their real name,
// the role-play character the teacher assigned, and the connection id.
type StudentIdentity struct {
	RealName  string `json:"realName"`
	Character string `json:"character"`
	ConnID    string `json:"socketId"`
}

// PairedChat is a two-student relay session and its transcript.
// The record outlives the live pairing: unpairing clears the indices and
// peer linkage but the chat stays inside its classroom until archival.
type PairedChat struct {
	ID       string             `json:"chatId"`
	Students [2]StudentIdentity `json:"studentPair"`
	Messages []ChatMessage      `json:"messages"`
}

// Append adds a transcript entry.
func (c *PairedChat) Append(author, text string) {
	c.Messages = append(c.Messages, ChatMessage{Author: author, Text: text})
}

// AuthorFor maps a sender connection id to its transcript role.
func (c *PairedChat) AuthorFor(connID string) string {
	if c.Students[0].ConnID == connID {
		return AuthorStudent1
	}
	return AuthorStudent2
}

// Clone deep-copies the chat so a snapshot can cross a goroutine boundary.
func (c *PairedChat) Clone() *PairedChat {
	dup := *c
	dup.Messages = append([]ChatMessage(nil), c.Messages...)
	return &dup
}

// SoloChat is a one-student-vs-chatbot relay session and its transcript.
// LastStudentMessageToken identifies the most recent student message with an
// outstanding reply request; a reply is only applied if its request's token
// still matches (stale replies are dropped).
type SoloChat struct {
	ID                      string          `json:"chatId"`
	Student                 StudentIdentity `json:"student"`
	Messages                []ChatMessage   `json:"messages"`
	LastStudentMessageToken string          `json:"-"`
}

// Append adds transcript entries.
func (c *SoloChat) Append(messages ...ChatMessage) {
	c.Messages = append(c.Messages, messages...)
}

// CloneMessages copies the transcript for use outside the dispatch loop.
func (c *SoloChat) CloneMessages() []ChatMessage {
	return append([]ChatMessage(nil), c.Messages...)
}

// Clone deep-copies the chat so a snapshot can cross a goroutine boundary.
func (c *SoloChat) Clone() *SoloChat {
	dup := *c
	dup.Messages = append([]ChatMessage(nil), c.Messages...)
	return &dup
}

// Classroom is a named session owned by one teacher connection. Chats and
// SoloChats accumulate for the life of the classroom so every transcript,
// ended or live, can be archived at teardown.
type Classroom struct {
	Name           string
	TeacherConnID  string
	StudentConnIDs []string
	Chats          map[string]*PairedChat
	SoloChats      map[string]*SoloChat
	Email          string
	// Closing is set while the archival call is in flight so the
	// deactivation path runs exactly once per classroom.
	Closing bool
}

// NewClassroom creates an empty classroom owned by the given teacher.
func NewClassroom(name, teacherConnID string) *Classroom {
	return &Classroom{
		Name:          name,
		TeacherConnID: teacherConnID,
		Chats:         make(map[string]*PairedChat),
		SoloChats:     make(map[string]*SoloChat),
	}
}

// HasStudent reports whether the connection is already a member.
func (c *Classroom) HasStudent(connID string) bool {
	for _, id := range c.StudentConnIDs {
		if id == connID {
			return true
		}
	}
	return false
}

// RemoveStudent drops the connection from the member list.
func (c *Classroom) RemoveStudent(connID string) {
	members := c.StudentConnIDs[:0]
	for _, id := range c.StudentConnIDs {
		if id != connID {
			members = append(members, id)
		}
	}
	c.StudentConnIDs = members
}

// Teacher maps a teacher connection to the classroom it owns.
type Teacher struct {
	ConnID        string
	ClassroomName string
}

// Student is a classroom member. PeerConnID is empty unless the student is
// currently paired; the relation is symmetric with the peer's record.
type Student struct {
	ConnID        string
	ClassroomName string
	RealName      string
	PeerConnID    string
}

// Paired reports whether the student is currently in a paired chat.
func (s *Student) Paired() bool {
	return s.PeerConnID != ""
}
