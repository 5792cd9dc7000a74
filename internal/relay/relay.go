package relay

import (
	"go.uber.org/zap"

	"classrelay/internal/metrics"
	"classrelay/internal/store"
	"classrelay/pkg/interfaces"
	"classrelay/pkg/types"
)

// Relay routes paired-chat messages: student to peer plus teacher, teacher
// into the chat room, every message appended to the chat's transcript.
type Relay struct {
	store  *store.Store
	sender interfaces.Sender
	logger *zap.Logger
}

// NewRelay creates a message relay.
func NewRelay(st *store.Store, sender interfaces.Sender, logger *zap.Logger) *Relay {
	return &Relay{store: st, sender: sender, logger: logger}
}

// StudentMessage relays a message from a paired student. The sender must be
// in the paired index; a message arriving after its session was torn down
// (a phone going dark and resuming under a new connection) is reported as
// ErrNotInPairedChat so the client gets a structured acknowledgment.
//
// When the classroom is already gone the message still reaches the peer but
// is neither forwarded to a teacher nor recorded.
func (r *Relay) StudentMessage(text, studentConnID string) error {
	chatID, ok := r.store.PairedChatID(studentConnID)
	if !ok {
		return ErrNotInPairedChat
	}

	r.sender.ToRoomExcept(chatID, studentConnID, "student sent message", map[string]interface{}{
		"message": text,
	})

	student := r.store.Student(studentConnID)
	if student == nil {
		return ErrNotInPairedChat
	}
	classroom := r.store.Classroom(student.ClassroomName)
	if classroom == nil {
		return nil
	}

	r.sender.ToConnection(classroom.TeacherConnID, "teacher listens to student message", map[string]interface{}{
		"message":  text,
		"socketId": studentConnID,
		"chatId":   chatID,
	})

	chat := classroom.Chats[chatID]
	if chat == nil {
		return ErrChatNotFound
	}
	chat.Append(chat.AuthorFor(studentConnID), text)
	metrics.MessagesRelayed.Inc()
	return nil
}

// TeacherMessage relays a teacher's message into one of their paired chats.
// A chat id that does not belong to the teacher's classroom is rejected.
func (r *Relay) TeacherMessage(text, teacherConnID, chatID string) error {
	teacher := r.store.Teacher(teacherConnID)
	if teacher == nil {
		return ErrTeacherNotFound
	}
	classroom := r.store.Classroom(teacher.ClassroomName)
	if classroom == nil {
		return ErrClassroomNotFound
	}
	chat := classroom.Chats[chatID]
	if chat == nil {
		return ErrChatNotFound
	}

	r.sender.ToRoomExcept(chatID, teacherConnID, "teacher sent message", map[string]interface{}{
		"message": text,
	})
	chat.Append(types.AuthorTeacher, text)
	metrics.MessagesRelayed.Inc()
	return nil
}

// Typing forwards a transient typing signal to the sender's chat room. It
// is never recorded, and a sender who is not paired is silently ignored.
func (r *Relay) Typing(studentConnID string) {
	chatID, ok := r.store.PairedChatID(studentConnID)
	if !ok {
		return
	}
	r.sender.ToRoomExcept(chatID, studentConnID, "peer is typing", struct{}{})
}
