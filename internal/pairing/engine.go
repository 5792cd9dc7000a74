package pairing

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classrelay/internal/store"
	"classrelay/pkg/interfaces"
	"classrelay/pkg/types"
)

// StudentRef is how the teacher's client names one side of a pair: the
// student's connection id plus the role-play character assigned to them.
type StudentRef struct {
	ConnID    string `json:"socketId"`
	Character string `json:"character"`
	RealName  string `json:"realName,omitempty"`
}

// Pair is one requested pairing, decoded from a two-element JSON array.
type Pair [2]StudentRef

// Engine forms and dissolves paired chats. Pairing a student wires four
// things at once: the shared relay room, the paired index entries, the
// symmetric peer linkage, and the transcript record in the classroom.
type Engine struct {
	store  *store.Store
	sender interfaces.Sender
	logger *zap.Logger
}

// NewEngine creates a pairing engine.
func NewEngine(st *store.Store, sender interfaces.Sender, logger *zap.Logger) *Engine {
	return &Engine{store: st, sender: sender, logger: logger}
}

// newChatID builds a process-unique chat id from a random short code plus
// both connection ids.
func newChatID(connA, connB string) string {
	return fmt.Sprintf("%s#%s#%s", uuid.NewString()[:8], connA, connB)
}

// PairStudents forms one paired chat per requested pair. A pair whose
// members are unknown, already paired, or in solo mode is skipped and
// reported; the remaining pairs still go through.
func (e *Engine) PairStudents(pairs []Pair, teacherConnID string) error {
	teacher := e.store.Teacher(teacherConnID)
	if teacher == nil {
		return ErrTeacherNotFound
	}
	classroom := e.store.Classroom(teacher.ClassroomName)
	if classroom == nil {
		return ErrClassroomNotFound
	}

	var errs []error
	for _, pair := range pairs {
		s1 := e.store.Student(pair[0].ConnID)
		s2 := e.store.Student(pair[1].ConnID)
		if s1 == nil || s2 == nil {
			errs = append(errs, fmt.Errorf("%w: pair (%s, %s)",
				ErrStudentNotFound, pair[0].ConnID, pair[1].ConnID))
			continue
		}
		if e.busy(s1) || e.busy(s2) {
			errs = append(errs, fmt.Errorf("%w: pair (%s, %s)",
				ErrStudentBusy, s1.ConnID, s2.ConnID))
			continue
		}

		chatID := newChatID(s1.ConnID, s2.ConnID)

		e.sender.JoinRoom(s1.ConnID, chatID)
		e.sender.JoinRoom(s2.ConnID, chatID)

		e.store.SetPairedChatID(s1.ConnID, chatID)
		e.store.SetPairedChatID(s2.ConnID, chatID)

		s1.PeerConnID = s2.ConnID
		s2.PeerConnID = s1.ConnID

		e.sender.ToConnection(s1.ConnID, "chat start", map[string]interface{}{
			"yourCharacter":  pair[0].Character,
			"peersCharacter": pair[1].Character,
		})
		e.sender.ToConnection(s2.ConnID, "chat start", map[string]interface{}{
			"yourCharacter":  pair[1].Character,
			"peersCharacter": pair[0].Character,
		})

		identities := [2]types.StudentIdentity{
			{RealName: s1.RealName, Character: pair[0].Character, ConnID: s1.ConnID},
			{RealName: s2.RealName, Character: pair[1].Character, ConnID: s2.ConnID},
		}
		e.sender.ToConnection(teacherConnID, "chat started - two students", map[string]interface{}{
			"chatId":      chatID,
			"studentPair": identities,
		})

		classroom.Chats[chatID] = &types.PairedChat{
			ID:       chatID,
			Students: identities,
			Messages: []types.ChatMessage{},
		}

		e.logger.Info("students paired",
			zap.String("chat", chatID),
			zap.String("classroom", classroom.Name))
	}
	return errors.Join(errs...)
}

// UnpairChat ends a paired chat on the teacher's request. Both students are
// told the teacher ended it, the linkage and indices are cleared, and the
// teacher (when still connected) is told the unpair completed. The chat
// record stays in the classroom for archival.
func (e *Engine) UnpairChat(chatID string, ref1, ref2 StudentRef, teacherConnID string) error {
	s1 := e.store.Student(ref1.ConnID)
	s2 := e.store.Student(ref2.ConnID)
	if s1 == nil || s2 == nil {
		return fmt.Errorf("%w: chat %s", ErrStudentNotFound, chatID)
	}

	e.sender.ToRoom(chatID, "teacher ended chat", struct{}{})
	e.Unpair(chatID, s1, s2)

	if teacherConnID != "" {
		e.sender.ToConnection(teacherConnID, "student chat unpaired", map[string]interface{}{
			"chatId":   chatID,
			"student1": ref1,
			"student2": ref2,
		})
	}
	return nil
}

// Unpair dissolves the live pairing: room membership, peer linkage, and
// index entries. It deliberately does not touch the classroom's chat
// record, so the transcript survives until archival.
func (e *Engine) Unpair(chatID string, s1, s2 *types.Student) {
	e.sender.LeaveRoom(s1.ConnID, chatID)
	e.sender.LeaveRoom(s2.ConnID, chatID)

	s1.PeerConnID = ""
	s2.PeerConnID = ""

	e.store.DeletePairedChatID(s1.ConnID)
	e.store.DeletePairedChatID(s2.ConnID)
}

// busy reports whether a student is already in a paired or solo chat.
func (e *Engine) busy(s *types.Student) bool {
	if s.Paired() {
		return true
	}
	if _, ok := e.store.PairedChatID(s.ConnID); ok {
		return true
	}
	_, inSolo := e.store.SoloChatID(s.ConnID)
	return inSolo
}
