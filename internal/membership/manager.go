package membership

import (
	"go.uber.org/zap"

	"classrelay/internal/pairing"
	"classrelay/internal/store"
	"classrelay/pkg/interfaces"
	"classrelay/pkg/types"
)

// Manager admits students to classrooms and removes them again, cascading
// the cleanup a departure needs: unpair if paired, clear the solo index if
// in solo mode, and keep the teacher informed while one is still connected.
type Manager struct {
	store   *store.Store
	sender  interfaces.Sender
	pairing *pairing.Engine
	logger  *zap.Logger
}

// NewManager creates a membership manager.
func NewManager(st *store.Store, sender interfaces.Sender, pairingEngine *pairing.Engine, logger *zap.Logger) *Manager {
	return &Manager{store: st, sender: sender, pairing: pairingEngine, logger: logger}
}

// Join admits a student into a classroom and notifies the teacher. A repeat
// join of the same connection overwrites the student record but does not
// insert a second membership entry or re-notify the teacher.
func (m *Manager) Join(realName, classroomName, studentConnID string) error {
	if !types.IsValidRealName(realName) {
		return types.ErrInvalidRealName
	}
	classroom := m.store.Classroom(classroomName)
	if classroom == nil {
		return ErrClassroomNotFound
	}

	m.store.SetStudent(&types.Student{
		ConnID:        studentConnID,
		ClassroomName: classroomName,
		RealName:      realName,
	})

	if classroom.HasStudent(studentConnID) {
		return nil
	}
	classroom.StudentConnIDs = append(classroom.StudentConnIDs, studentConnID)

	m.sender.ToConnection(classroom.TeacherConnID, "new student joined", map[string]interface{}{
		"realName": realName,
		"socketId": studentConnID,
	})

	m.logger.Info("student joined",
		zap.String("classroom", classroomName), zap.String("student", studentConnID))
	return nil
}

// Leave removes a student from the broker: membership entry, chat state,
// and finally the student record itself. The classroom may already be gone
// when the teacher left first; in that case only the chat-side cleanup
// runs. A paired student's peer is told their partner left and the chat is
// unpaired, with the transcript retained for archival.
func (m *Manager) Leave(studentConnID string) error {
	student := m.store.Student(studentConnID)
	if student == nil {
		return ErrStudentNotFound
	}

	paired := student.Paired()
	classroom := m.store.Classroom(student.ClassroomName)

	// The solo index entry goes regardless of whether the classroom is
	// still around; connection ids are never reused.
	soloChatID, inSolo := m.store.SoloChatID(studentConnID)
	if inSolo {
		m.store.DeleteSoloChatID(studentConnID)
	}

	var teacherConnID string
	if classroom != nil {
		classroom.RemoveStudent(studentConnID)
		teacherConnID = classroom.TeacherConnID

		if !paired && !inSolo {
			m.sender.ToConnection(teacherConnID, "unpaired student left", map[string]interface{}{
				"socketId": studentConnID,
			})
		}

		if inSolo {
			m.sender.ToConnection(teacherConnID, "solo mode: student disconnected", map[string]interface{}{
				"chatId": soloChatID,
			})
		}
	}

	if paired {
		chatID, _ := m.store.PairedChatID(studentConnID)
		peer := m.store.Student(student.PeerConnID)

		m.sender.ToRoomExcept(chatID, studentConnID, "peer left chat", struct{}{})

		if peer != nil {
			m.pairing.Unpair(chatID, student, peer)

			// The chat ended but the peer remains in the classroom.
			if teacherConnID != "" {
				m.sender.ToConnection(teacherConnID, "chat ended - two students", map[string]interface{}{
					"chatId": chatID,
					"student2": map[string]interface{}{
						"realName": peer.RealName,
						"socketId": peer.ConnID,
					},
				})
			}
		}
	}

	m.store.DeleteStudent(studentConnID)

	m.logger.Info("student left",
		zap.String("classroom", student.ClassroomName), zap.String("student", studentConnID))
	return nil
}

// Remove kicks a student out at the teacher's request. The student is told
// first, then the normal departure cascade runs.
func (m *Manager) Remove(studentConnID string) error {
	if m.store.Student(studentConnID) == nil {
		return ErrStudentNotFound
	}
	m.sender.ToConnection(studentConnID, "remove student from classroom", struct{}{})
	return m.Leave(studentConnID)
}
