package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"classrelay/internal/store"
	"classrelay/pkg/interfaces"
	"classrelay/pkg/types"
)

// Manager owns the classroom lifecycle: activation binds a classroom to a
// teacher connection, deactivation archives every transcript and then
// removes the records. Both the teacher-disconnect path and the explicit
// deactivate event route through Deactivate.
type Manager struct {
	store    *store.Store
	archiver interfaces.Archiver
	sched    interfaces.Scheduler
	logger   *zap.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(st *store.Store, archiver interfaces.Archiver, sched interfaces.Scheduler, logger *zap.Logger) *Manager {
	return &Manager{
		store:    st,
		archiver: archiver,
		sched:    sched,
		logger:   logger,
	}
}

// Activate registers the teacher and creates an empty classroom under the
// name. Reusing a name silently replaces the old classroom: reactivation is
// a fresh start, not an error.
func (m *Manager) Activate(classroomName, teacherConnID string) error {
	if !types.IsValidClassroomName(classroomName) {
		return types.ErrInvalidClassroomName
	}

	m.store.SetTeacher(&types.Teacher{ConnID: teacherConnID, ClassroomName: classroomName})
	m.store.SetClassroom(types.NewClassroom(classroomName, teacherConnID))

	m.logger.Info("classroom activated",
		zap.String("classroom", classroomName), zap.String("teacher", teacherConnID))
	return nil
}

// SetArchivalEmail overwrites the address the transcript digest is sent to.
// The address is stored as given; no syntax validation.
func (m *Manager) SetArchivalEmail(classroomName, address string) error {
	classroom := m.store.Classroom(classroomName)
	if classroom == nil {
		return ErrClassroomNotFound
	}
	classroom.Email = address
	return nil
}

// Deactivate tears a classroom down: transcripts are snapshotted and handed
// to the archiver off-loop, and only after that call completes are the
// classroom and teacher records removed. A connection that owns no
// classroom is a no-op, as is a classroom whose archival is already in
// flight, so teardown runs exactly once.
//
// Student records are left untouched: students already in a chat keep
// chatting, their later messages simply are not recorded or forwarded.
func (m *Manager) Deactivate(ctx context.Context, teacherConnID string) error {
	teacher := m.store.Teacher(teacherConnID)
	if teacher == nil {
		return nil
	}

	classroom := m.store.Classroom(teacher.ClassroomName)
	if classroom == nil {
		// Record mismatch, only the teacher entry to clean up.
		m.store.DeleteTeacher(teacherConnID)
		return nil
	}
	if classroom.TeacherConnID != teacherConnID {
		// The name was reactivated under another connection; the live
		// classroom is not this teacher's to tear down.
		m.store.DeleteTeacher(teacherConnID)
		return nil
	}
	if classroom.Closing {
		return nil
	}
	classroom.Closing = true

	// Snapshot inside the synchronous section: the archival call runs on
	// its own goroutine while the loop keeps appending to live chats.
	name := classroom.Name
	email := classroom.Email
	chats := make([]*types.PairedChat, 0, len(classroom.Chats))
	for _, chat := range classroom.Chats {
		chats = append(chats, chat.Clone())
	}
	soloChats := make([]*types.SoloChat, 0, len(classroom.SoloChats))
	for _, chat := range classroom.SoloChats {
		soloChats = append(soloChats, chat.Clone())
	}

	m.sched.Go("archive classroom "+name, func() {
		if err := m.archiver.Archive(context.Background(), name, chats, soloChats, email); err != nil {
			m.logger.Error("classroom archival failed",
				zap.String("classroom", name), zap.Error(err))
		}
		if err := m.sched.Submit("finish deactivate", func(ctx context.Context) error {
			m.finishDeactivate(teacherConnID, name)
			return nil
		}); err != nil {
			m.logger.Error("could not schedule deactivation cleanup",
				zap.String("classroom", name), zap.Error(err))
		}
	})
	return nil
}

// finishDeactivate removes the records once archival has completed. It runs
// back on the dispatch loop and re-reads everything: the name may have been
// reactivated as a fresh classroom while the archival call was in flight.
func (m *Manager) finishDeactivate(teacherConnID, classroomName string) {
	classroom := m.store.Classroom(classroomName)
	reactivated := classroom != nil && !classroom.Closing && classroom.TeacherConnID == teacherConnID

	if t := m.store.Teacher(teacherConnID); t != nil && t.ClassroomName == classroomName && !reactivated {
		m.store.DeleteTeacher(teacherConnID)
	}
	if classroom != nil && classroom.Closing && classroom.TeacherConnID == teacherConnID {
		m.store.DeleteClassroom(classroomName)
	}
	m.logger.Info("classroom deactivated", zap.String("classroom", classroomName))
}
