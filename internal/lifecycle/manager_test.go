package lifecycle

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"classrelay/internal/store"
	"classrelay/pkg/types"
)

// fakeScheduler queues background tasks and continuations so tests control
// exactly when the archival "call" completes relative to other events.
type fakeScheduler struct {
	gos     []func()
	submits []func(ctx context.Context) error
}

func (f *fakeScheduler) Go(name string, fn func()) {
	f.gos = append(f.gos, fn)
}

func (f *fakeScheduler) Submit(name string, fn func(ctx context.Context) error) error {
	f.submits = append(f.submits, fn)
	return nil
}

// drain runs queued tasks and continuations until nothing is pending.
func (f *fakeScheduler) drain() {
	for len(f.gos) > 0 || len(f.submits) > 0 {
		gos := f.gos
		f.gos = nil
		for _, fn := range gos {
			fn()
		}
		submits := f.submits
		f.submits = nil
		for _, fn := range submits {
			_ = fn(context.Background())
		}
	}
}

type archiveCall struct {
	classroomName string
	chats         []*types.PairedChat
	soloChats     []*types.SoloChat
	email         string
}

type fakeArchiver struct {
	calls []archiveCall
	err   error
}

func (f *fakeArchiver) Archive(ctx context.Context, classroomName string, chats []*types.PairedChat, soloChats []*types.SoloChat, email string) error {
	f.calls = append(f.calls, archiveCall{classroomName, chats, soloChats, email})
	return f.err
}

func newTestManager() (*Manager, *store.Store, *fakeArchiver, *fakeScheduler) {
	st := store.New()
	archiver := &fakeArchiver{}
	sched := &fakeScheduler{}
	return NewManager(st, archiver, sched, zap.NewNop()), st, archiver, sched
}

func TestActivate(t *testing.T) {
	m, st, _, _ := newTestManager()

	if err := m.Activate("History 101", "t1"); err != nil {
		t.Fatalf("activate failed: %v", err)
	}

	teacher := st.Teacher("t1")
	if teacher == nil || teacher.ClassroomName != "History 101" {
		t.Fatalf("unexpected teacher record: %+v", teacher)
	}
	classroom := st.Classroom("History 101")
	if classroom == nil || classroom.TeacherConnID != "t1" {
		t.Fatalf("unexpected classroom record: %+v", classroom)
	}
}

func TestActivate_InvalidName(t *testing.T) {
	m, st, _, _ := newTestManager()

	if err := m.Activate("   ", "t1"); !errors.Is(err, types.ErrInvalidClassroomName) {
		t.Errorf("expected ErrInvalidClassroomName, got %v", err)
	}
	if st.Teacher("t1") != nil {
		t.Error("no teacher record should be created for an invalid name")
	}
}

func TestActivate_ReuseReplacesClassroom(t *testing.T) {
	m, st, _, _ := newTestManager()

	_ = m.Activate("History 101", "t1")
	st.Classroom("History 101").Email = "old@example.com"

	if err := m.Activate("History 101", "t2"); err != nil {
		t.Fatalf("reactivation failed: %v", err)
	}

	classroom := st.Classroom("History 101")
	if classroom.TeacherConnID != "t2" {
		t.Errorf("expected new owner t2, got %s", classroom.TeacherConnID)
	}
	if classroom.Email != "" {
		t.Error("reactivation should start from a fresh classroom")
	}
}

func TestSetArchivalEmail(t *testing.T) {
	m, st, _, _ := newTestManager()

	if err := m.SetArchivalEmail("History 101", "a@b.c"); !errors.Is(err, ErrClassroomNotFound) {
		t.Errorf("expected ErrClassroomNotFound, got %v", err)
	}

	_ = m.Activate("History 101", "t1")
	if err := m.SetArchivalEmail("History 101", "a@b.c"); err != nil {
		t.Fatalf("set email failed: %v", err)
	}
	if st.Classroom("History 101").Email != "a@b.c" {
		t.Error("email was not stored")
	}
}

func TestDeactivate_UnknownTeacherIsNoOp(t *testing.T) {
	m, _, archiver, sched := newTestManager()

	if err := m.Deactivate(context.Background(), "nobody"); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	sched.drain()
	if len(archiver.calls) != 0 {
		t.Error("no archival expected for an unknown teacher")
	}
}

func TestDeactivate_ArchivesAllTranscriptsThenRemovesRecords(t *testing.T) {
	m, st, archiver, sched := newTestManager()

	_ = m.Activate("History 101", "t1")
	classroom := st.Classroom("History 101")
	classroom.Email = "teacher@example.com"
	classroom.Chats["chat-1"] = &types.PairedChat{
		ID:       "chat-1",
		Messages: []types.ChatMessage{{Author: types.AuthorStudent1, Text: "hi"}},
	}
	classroom.SoloChats["solo-1"] = &types.SoloChat{
		ID:       "solo-1",
		Messages: []types.ChatMessage{{Author: types.AuthorChatbot, Text: "Hi there! 👋"}},
	}

	if err := m.Deactivate(context.Background(), "t1"); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	// Records survive until archival completes.
	if st.Classroom("History 101") == nil || st.Teacher("t1") == nil {
		t.Fatal("records must not be removed before archival completes")
	}

	sched.drain()

	if len(archiver.calls) != 1 {
		t.Fatalf("expected 1 archival, got %d", len(archiver.calls))
	}
	call := archiver.calls[0]
	if call.classroomName != "History 101" || call.email != "teacher@example.com" {
		t.Errorf("unexpected archival call: %+v", call)
	}
	if len(call.chats) != 1 || len(call.soloChats) != 1 {
		t.Errorf("expected all transcripts in the archival: %d paired, %d solo",
			len(call.chats), len(call.soloChats))
	}

	if st.Classroom("History 101") != nil {
		t.Error("classroom record should be removed after archival")
	}
	if st.Teacher("t1") != nil {
		t.Error("teacher record should be removed after archival")
	}
}

func TestDeactivate_RunsExactlyOnce(t *testing.T) {
	m, st, archiver, sched := newTestManager()

	_ = m.Activate("History 101", "t1")
	st.Classroom("History 101").Chats["chat-1"] = &types.PairedChat{ID: "chat-1"}

	// Explicit deactivate followed by the disconnect cascade for the same
	// teacher, before the archival call completes.
	_ = m.Deactivate(context.Background(), "t1")
	_ = m.Deactivate(context.Background(), "t1")
	sched.drain()

	if len(archiver.calls) != 1 {
		t.Errorf("expected exactly 1 archival, got %d", len(archiver.calls))
	}
}

func TestDeactivate_SnapshotIsolatedFromLiveChats(t *testing.T) {
	m, st, archiver, sched := newTestManager()

	_ = m.Activate("History 101", "t1")
	classroom := st.Classroom("History 101")
	chat := &types.PairedChat{ID: "chat-1"}
	chat.Append(types.AuthorStudent1, "before teardown")
	classroom.Chats["chat-1"] = chat

	_ = m.Deactivate(context.Background(), "t1")

	// A message relayed while the archival call is in flight.
	chat.Append(types.AuthorStudent2, "after teardown")
	sched.drain()

	if got := len(archiver.calls[0].chats[0].Messages); got != 1 {
		t.Errorf("snapshot should hold 1 message, got %d", got)
	}
}

func TestDeactivate_ArchiverFailureStillCleansUp(t *testing.T) {
	m, st, archiver, sched := newTestManager()
	archiver.err = errors.New("smtp down")

	_ = m.Activate("History 101", "t1")
	st.Classroom("History 101").Chats["chat-1"] = &types.PairedChat{ID: "chat-1"}

	if err := m.Deactivate(context.Background(), "t1"); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	sched.drain()

	if st.Classroom("History 101") != nil || st.Teacher("t1") != nil {
		t.Error("records should be removed even when archival fails")
	}
}

func TestDeactivate_StaleTeacherCannotTearDownReusedName(t *testing.T) {
	m, st, archiver, sched := newTestManager()

	// t1 owns the name first, then t2 reuses it while t1 is still connected.
	_ = m.Activate("History 101", "t1")
	_ = m.Activate("History 101", "t2")
	st.Classroom("History 101").Chats["chat-1"] = &types.PairedChat{
		ID:       "chat-1",
		Messages: []types.ChatMessage{{Author: types.AuthorStudent1, Text: "hi"}},
	}

	// t1's late disconnect must not touch t2's live classroom.
	if err := m.Deactivate(context.Background(), "t1"); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	sched.drain()

	if len(archiver.calls) != 0 {
		t.Fatalf("stale teacher must not trigger archival, got %d calls", len(archiver.calls))
	}
	if st.Teacher("t1") != nil {
		t.Error("stale teacher record should be cleaned up")
	}
	classroom := st.Classroom("History 101")
	if classroom == nil || classroom.Closing {
		t.Fatalf("live classroom must stay open, got %+v", classroom)
	}

	// The real owner's teardown still runs to completion.
	_ = m.Deactivate(context.Background(), "t2")
	sched.drain()

	if len(archiver.calls) != 1 {
		t.Fatalf("expected 1 archival for the live classroom, got %d", len(archiver.calls))
	}
	if len(archiver.calls[0].chats) != 1 {
		t.Errorf("live transcripts should be archived, got %d", len(archiver.calls[0].chats))
	}
	if st.Classroom("History 101") != nil || st.Teacher("t2") != nil {
		t.Error("owner teardown should remove the classroom and teacher records")
	}
}

func TestDeactivate_ReactivationDuringArchivalSurvives(t *testing.T) {
	m, st, _, sched := newTestManager()

	_ = m.Activate("History 101", "t1")
	st.Classroom("History 101").Chats["chat-1"] = &types.PairedChat{ID: "chat-1"}

	_ = m.Deactivate(context.Background(), "t1")

	// Same teacher connection brings the classroom straight back before the
	// archival call returns.
	_ = m.Activate("History 101", "t1")
	sched.drain()

	classroom := st.Classroom("History 101")
	if classroom == nil {
		t.Fatal("reactivated classroom must survive the old teardown's cleanup")
	}
	if classroom.Closing {
		t.Error("reactivated classroom should not be marked closing")
	}
	if st.Teacher("t1") == nil {
		t.Error("reactivated teacher record must survive the old teardown's cleanup")
	}
}
