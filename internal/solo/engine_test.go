package solo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"classrelay/internal/store"
	"classrelay/pkg/types"
)

type sentEvent struct {
	target  string
	event   string
	payload interface{}
}

type fakeSender struct {
	toConn []sentEvent
}

func (f *fakeSender) ToConnection(connID, event string, payload interface{}) {
	f.toConn = append(f.toConn, sentEvent{target: connID, event: event, payload: payload})
}

func (f *fakeSender) ToRoom(roomID, event string, payload interface{})               {}
func (f *fakeSender) ToRoomExcept(roomID, exceptConnID, event string, p interface{}) {}
func (f *fakeSender) JoinRoom(connID, roomID string)                                 {}
func (f *fakeSender) LeaveRoom(connID, roomID string)                                {}

func (f *fakeSender) eventsTo(connID, event string) []sentEvent {
	var out []sentEvent
	for _, e := range f.toConn {
		if e.target == connID && e.event == event {
			out = append(out, e)
		}
	}
	return out
}

// fakeScheduler queues reply requests and continuations so tests control the
// interleaving of in-flight chatbot calls.
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

// runNextGo completes the oldest in-flight chatbot call.
func (f *fakeScheduler) runNextGo(t *testing.T) {
	t.Helper()
	if len(f.gos) == 0 {
		t.Fatal("no in-flight chatbot call to complete")
	}
	fn := f.gos[0]
	f.gos = f.gos[1:]
	fn()
}

// runSubmits applies all queued continuations.
func (f *fakeScheduler) runSubmits() {
	submits := f.submits
	f.submits = nil
	for _, fn := range submits {
		_ = fn(context.Background())
	}
}

type fakeReplier struct {
	replies     []string
	err         error
	transcripts [][]types.ChatMessage
}

func (f *fakeReplier) Reply(ctx context.Context, character string, transcript []types.ChatMessage) ([]string, error) {
	f.transcripts = append(f.transcripts, transcript)
	return f.replies, f.err
}

func newTestEngine() (*Engine, *store.Store, *fakeSender, *fakeReplier, *fakeScheduler) {
	st := store.New()
	sender := &fakeSender{}
	replier := &fakeReplier{}
	sched := &fakeScheduler{}
	return NewEngine(st, sender, replier, sched, zap.NewNop()), st, sender, replier, sched
}

func setupClassroom(st *store.Store) {
	st.SetTeacher(&types.Teacher{ConnID: "t1", ClassroomName: "History 101"})
	st.SetClassroom(types.NewClassroom("History 101", "t1"))
	st.SetStudent(&types.Student{ConnID: "s1", ClassroomName: "History 101", RealName: "Sam"})
}

func startChat(t *testing.T, e *Engine, st *store.Store) string {
	t.Helper()
	result, err := e.Start("s1", "Cleopatra", "t1")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	return result.ChatID
}

func TestStart(t *testing.T) {
	e, st, sender, _, _ := newTestEngine()
	setupClassroom(st)

	result, err := e.Start("s1", "Cleopatra", "t1")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if !strings.HasSuffix(result.ChatID, "#s1") {
		t.Errorf("chat id should end with the student's connection id: %q", result.ChatID)
	}
	if len(result.Messages) != 2 {
		t.Fatalf("expected the two-message welcome transcript, got %d", len(result.Messages))
	}
	for _, msg := range result.Messages {
		if msg.Author != types.AuthorChatbot {
			t.Errorf("welcome messages should be authored by the chatbot: %+v", msg)
		}
	}

	chat := st.Classroom("History 101").SoloChats[result.ChatID]
	if chat == nil {
		t.Fatal("chat record should be registered in the classroom")
	}
	if chat.Student.Character != "Cleopatra" || chat.Student.ConnID != "s1" {
		t.Errorf("unexpected chat identity: %+v", chat.Student)
	}
	if id, ok := st.SoloChatID("s1"); !ok || id != result.ChatID {
		t.Error("solo index entry should point at the new chat")
	}

	started := sender.eventsTo("s1", "solo mode: chat started")
	if len(started) != 1 {
		t.Fatalf("student should be told the chat started, got %d events", len(started))
	}
	payload := started[0].payload.(map[string]interface{})
	if payload["character"] != "Cleopatra" {
		t.Errorf("unexpected start payload: %v", payload)
	}
}

func TestStart_Guards(t *testing.T) {
	e, st, _, _, _ := newTestEngine()

	if _, err := e.Start("s1", "Cleopatra", "t1"); !errors.Is(err, ErrTeacherNotFound) {
		t.Errorf("expected ErrTeacherNotFound, got %v", err)
	}

	setupClassroom(st)
	if _, err := e.Start("ghost", "Cleopatra", "t1"); !errors.Is(err, ErrStudentNotFound) {
		t.Errorf("expected ErrStudentNotFound, got %v", err)
	}

	// A paired student cannot enter solo mode.
	st.Student("s1").PeerConnID = "s2"
	if _, err := e.Start("s1", "Cleopatra", "t1"); !errors.Is(err, ErrStudentBusy) {
		t.Errorf("expected ErrStudentBusy for a paired student, got %v", err)
	}
	st.Student("s1").PeerConnID = ""

	// Neither can a student already in a solo chat.
	startChat(t, e, st)
	if _, err := e.Start("s1", "Caesar", "t1"); !errors.Is(err, ErrStudentBusy) {
		t.Errorf("expected ErrStudentBusy for a solo student, got %v", err)
	}
}

func TestStudentMessage_ForwardsAndReplies(t *testing.T) {
	e, st, sender, replier, sched := newTestEngine()
	setupClassroom(st)
	chatID := startChat(t, e, st)
	chat := st.Classroom("History 101").SoloChats[chatID]

	var delivered []types.ChatMessage
	err := e.StudentMessage("I need advice", "s1", func(replies []types.ChatMessage) {
		delivered = replies
	})
	if err != nil {
		t.Fatalf("student message failed: %v", err)
	}

	// The student message reaches the teacher and the transcript immediately.
	if len(sender.eventsTo("t1", "solo mode: teacher listens to new message")) != 1 {
		t.Error("teacher should receive the student message")
	}
	if len(chat.Messages) != 3 {
		t.Fatalf("expected welcome plus student message, got %d entries", len(chat.Messages))
	}

	replier.replies = []string{"Oh gosh!", "Tell me more"}
	sched.runNextGo(t)
	sched.runSubmits()

	// The replier saw the transcript up to and including the new message.
	if len(replier.transcripts) != 1 || len(replier.transcripts[0]) != 3 {
		t.Fatalf("replier should see the 3-message transcript: %+v", replier.transcripts)
	}

	if len(delivered) != 2 {
		t.Fatalf("expected both reply messages delivered, got %d", len(delivered))
	}
	if delivered[0].Author != types.AuthorChatbot || delivered[0].Text != "Oh gosh!" {
		t.Errorf("unexpected delivered reply: %+v", delivered[0])
	}

	// Replies are recorded and forwarded to the teacher too.
	if len(chat.Messages) != 5 {
		t.Errorf("expected replies appended to the transcript, got %d entries", len(chat.Messages))
	}
	if len(sender.eventsTo("t1", "solo mode: teacher listens to new message")) != 2 {
		t.Error("teacher should receive the chatbot replies as well")
	}
}

func TestStudentMessage_StaleReplyDropped(t *testing.T) {
	e, st, _, replier, sched := newTestEngine()
	setupClassroom(st)
	chatID := startChat(t, e, st)
	chat := st.Classroom("History 101").SoloChats[chatID]

	var delivered1, delivered2 []types.ChatMessage
	_ = e.StudentMessage("first", "s1", func(r []types.ChatMessage) { delivered1 = r })
	_ = e.StudentMessage("second", "s1", func(r []types.ChatMessage) { delivered2 = r })

	// The reply to the first message arrives after the second message was
	// sent: it is stale and must be dropped without delivery.
	replier.replies = []string{"reply to first"}
	sched.runNextGo(t)
	sched.runSubmits()

	if delivered1 != nil {
		t.Error("stale reply must not be delivered")
	}
	if len(chat.Messages) != 4 {
		t.Errorf("stale reply must not be recorded, transcript has %d entries", len(chat.Messages))
	}

	// The reply to the second message is current and goes through.
	replier.replies = []string{"reply to second"}
	sched.runNextGo(t)
	sched.runSubmits()

	if len(delivered2) != 1 || delivered2[0].Text != "reply to second" {
		t.Fatalf("current reply should be delivered: %+v", delivered2)
	}

	// Final transcript: welcome pair, both student messages, one reply.
	want := []string{
		types.AuthorChatbot, types.AuthorChatbot,
		types.AuthorStudent, types.AuthorStudent,
		types.AuthorChatbot,
	}
	if len(chat.Messages) != len(want) {
		t.Fatalf("expected %d transcript entries, got %d", len(want), len(chat.Messages))
	}
	for i, author := range want {
		if chat.Messages[i].Author != author {
			t.Errorf("entry %d: expected author %s, got %s", i, author, chat.Messages[i].Author)
		}
	}
	if chat.Messages[4].Text != "reply to second" {
		t.Errorf("unexpected final reply: %+v", chat.Messages[4])
	}
}

func TestStudentMessage_ReplierFailureIsSwallowed(t *testing.T) {
	e, st, sender, replier, sched := newTestEngine()
	setupClassroom(st)
	chatID := startChat(t, e, st)
	chat := st.Classroom("History 101").SoloChats[chatID]
	replier.err = errors.New("model unavailable")

	delivered := false
	_ = e.StudentMessage("hello?", "s1", func([]types.ChatMessage) { delivered = true })

	sched.runNextGo(t)
	sched.runSubmits()

	if delivered {
		t.Error("no delivery expected when reply generation fails")
	}
	if len(chat.Messages) != 3 {
		t.Errorf("only the student message should be recorded, got %d entries", len(chat.Messages))
	}
	// The student's message still reached the teacher.
	if len(sender.eventsTo("t1", "solo mode: teacher listens to new message")) != 1 {
		t.Error("the student message should have been forwarded before the failure")
	}
}

func TestStudentMessage_ReplyAfterChatEndedDropped(t *testing.T) {
	e, st, _, replier, sched := newTestEngine()
	setupClassroom(st)
	chatID := startChat(t, e, st)
	chat := st.Classroom("History 101").SoloChats[chatID]

	delivered := false
	_ = e.StudentMessage("last words", "s1", func([]types.ChatMessage) { delivered = true })

	// Teacher ends the chat while the reply is in flight.
	if err := e.End("t1", chatID); err != nil {
		t.Fatalf("end failed: %v", err)
	}

	replier.replies = []string{"too late"}
	sched.runNextGo(t)
	sched.runSubmits()

	if delivered {
		t.Error("reply to an ended chat must not be delivered")
	}
	if len(chat.Messages) != 3 {
		t.Errorf("reply to an ended chat must not be recorded, got %d entries", len(chat.Messages))
	}
}

func TestStudentMessage_Guards(t *testing.T) {
	e, st, _, _, _ := newTestEngine()
	setupClassroom(st)

	err := e.StudentMessage("x", "s1", func([]types.ChatMessage) {})
	if !errors.Is(err, ErrNotInSoloChat) {
		t.Errorf("expected ErrNotInSoloChat, got %v", err)
	}

	startChat(t, e, st)
	st.DeleteClassroom("History 101")

	err = e.StudentMessage("x", "s1", func([]types.ChatMessage) {})
	if !errors.Is(err, ErrSoloChatNotFound) {
		t.Errorf("expected ErrSoloChatNotFound after classroom teardown, got %v", err)
	}
}

func TestTeacherMessage(t *testing.T) {
	e, st, sender, _, _ := newTestEngine()
	setupClassroom(st)
	chatID := startChat(t, e, st)
	chat := st.Classroom("History 101").SoloChats[chatID]

	if err := e.TeacherMessage("keep going", "t1", chatID); err != nil {
		t.Fatalf("teacher message failed: %v", err)
	}

	msgs := sender.eventsTo("s1", "solo mode: teacher sent message")
	if len(msgs) != 1 {
		t.Fatalf("student should receive the teacher message, got %d", len(msgs))
	}
	last := chat.Messages[len(chat.Messages)-1]
	if last.Author != types.AuthorTeacher || last.Text != "keep going" {
		t.Errorf("unexpected transcript entry: %+v", last)
	}

	if err := e.TeacherMessage("x", "t1", "unknown"); !errors.Is(err, ErrSoloChatNotFound) {
		t.Errorf("expected ErrSoloChatNotFound, got %v", err)
	}
	if err := e.TeacherMessage("x", "ghost", chatID); !errors.Is(err, ErrTeacherNotFound) {
		t.Errorf("expected ErrTeacherNotFound, got %v", err)
	}
}

func TestEnd(t *testing.T) {
	e, st, sender, _, _ := newTestEngine()
	setupClassroom(st)
	chatID := startChat(t, e, st)

	if err := e.End("t1", chatID); err != nil {
		t.Fatalf("end failed: %v", err)
	}

	if _, ok := st.SoloChatID("s1"); ok {
		t.Error("solo index entry should be cleared")
	}
	if len(sender.eventsTo("s1", "solo mode: teacher ended chat")) != 1 {
		t.Error("student should be told the chat ended")
	}
	// The transcript stays for archival.
	if st.Classroom("History 101").SoloChats[chatID] == nil {
		t.Error("chat record must survive the end of the session")
	}
}
