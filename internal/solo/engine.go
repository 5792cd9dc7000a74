package solo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classrelay/internal/metrics"
	"classrelay/internal/store"
	"classrelay/pkg/interfaces"
	"classrelay/pkg/types"
)

// Engine runs student-vs-chatbot sessions. The delicate part is reply
// delivery: the chatbot call has unbounded latency and the student may send
// another message while a reply is still in flight. Every student message
// stamps a fresh token on the chat before its request is issued; when a
// reply comes back it is applied only if the stamped token is still the
// chat's current one, so only the most recently requested reply is ever
// delivered or recorded.
type Engine struct {
	store   *store.Store
	sender  interfaces.Sender
	replier interfaces.Replier
	sched   interfaces.Scheduler
	logger  *zap.Logger
}

// NewEngine creates a solo-mode engine.
func NewEngine(st *store.Store, sender interfaces.Sender, replier interfaces.Replier, sched interfaces.Scheduler, logger *zap.Logger) *Engine {
	return &Engine{store: st, sender: sender, replier: replier, sched: sched, logger: logger}
}

// StartResult is returned to the teacher's start request.
type StartResult struct {
	ChatID   string              `json:"chatId"`
	Messages []types.ChatMessage `json:"messages"`
}

// welcomeTranscript returns the fixed two-message opening of a solo chat.
func welcomeTranscript() []types.ChatMessage {
	return []types.ChatMessage{
		{Author: types.AuthorChatbot, Text: "Hi there! 👋"},
		{Author: types.AuthorChatbot, Text: "So, um, who are you roleplaying as today? 😊"},
	}
}

// Start opens a solo chat for a student. The chat is registered in the
// classroom and the solo index, the student is told their character and the
// welcome transcript, and the same data is returned to the teacher.
func (e *Engine) Start(studentConnID, characterName, teacherConnID string) (*StartResult, error) {
	teacher := e.store.Teacher(teacherConnID)
	if teacher == nil {
		return nil, ErrTeacherNotFound
	}
	classroom := e.store.Classroom(teacher.ClassroomName)
	if classroom == nil {
		return nil, ErrClassroomNotFound
	}
	student := e.store.Student(studentConnID)
	if student == nil {
		return nil, ErrStudentNotFound
	}
	if _, inSolo := e.store.SoloChatID(studentConnID); inSolo || student.Paired() {
		return nil, ErrStudentBusy
	}

	welcome := welcomeTranscript()
	chatID := fmt.Sprintf("%s#%s", uuid.NewString()[:8], studentConnID)

	classroom.SoloChats[chatID] = &types.SoloChat{
		ID: chatID,
		Student: types.StudentIdentity{
			RealName:  student.RealName,
			Character: characterName,
			ConnID:    studentConnID,
		},
		Messages: welcome,
	}
	e.store.SetSoloChatID(studentConnID, chatID)

	e.sender.ToConnection(studentConnID, "solo mode: chat started", map[string]interface{}{
		"character": characterName,
		"messages":  welcome,
	})

	e.logger.Info("solo chat started",
		zap.String("chat", chatID), zap.String("classroom", classroom.Name))
	return &StartResult{ChatID: chatID, Messages: welcome}, nil
}

// StudentMessage records a solo student's message, forwards it to the
// teacher, and requests a chatbot reply. The reply request runs off-loop;
// when it completes, deliver is invoked back on the dispatch loop with the
// reply messages — unless a newer student message made the reply stale, in
// which case it is dropped and deliver is never called.
func (e *Engine) StudentMessage(text, studentConnID string, deliver func(replies []types.ChatMessage)) error {
	chatID, ok := e.store.SoloChatID(studentConnID)
	if !ok {
		return ErrNotInSoloChat
	}
	student := e.store.Student(studentConnID)
	if student == nil {
		return ErrNotInSoloChat
	}
	classroom := e.store.Classroom(student.ClassroomName)
	if classroom == nil {
		// The teacher left; the chat record went with the classroom.
		return ErrSoloChatNotFound
	}
	chat := classroom.SoloChats[chatID]
	if chat == nil {
		return ErrSoloChatNotFound
	}

	e.forwardAndRecord(classroom, chat, types.ChatMessage{Author: types.AuthorStudent, Text: text})
	metrics.MessagesRelayed.Inc()

	// Stamp before issuing the request: a later message overwrites this
	// and thereby invalidates the reply we are about to wait for.
	token := uuid.NewString()
	chat.LastStudentMessageToken = token

	character := chat.Student.Character
	transcript := chat.CloneMessages()

	e.sched.Go("solo reply "+chatID, func() {
		replies, err := e.replier.Reply(context.Background(), character, transcript)
		submitErr := e.sched.Submit("solo reply delivery", func(ctx context.Context) error {
			return e.applyReply(studentConnID, chatID, token, replies, err, deliver)
		})
		if submitErr != nil {
			e.logger.Error("could not schedule reply delivery",
				zap.String("chat", chatID), zap.Error(submitErr))
		}
	})
	return nil
}

// applyReply runs back on the dispatch loop after the chatbot call. All
// state is re-read: the student, classroom, or chat may be gone, and the
// token decides whether this reply is still the one to deliver.
func (e *Engine) applyReply(studentConnID, chatID, token string, replies []string, callErr error, deliver func([]types.ChatMessage)) error {
	if callErr != nil {
		e.logger.Warn("reply generation failed",
			zap.String("chat", chatID), zap.Error(callErr))
		return nil
	}

	student := e.store.Student(studentConnID)
	if student == nil {
		return nil
	}
	if current, ok := e.store.SoloChatID(studentConnID); !ok || current != chatID {
		return nil
	}
	classroom := e.store.Classroom(student.ClassroomName)
	if classroom == nil {
		return nil
	}
	chat := classroom.SoloChats[chatID]
	if chat == nil {
		return nil
	}

	if chat.LastStudentMessageToken != token {
		metrics.StaleRepliesDropped.Inc()
		e.logger.Debug("stale chatbot reply dropped", zap.String("chat", chatID))
		return nil
	}

	messages := make([]types.ChatMessage, len(replies))
	for i, reply := range replies {
		messages[i] = types.ChatMessage{Author: types.AuthorChatbot, Text: reply}
	}
	e.forwardAndRecord(classroom, chat, messages...)

	if len(messages) > 0 {
		deliver(messages)
	}
	return nil
}

// forwardAndRecord sends messages to the teacher and appends them to the
// solo transcript.
func (e *Engine) forwardAndRecord(classroom *types.Classroom, chat *types.SoloChat, messages ...types.ChatMessage) {
	e.sender.ToConnection(classroom.TeacherConnID, "solo mode: teacher listens to new message", map[string]interface{}{
		"messages": messages,
		"chatId":   chat.ID,
	})
	chat.Append(messages...)
}

// TeacherMessage relays a teacher's message into a solo chat.
func (e *Engine) TeacherMessage(text, teacherConnID, soloChatID string) error {
	chat, _, err := e.lookupChat(teacherConnID, soloChatID)
	if err != nil {
		return err
	}

	e.sender.ToConnection(chat.Student.ConnID, "solo mode: teacher sent message", map[string]interface{}{
		"message": text,
	})
	chat.Append(types.ChatMessage{Author: types.AuthorTeacher, Text: text})
	metrics.MessagesRelayed.Inc()
	return nil
}

// End closes a solo session: the solo index entry is cleared and the
// student is notified. The chat record stays in the classroom for archival.
func (e *Engine) End(teacherConnID, soloChatID string) error {
	chat, _, err := e.lookupChat(teacherConnID, soloChatID)
	if err != nil {
		return err
	}

	e.store.DeleteSoloChatID(chat.Student.ConnID)
	e.sender.ToConnection(chat.Student.ConnID, "solo mode: teacher ended chat", struct{}{})

	e.logger.Info("solo chat ended", zap.String("chat", soloChatID))
	return nil
}

// lookupChat resolves a solo chat id within the requesting teacher's
// classroom.
func (e *Engine) lookupChat(teacherConnID, soloChatID string) (*types.SoloChat, *types.Classroom, error) {
	teacher := e.store.Teacher(teacherConnID)
	if teacher == nil {
		return nil, nil, ErrTeacherNotFound
	}
	classroom := e.store.Classroom(teacher.ClassroomName)
	if classroom == nil {
		return nil, nil, ErrClassroomNotFound
	}
	chat := classroom.SoloChats[soloChatID]
	if chat == nil {
		return nil, nil, ErrSoloChatNotFound
	}
	return chat, classroom, nil
}
