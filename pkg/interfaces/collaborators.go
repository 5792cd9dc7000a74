package interfaces

import (
	"context"

	"classrelay/pkg/types"
)

// Replier generates chatbot reply lines for a solo chat. Latency is
// unbounded and the call may fail; the caller arbitrates stale replies.
type Replier interface {
	Reply(ctx context.Context, character string, transcript []types.ChatMessage) ([]string, error)
}

// Mailer delivers the end-of-class transcript digest.
type Mailer interface {
	SendTranscripts(ctx context.Context, recipient string, chats []*types.PairedChat, soloChats []*types.SoloChat) error
}

// Archiver is invoked exactly once per classroom teardown with every
// transcript the classroom accumulated.
type Archiver interface {
	Archive(ctx context.Context, classroomName string, chats []*types.PairedChat, soloChats []*types.SoloChat, email string) error
}

// ArchiveStore keeps a durable copy of archived transcripts.
type ArchiveStore interface {
	SaveClassroomArchive(ctx context.Context, classroomName string, chats []*types.PairedChat, soloChats []*types.SoloChat) error
	HealthCheck(ctx context.Context) error
	Close() error
}
