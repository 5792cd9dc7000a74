package archive

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"classrelay/internal/metrics"
	"classrelay/pkg/interfaces"
	"classrelay/pkg/types"
)

// Trigger exports a classroom's transcripts at teardown. It fires only when
// there is something to export and somewhere to send it: at least one
// transcript (ended or still live) and a configured email address. A copy
// is kept in the archive store before the digest is mailed.
type Trigger struct {
	mailer interfaces.Mailer
	db     interfaces.ArchiveStore
	logger *zap.Logger
}

// NewTrigger creates an archival trigger. db may be nil when no archive
// store is configured; the email hand-off still happens.
func NewTrigger(mailer interfaces.Mailer, db interfaces.ArchiveStore, logger *zap.Logger) *Trigger {
	return &Trigger{mailer: mailer, db: db, logger: logger}
}

// Archive implements interfaces.Archiver.
func (t *Trigger) Archive(ctx context.Context, classroomName string, chats []*types.PairedChat, soloChats []*types.SoloChat, email string) error {
	if len(chats) == 0 && len(soloChats) == 0 {
		t.logger.Debug("no transcripts to archive", zap.String("classroom", classroomName))
		return nil
	}
	if email == "" {
		t.logger.Debug("no archival email configured", zap.String("classroom", classroomName))
		return nil
	}

	// Best effort: a failed copy must not cost the teacher their email.
	if t.db != nil {
		if err := t.db.SaveClassroomArchive(ctx, classroomName, chats, soloChats); err != nil {
			t.logger.Error("transcript archive write failed",
				zap.String("classroom", classroomName), zap.Error(err))
		}
	}

	if err := t.mailer.SendTranscripts(ctx, email, chats, soloChats); err != nil {
		return fmt.Errorf("send transcript digest: %w", err)
	}

	metrics.ClassroomsArchived.Inc()
	t.logger.Info("classroom transcripts archived",
		zap.String("classroom", classroomName),
		zap.Int("paired_chats", len(chats)),
		zap.Int("solo_chats", len(soloChats)))
	return nil
}
