package interfaces

import (
	"context"

	"github.com/mailvault/mailvault/internal/models"
)

// MailStats is the per-account breakdown used by the stats report.
type MailStats struct {
	Total      int64
	Downloaded int64
	Orphans    int64
}

type MailRepository interface {
	// FirstOrCreate registers a mail under its (account, uuid) natural key.
	// When the key already exists the stored record is left untouched and
	// created is false.
	FirstOrCreate(ctx context.Context, mail *models.Mail) (created bool, err error)
	GetByID(ctx context.Context, id string) (*models.Mail, error)
	ListByIDs(ctx context.Context, ids []string) ([]*models.Mail, error)
	// ListPendingByAccount loads up to limit not-yet-downloaded mails with a
	// known folder, ordered by folder so callers can group folder selections.
	ListPendingByAccount(ctx context.Context, accountID string, limit int) ([]*models.Mail, error)
	CountPendingByAccount(ctx context.Context, accountID string) (int64, error)
	// CountDownloadedAmong reports how many of the given mail IDs have
	// flipped to downloaded, for progress polling over a dispatched set.
	CountDownloadedAmong(ctx context.Context, ids []string) (int64, error)
	// MarkDownloaded records a finished download: downloaded=true plus the
	// blob path (or the orphan sentinel). The transition is never reverted.
	MarkDownloaded(ctx context.Context, id string, filename string) error
	StatsByAccount(ctx context.Context, accountID string) (*MailStats, error)
	GlobalStats(ctx context.Context) (*MailStats, error)
}
