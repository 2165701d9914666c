package interfaces

import (
	"context"

	"github.com/mailvault/mailvault/internal/models"
)

// EventPublisher notifies downstream consumers about download progress. All
// methods are fire-and-forget from the caller's point of view: a publish
// failure never fails the download that triggered it.
type EventPublisher interface {
	PublishMailDownloaded(ctx context.Context, mail *models.Mail)
	PublishAccountCompleted(ctx context.Context, account *models.Account)
	Close() error
}
