package interfaces

import (
	"context"
	"time"

	"github.com/mailvault/mailvault/internal/models"
)

type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) (string, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByUser(ctx context.Context, user string) (*models.Account, error)
	ListAll(ctx context.Context) ([]*models.Account, error)
	// ListIncomplete returns accounts whose completion timestamp is unset.
	ListIncomplete(ctx context.Context) ([]*models.Account, error)
	SetFolders(ctx context.Context, id string, folders []string) error
	// MarkCompleted sets the completion timestamp. It never overwrites an
	// existing one.
	MarkCompleted(ctx context.Context, id string, completedAt time.Time) error
	Count(ctx context.Context) (int64, error)
	CountCompleted(ctx context.Context) (int64, error)
}
