package repository

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/mailvault/mailvault/interfaces"
	"github.com/mailvault/mailvault/internal/models"
	"github.com/mailvault/mailvault/internal/tracing"
)

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) interfaces.AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if account == nil || account.User == "" {
		tracing.TraceErr(span, ErrInvalidInput)
		return "", ErrInvalidInput
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("\"user\" = ?", account.User).
		Count(&count).Error; err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	if count > 0 {
		return "", ErrAccountAlreadyExists
	}

	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	return account.ID, nil
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	var account models.Account
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) GetByUser(ctx context.Context, user string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetByUser")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var account models.Account
	err := r.db.WithContext(ctx).Where("\"user\" = ?", user).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) ListAll(ctx context.Context) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.ListAll")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var accounts []*models.Account
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&accounts).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return accounts, nil
}

func (r *accountRepository) ListIncomplete(ctx context.Context) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.ListIncomplete")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var accounts []*models.Account
	if err := r.db.WithContext(ctx).
		Where("completed_at IS NULL").
		Order("created_at ASC").
		Find(&accounts).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return accounts, nil
}

func (r *accountRepository) SetFolders(ctx context.Context, id string, folders []string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.SetFolders")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	result := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"folders":    pq.StringArray(folders),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *accountRepository) MarkCompleted(ctx context.Context, id string, completedAt time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.MarkCompleted")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, id)

	// completed_at is written at most once; a second pass is a no-op
	result := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND completed_at IS NULL", id).
		Updates(map[string]interface{}{
			"completed_at": completedAt,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}
	span.SetTag("rows_affected", result.RowsAffected)
	return nil
}

func (r *accountRepository) Count(ctx context.Context) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Count")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Account{}).Count(&count).Error; err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}
	return count, nil
}

func (r *accountRepository) CountCompleted(ctx context.Context) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.CountCompleted")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("completed_at IS NOT NULL").
		Count(&count).Error; err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}
	return count, nil
}
