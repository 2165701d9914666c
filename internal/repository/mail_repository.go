package repository

import (
	"context"
	"errors"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mailvault/mailvault/interfaces"
	"github.com/mailvault/mailvault/internal/models"
	"github.com/mailvault/mailvault/internal/tracing"
)

type mailRepository struct {
	db *gorm.DB
}

func NewMailRepository(db *gorm.DB) interfaces.MailRepository {
	return &mailRepository{db: db}
}

// FirstOrCreate registers a mail under (account_id, uuid). Existing records
// keep their first-seen sequence and folder so the identity stays stable even
// when a later scan observes the message in a different position.
func (r *mailRepository) FirstOrCreate(ctx context.Context, mail *models.Mail) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailRepository.FirstOrCreate")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if mail == nil || mail.AccountID == "" || mail.UUID == "" {
		tracing.TraceErr(span, ErrInvalidInput)
		return false, ErrInvalidInput
	}
	tracing.TagAccount(span, mail.AccountID)

	var existing models.Mail
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND uuid = ?", mail.AccountID, mail.UUID).
		First(&existing).Error
	if err == nil {
		*mail = existing
		span.SetTag("duplicate", true)
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		tracing.TraceErr(span, err)
		return false, err
	}

	// Concurrent sync runs can race between the lookup and the insert; the
	// unique index decides, and the loser reloads the winner's row.
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "uuid"}},
		DoNothing: true,
	}).Create(mail)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		if err := r.db.WithContext(ctx).
			Where("account_id = ? AND uuid = ?", mail.AccountID, mail.UUID).
			First(mail).Error; err != nil {
			tracing.TraceErr(span, err)
			return false, err
		}
		span.SetTag("duplicate", true)
		return false, nil
	}

	return true, nil
}

func (r *mailRepository) GetByID(ctx context.Context, id string) (*models.Mail, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var mail models.Mail
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&mail).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMailNotFound
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &mail, nil
}

func (r *mailRepository) ListByIDs(ctx context.Context, ids []string) ([]*models.Mail, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailRepository.ListByIDs")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("ids.count", len(ids))

	if len(ids) == 0 {
		return nil, nil
	}

	var mails []*models.Mail
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&mails).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return mails, nil
}

func (r *mailRepository) ListPendingByAccount(ctx context.Context, accountID string, limit int) ([]*models.Mail, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailRepository.ListPendingByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)
	span.SetTag("limit", limit)

	if limit <= 0 {
		limit = 100
	}

	var mails []*models.Mail
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND downloaded = ? AND folder IS NOT NULL", accountID, false).
		Order("folder ASC, sequence ASC").
		Limit(limit).
		Find(&mails).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return mails, nil
}

func (r *mailRepository) CountPendingByAccount(ctx context.Context, accountID string) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailRepository.CountPendingByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Mail{}).
		Where("account_id = ? AND downloaded = ?", accountID, false).
		Count(&count).Error; err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}
	return count, nil
}

func (r *mailRepository) CountDownloadedAmong(ctx context.Context, ids []string) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailRepository.CountDownloadedAmong")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	span.SetTag("ids.count", len(ids))

	if len(ids) == 0 {
		return 0, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Mail{}).
		Where("id IN ? AND downloaded = ?", ids, true).
		Count(&count).Error; err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}
	return count, nil
}

func (r *mailRepository) MarkDownloaded(ctx context.Context, id string, filename string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailRepository.MarkDownloaded")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if id == "" || filename == "" {
		tracing.TraceErr(span, ErrInvalidInput)
		return ErrInvalidInput
	}

	result := r.db.WithContext(ctx).Model(&models.Mail{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"downloaded": true,
			"filename":   filename,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		tracing.TraceErr(span, ErrMailNotFound)
		return ErrMailNotFound
	}
	return nil
}

func (r *mailRepository) StatsByAccount(ctx context.Context, accountID string) (*interfaces.MailStats, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailRepository.StatsByAccount")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagAccount(span, accountID)

	return r.stats(ctx, span, r.db.WithContext(ctx).Model(&models.Mail{}).Where("account_id = ?", accountID))
}

func (r *mailRepository) GlobalStats(ctx context.Context) (*interfaces.MailStats, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailRepository.GlobalStats")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	return r.stats(ctx, span, r.db.WithContext(ctx).Model(&models.Mail{}))
}

func (r *mailRepository) stats(ctx context.Context, span opentracing.Span, query *gorm.DB) (*interfaces.MailStats, error) {
	stats := &interfaces.MailStats{}

	if err := query.Session(&gorm.Session{}).Count(&stats.Total).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if err := query.Session(&gorm.Session{}).Where("downloaded = ?", true).Count(&stats.Downloaded).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if err := query.Session(&gorm.Session{}).Where("filename = ?", models.OrphanFilename).Count(&stats.Orphans).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	return stats, nil
}
