package sync

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailvault/mailvault/interfaces"
	"github.com/mailvault/mailvault/internal/logger"
	"github.com/mailvault/mailvault/internal/models"
	"github.com/mailvault/mailvault/internal/tracing"
	"github.com/mailvault/mailvault/internal/utils"
)

// Service walks every folder of an account and registers each message as a
// Mail record with a stable identity. It never downloads content and never
// marks an account complete.
type Service struct {
	client    interfaces.MailClient
	accounts  interfaces.AccountRepository
	mails     interfaces.MailRepository
	log       logger.Logger
	batchSize uint32
}

func NewService(client interfaces.MailClient, accounts interfaces.AccountRepository, mails interfaces.MailRepository, log logger.Logger, batchSize uint32) *Service {
	if batchSize == 0 {
		batchSize = 500
	}
	return &Service{
		client:    client,
		accounts:  accounts,
		mails:     mails,
		log:       log,
		batchSize: batchSize,
	}
}

// SyncAccount registers every message of every folder. A transport failure
// aborts the sync for this account; records already upserted are kept, so the
// operation is safe to re-run.
func (s *Service) SyncAccount(ctx context.Context, account *models.Account) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncService.SyncAccount")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)

	sess, err := s.client.Connect(ctx, account, "")
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	defer sess.Close()

	folders, err := sess.ListFolders(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	s.log.Infof("Account %s: syncing %d folders", account.User, len(folders))

	var registered int
	for _, folder := range folders {
		count, err := s.syncFolder(ctx, sess, account, folder)
		if err != nil {
			tracing.TraceErr(span, err)
			return errors.Wrapf(err, "sync aborted in folder %s", folder)
		}
		registered += count
	}

	if err := s.accounts.SetFolders(ctx, account.ID, folders); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	span.SetTag("mails.registered", registered)
	s.log.Infof("Account %s: sync complete, %d new mails registered", account.User, registered)
	return nil
}

func (s *Service) syncFolder(ctx context.Context, sess interfaces.MailSession, account *models.Account, folder string) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncService.syncFolder")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)
	span.SetTag("folder.name", folder)

	total, err := sess.Select(ctx, folder)
	if err != nil {
		return 0, err
	}
	span.SetTag("messages.total", total)
	s.log.Infof("Account %s: folder %s has %d messages", account.User, folder, total)

	if total == 0 {
		return 0, nil
	}

	registered := 0
	for from := uint32(1); from <= total; from += s.batchSize {
		to := from + s.batchSize - 1
		if to > total {
			to = total
		}

		headers, err := sess.FetchHeaders(ctx, from, to)
		if err != nil {
			return registered, err
		}

		// Header data is advisory; any sequence the server skipped still gets
		// a record under its synthetic identity.
		bySeq := make(map[uint32]interfaces.HeaderInfo, len(headers))
		for _, h := range headers {
			bySeq[h.Seq] = h
		}

		for seq := from; seq <= to; seq++ {
			uuid := models.SyntheticUUID(folder, seq)
			if h, ok := bySeq[seq]; ok && h.MessageID != "" {
				uuid = h.MessageID
			}

			created, err := s.registerMail(ctx, account, folder, seq, uuid)
			if err != nil {
				return registered, err
			}
			if created {
				registered++
			}
		}
	}

	return registered, nil
}

func (s *Service) registerMail(ctx context.Context, account *models.Account, folder string, seq uint32, uuid string) (bool, error) {
	mail := &models.Mail{
		AccountID: account.ID,
		UUID:      uuid,
		Sequence:  utils.Ptr(seq),
		Folder:    utils.Ptr(folder),
	}

	created, err := s.mails.FirstOrCreate(ctx, mail)
	if err != nil {
		return false, errors.Wrapf(err, "failed to register mail %s", uuid)
	}

	if !created && mail.Folder != nil && *mail.Folder != folder {
		// Same identity observed in a different folder than first seen. The
		// stored record wins; the discrepancy is only surfaced here.
		s.log.Warnf("Account %s: mail %s seen in folder %s but registered under %s",
			account.User, uuid, folder, *mail.Folder)
	}

	return created, nil
}
