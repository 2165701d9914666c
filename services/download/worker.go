package download

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailvault/mailvault/interfaces"
	"github.com/mailvault/mailvault/internal/models"
	"github.com/mailvault/mailvault/internal/tracing"
	"github.com/mailvault/mailvault/internal/utils"
)

const (
	blobKeyDateFormat = "2006-01-02_15-04-05"
	maxSubjectLength  = 50

	placeholderSubject  = "No_Subject"
	placeholderNoHeader = "Email_Without_Header"
)

// DownloadMail fetches one located message and records the result. Any error
// it returns leaves the record pending, to be retried on the next pass; an
// unresolvable message is marked as orphan instead.
func (s *Service) DownloadMail(ctx context.Context, sess interfaces.MailSession, account *models.Account, mail *models.Mail, folder string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "downloadService.DownloadMail")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)
	span.SetTag("mail.uuid", mail.UUID)
	span.SetTag("folder.name", folder)

	seq, err := s.locate(ctx, sess, mail)
	if errors.Is(err, ErrOrphan) {
		if err := s.mails.MarkDownloaded(ctx, mail.ID, models.OrphanFilename); err != nil {
			tracing.TraceErr(span, err)
			return errors.Wrapf(err, "failed to mark mail %s as orphan", mail.UUID)
		}
		span.SetTag("orphan", true)
		s.log.Warnf("Mail %s not found on server, marked as orphan", mail.UUID)
		return nil
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	span.SetTag("seq", seq)

	// Header data only feeds the filename; a fetch miss falls back to
	// placeholders rather than failing the download.
	header, err := sess.HeaderInfo(ctx, seq)
	if err != nil {
		s.log.Warnf("Mail %s: header fetch failed, using placeholders: %v", mail.UUID, err)
		header = nil
	}

	key := BuildBlobKey(account.User, folder, header, seq)
	span.SetTag("blob.key", key)

	exists, err := s.blobs.Exists(ctx, key)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "failed to check blob %s", key)
	}

	if exists {
		// A previous run fetched this message and crashed before recording
		// it; the blob is the source of truth, skip the re-fetch.
		span.SetTag("blob.existed", true)
		s.log.Debugf("Mail %s: blob %s already present, skipping fetch", mail.UUID, key)
	} else {
		raw, err := sess.FetchRaw(ctx, seq)
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		if err := s.blobs.Write(ctx, key, raw); err != nil {
			tracing.TraceErr(span, err)
			return errors.Wrapf(err, "failed to persist blob %s", key)
		}
	}

	if err := s.mails.MarkDownloaded(ctx, mail.ID, key); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "failed to record download of mail %s", mail.UUID)
	}

	if s.events != nil {
		mail.Downloaded = true
		mail.Filename = &key
		s.events.PublishMailDownloaded(ctx, mail)
	}

	return nil
}

// BuildBlobKey derives the blob path for one message:
// {user}/{folder}/{date}_{seq}_{subject}.eml with every component sanitized
// and the subject truncated to keep filenames reasonable.
func BuildBlobKey(user, folder string, header *interfaces.HeaderInfo, seq uint32) string {
	var date time.Time
	subject := placeholderNoHeader
	if header != nil {
		date = header.Date
		subject = header.Subject
		if subject == "" {
			subject = placeholderSubject
		}
	}
	if date.IsZero() {
		date = time.Now()
	}

	subject = utils.SanitizeFileName(utils.TruncateString(subject, maxSubjectLength))
	if subject == "" {
		subject = placeholderSubject
	}

	filename := fmt.Sprintf("%s_%d_%s.eml", date.Format(blobKeyDateFormat), seq, subject)
	return path.Join(utils.SanitizeFileName(user), utils.SanitizeFileName(folder), filename)
}
