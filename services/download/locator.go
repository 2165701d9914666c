package download

import (
	"context"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailvault/mailvault/interfaces"
	"github.com/mailvault/mailvault/internal/models"
	"github.com/mailvault/mailvault/internal/tracing"
	"github.com/mailvault/mailvault/internal/utils"
)

// ErrOrphan means no resolution method could find the message on the server
// under its stored identity. Orphans are terminal: the caller marks the record
// and never retries it.
var ErrOrphan = errors.New("message no longer exists on the server")

// locate resolves a mail to its current sequence number in the session's
// selected folder. Sequence numbers shift whenever messages ahead of them are
// expunged, so the stored one is only trusted after a bounds check, and the
// fallbacks run cheapest-first.
func (s *Service) locate(ctx context.Context, sess interfaces.MailSession, mail *models.Mail) (uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "downloadService.locate")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, mail.AccountID)
	span.SetTag("mail.uuid", mail.UUID)

	if mail.Sequence != nil && *mail.Sequence >= 1 && *mail.Sequence <= sess.MessageCount() {
		span.SetTag("resolved.by", "sequence")
		return *mail.Sequence, nil
	}

	seqs, err := sess.SearchHeader(ctx, "Message-Id", mail.UUID)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}

	// Some servers store the identifier without the angle brackets
	if len(seqs) == 0 && strings.HasPrefix(mail.UUID, "<") {
		seqs, err = sess.SearchHeader(ctx, "Message-Id", utils.NormalizeMessageID(mail.UUID))
		if err != nil {
			tracing.TraceErr(span, err)
			return 0, err
		}
	}

	// Broad fallback for servers whose header index misses exact matches
	if len(seqs) == 0 {
		seqs, err = sess.SearchText(ctx, strings.ReplaceAll(mail.UUID, `"`, ""))
		if err != nil {
			tracing.TraceErr(span, err)
			return 0, err
		}
	}

	if len(seqs) == 0 {
		span.SetTag("resolved.by", "none")
		return 0, ErrOrphan
	}

	span.SetTag("resolved.by", "search")
	return seqs[0], nil
}
