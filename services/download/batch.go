package download

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailvault/mailvault/internal/logger"
	"github.com/mailvault/mailvault/internal/tracing"
)

// BatchRunner executes one chunk of mail downloads. The production runner
// spawns a worker process per chunk so a hung IMAP connection or a crash in
// one chunk cannot take down the whole page.
type BatchRunner interface {
	RunBatch(ctx context.Context, accountID, folder string, mailIDs []string) error
}

const defaultWorkerTimeout = 30 * time.Minute

// ExecBatchRunner runs each chunk as a re-invocation of the current binary
// with the hidden download-batch command. Workers report nothing back over
// the pipe; the record store carries all their results.
type ExecBatchRunner struct {
	log     logger.Logger
	timeout time.Duration
}

func NewExecBatchRunner(log logger.Logger, timeout time.Duration) *ExecBatchRunner {
	if timeout <= 0 {
		timeout = defaultWorkerTimeout
	}
	return &ExecBatchRunner{log: log, timeout: timeout}
}

func (r *ExecBatchRunner) RunBatch(ctx context.Context, accountID, folder string, mailIDs []string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ExecBatchRunner.RunBatch")
	defer span.Finish()
	tracing.TagAccount(span, accountID)
	span.SetTag("folder.name", folder)
	span.SetTag("batch.size", len(mailIDs))

	binary, err := os.Executable()
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "cannot resolve own executable")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, "download-batch",
		"--account", accountID,
		"--folder", folder,
		"--mails", strings.Join(mailIDs, ","),
	)
	cmd.Env = os.Environ()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	r.log.Debugf("Spawning worker for %d mails in folder %s", len(mailIDs), folder)

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = errors.Wrapf(err, "worker exceeded %s timeout", r.timeout)
		}
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

// RunBatch is the in-process entry the worker command calls after wiring its
// own service graph. It opens one connection pinned to the chunk's folder and
// works through the ids; per-message failures are logged and left pending for
// the orchestrator's next pass.
func (s *Service) RunBatch(ctx context.Context, accountID, folder string, mailIDs []string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "downloadService.RunBatch")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	span.SetTag("folder.name", folder)
	span.SetTag("batch.size", len(mailIDs))

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	mails, err := s.mails.ListByIDs(ctx, mailIDs)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	sess, err := s.client.Connect(ctx, account, folder)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	defer sess.Close()

	for _, mail := range mails {
		// Another worker or a previous pass may have finished this one already
		if mail.Downloaded {
			continue
		}
		if err := s.DownloadMail(ctx, sess, account, mail, folder); err != nil {
			s.log.Errorf("Account %s: failed to download mail %s: %v", account.User, mail.UUID, err)
		}
	}

	return nil
}
