package download

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailvault/mailvault/interfaces"
	"github.com/mailvault/mailvault/internal/logger"
	"github.com/mailvault/mailvault/internal/models"
	"github.com/mailvault/mailvault/internal/tracing"
	"github.com/mailvault/mailvault/internal/utils"
)

const (
	defaultPollInterval = 5 * time.Second
	// maxChunkSize caps how many mails one worker process handles, so a slow
	// chunk cannot hold a page open for too long
	maxChunkSize = 50
	// stalledPassLimit aborts the run when this many consecutive passes make
	// zero progress, instead of looping on a backlog that cannot drain
	stalledPassLimit = 3
)

// Service drives the pending backlog of an account down to zero: it pages
// through pending mails, dispatches them to download workers sequentially or
// via a bounded pool of worker processes, and marks the account complete once
// a check finds nothing pending.
type Service struct {
	client       interfaces.MailClient
	accounts     interfaces.AccountRepository
	mails        interfaces.MailRepository
	blobs        interfaces.BlobStorage
	events       interfaces.EventPublisher
	log          logger.Logger
	runner       BatchRunner
	pollInterval time.Duration
}

// NewService wires a download service. events may be nil; runner is only used
// when Run is called with concurrency above one.
func NewService(
	client interfaces.MailClient,
	accounts interfaces.AccountRepository,
	mails interfaces.MailRepository,
	blobs interfaces.BlobStorage,
	events interfaces.EventPublisher,
	log logger.Logger,
	runner BatchRunner,
	pollInterval time.Duration,
) *Service {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Service{
		client:       client,
		accounts:     accounts,
		mails:        mails,
		blobs:        blobs,
		events:       events,
		log:          log,
		runner:       runner,
		pollInterval: pollInterval,
	}
}

// Run loops check-fetch-dispatch passes until the account has no pending
// mails, then stamps the completion timestamp. Every download is durably
// recorded per mail, so an abort at any point resumes cleanly on the next
// invocation.
func (s *Service) Run(ctx context.Context, account *models.Account, pageLimit, concurrency int) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "downloadService.Run")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)
	span.SetTag("page.limit", pageLimit)
	span.SetTag("concurrency", concurrency)

	pause := &backoff.Backoff{
		Min:    time.Second,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}
	stalledPasses := 0

	for {
		pending, err := s.mails.CountPendingByAccount(ctx, account.ID)
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}

		if pending == 0 {
			return s.complete(ctx, account)
		}
		s.log.Infof("Account %s: %d mails pending", account.User, pending)

		page, err := s.mails.ListPendingByAccount(ctx, account.ID, pageLimit)
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		if len(page) == 0 {
			err := errors.Errorf("%d pending mails have no folder recorded; re-run sync", pending)
			tracing.TraceErr(span, err)
			return err
		}

		groups := groupByFolder(page)

		if concurrency <= 1 {
			if err := s.runSequential(ctx, account, groups); err != nil {
				tracing.TraceErr(span, err)
				return err
			}
		} else {
			s.runParallel(ctx, account, groups, concurrency)
		}

		remaining, err := s.mails.CountPendingByAccount(ctx, account.ID)
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		if remaining < pending {
			stalledPasses = 0
			pause.Reset()
		} else {
			stalledPasses++
			if stalledPasses >= stalledPassLimit {
				err := errors.Errorf("no progress after %d passes, %d mails still pending", stalledPasses, remaining)
				tracing.TraceErr(span, err)
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause.Duration()):
		}
	}
}

func (s *Service) complete(ctx context.Context, account *models.Account) error {
	if account.Completed() {
		return nil
	}

	now := time.Now()
	if err := s.accounts.MarkCompleted(ctx, account.ID, now); err != nil {
		return err
	}
	account.CompletedAt = &now

	if s.events != nil {
		s.events.PublishAccountCompleted(ctx, account)
	}
	s.log.Infof("Account %s fully downloaded", account.User)
	return nil
}

// runSequential processes every folder group on a single connection. A
// connect failure aborts the pass; per-message failures only log.
func (s *Service) runSequential(ctx context.Context, account *models.Account, groups []folderGroup) error {
	sess, err := s.client.Connect(ctx, account, "")
	if err != nil {
		return err
	}
	defer sess.Close()

	for _, group := range groups {
		if _, err := sess.Select(ctx, group.Folder); err != nil {
			s.log.Errorf("Account %s: cannot select folder %s: %v", account.User, group.Folder, err)
			continue
		}

		for _, mail := range group.Mails {
			if err := s.DownloadMail(ctx, sess, account, mail, group.Folder); err != nil {
				s.log.Errorf("Account %s: failed to download mail %s: %v", account.User, mail.UUID, err)
			}
		}
	}

	return nil
}

// runParallel fans each folder group out to independent worker processes.
// Chunks share nothing but the record store; the slot channel enforces the
// concurrency cap, and a poller reports page progress while workers drain.
func (s *Service) runParallel(ctx context.Context, account *models.Account, groups []folderGroup, concurrency int) {
	pageID := uuid.New().String()

	type chunk struct {
		folder string
		ids    []string
	}

	var chunks []chunk
	var dispatched []string
	for _, group := range groups {
		ids := make([]string, 0, len(group.Mails))
		for _, mail := range group.Mails {
			ids = append(ids, mail.ID)
		}
		dispatched = append(dispatched, ids...)

		size := chunkSize(len(ids), concurrency)
		for _, part := range utils.ChunkSlice(ids, size) {
			chunks = append(chunks, chunk{folder: group.Folder, ids: part})
		}
	}

	s.log.Infof("Page %s: dispatching %d mails in %d chunks (concurrency %d)",
		pageID, len(dispatched), len(chunks), concurrency)

	pollerDone := make(chan struct{})
	go s.pollProgress(ctx, pageID, dispatched, pollerDone)

	slots := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, c := range chunks {
		// blocks until a running worker frees a slot
		slots <- struct{}{}
		wg.Add(1)

		go func(c chunk) {
			defer wg.Done()
			defer func() { <-slots }()

			if err := s.runner.RunBatch(ctx, account.ID, c.folder, c.ids); err != nil {
				s.log.Errorf("Page %s: batch of %d mails in folder %s failed: %v",
					pageID, len(c.ids), c.folder, err)
			}
		}(c)
	}

	// the page closes only when every dispatched worker has exited
	wg.Wait()
	close(pollerDone)
}

func (s *Service) pollProgress(ctx context.Context, pageID string, dispatched []string, done <-chan struct{}) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.mails.CountDownloadedAmong(ctx, dispatched)
			if err != nil {
				s.log.Warnf("Page %s: progress poll failed: %v", pageID, err)
				continue
			}
			s.log.Infof("Page %s: %d/%d downloaded", pageID, count, len(dispatched))
		}
	}
}

type folderGroup struct {
	Folder string
	Mails  []*models.Mail
}

// groupByFolder splits a page into per-folder groups, preserving the page
// order, so one folder selection serves every message in the group.
func groupByFolder(mails []*models.Mail) []folderGroup {
	var groups []folderGroup
	index := map[string]int{}

	for _, mail := range mails {
		if mail.Folder == nil {
			continue
		}
		folder := *mail.Folder
		i, ok := index[folder]
		if !ok {
			i = len(groups)
			index[folder] = i
			groups = append(groups, folderGroup{Folder: folder})
		}
		groups[i].Mails = append(groups[i].Mails, mail)
	}

	return groups
}

func chunkSize(groupSize, concurrency int) int {
	size := (groupSize + concurrency - 1) / concurrency
	if size > maxChunkSize {
		size = maxChunkSize
	}
	if size < 1 {
		size = 1
	}
	return size
}
