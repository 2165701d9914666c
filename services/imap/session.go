package imap

import (
	"context"
	"io"
	"net/textproto"
	"sort"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailvault/mailvault/interfaces"
	"github.com/mailvault/mailvault/internal/logger"
	"github.com/mailvault/mailvault/internal/tracing"
)

// session wraps one logged-in connection. Folder selection is connection
// state, so a session must never be shared across workers.
type session struct {
	c      *client.Client
	log    logger.Logger
	folder string
	total  uint32
}

func (s *session) ListFolders(ctx context.Context) ([]string, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "session.ListFolders")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	s.c.Timeout = commandTimeout
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- s.c.List("", "*", mailboxes)
	}()

	var folders []string
	for m := range mailboxes {
		folders = append(folders, m.Name)
	}

	s.c.Timeout = 0
	if err := <-done; err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to list folders")
	}

	// Sort folders alphabetically for consistency
	sort.Strings(folders)

	span.SetTag("folders.count", len(folders))
	return folders, nil
}

func (s *session) Select(ctx context.Context, folder string) (uint32, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "session.Select")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("folder.name", folder)

	s.c.Timeout = commandTimeout
	mbox, err := s.c.Select(folder, true)
	s.c.Timeout = 0
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, errors.Wrapf(err, "failed to select folder %s", folder)
	}

	s.folder = folder
	s.total = mbox.Messages
	span.SetTag("messages.total", mbox.Messages)

	return mbox.Messages, nil
}

func (s *session) MessageCount() uint32 {
	return s.total
}

func (s *session) FetchHeaders(ctx context.Context, from, to uint32) ([]interfaces.HeaderInfo, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "session.FetchHeaders")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("folder.name", s.folder)
	span.SetTag("seq.from", from)
	span.SetTag("seq.to", to)

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(from, to)

	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchInternalDate,
	}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	go func() {
		done <- s.c.Fetch(seqSet, items, messages)
	}()

	var headers []interfaces.HeaderInfo
	for msg := range messages {
		headers = append(headers, headerFromMessage(msg))
	}

	if err := <-done; err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "failed to fetch headers %d:%d", from, to)
	}

	sort.Slice(headers, func(i, j int) bool {
		return headers[i].Seq < headers[j].Seq
	})

	return headers, nil
}

func (s *session) HeaderInfo(ctx context.Context, seq uint32) (*interfaces.HeaderInfo, error) {
	headers, err := s.FetchHeaders(ctx, seq, seq)
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return nil, nil
	}
	return &headers[0], nil
}

// FetchRaw returns the message exactly as stored on the server: the complete
// header block followed by the body, unparsed.
func (s *session) FetchRaw(ctx context.Context, seq uint32) ([]byte, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "session.FetchRaw")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("folder.name", s.folder)
	span.SetTag("seq", seq)

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seq)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- s.c.Fetch(seqSet, items, messages)
	}()

	msg := <-messages
	if err := <-done; err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "failed to fetch message %d", seq)
	}
	if msg == nil {
		err := errors.Errorf("server returned no data for message %d", seq)
		tracing.TraceErr(span, err)
		return nil, err
	}

	body := msg.GetBody(section)
	if body == nil {
		err := errors.Errorf("server returned no body section for message %d", seq)
		tracing.TraceErr(span, err)
		return nil, err
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "failed to read message %d", seq)
	}

	span.SetTag("bytes", len(raw))
	return raw, nil
}

func (s *session) SearchHeader(ctx context.Context, field, value string) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Header = textproto.MIMEHeader{}
	criteria.Header.Set(field, value)
	return s.search(ctx, "session.SearchHeader", criteria)
}

func (s *session) SearchText(ctx context.Context, value string) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Text = []string{value}
	return s.search(ctx, "session.SearchText", criteria)
}

func (s *session) search(ctx context.Context, operationName string, criteria *imap.SearchCriteria) ([]uint32, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, operationName)
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("folder.name", s.folder)

	s.c.Timeout = commandTimeout
	seqs, err := s.c.Search(criteria)
	s.c.Timeout = 0
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "search failed")
	}

	span.SetTag("results.count", len(seqs))
	return seqs, nil
}

func (s *session) Close() error {
	return s.c.Logout()
}

func headerFromMessage(msg *imap.Message) interfaces.HeaderInfo {
	header := interfaces.HeaderInfo{Seq: msg.SeqNum}
	if msg.Envelope != nil {
		header.MessageID = msg.Envelope.MessageId
		header.Subject = msg.Envelope.Subject
		header.Date = msg.Envelope.Date
	}
	if header.Date.IsZero() {
		header.Date = msg.InternalDate
	}
	return header
}
