package interfaces

import (
	"context"
	"time"

	"github.com/mailvault/mailvault/internal/models"
)

// MailClient opens connections to the remote mail server. Each connection is
// bound to the account it was opened for and to at most one selected folder
// at a time.
type MailClient interface {
	// Connect dials, logs in and returns a fresh session. When folder is not
	// empty the session comes back with that folder already selected.
	Connect(ctx context.Context, account *models.Account, folder string) (MailSession, error)
}

// MailSession is a single stateful server connection. Sequence numbers
// returned by its methods are only meaningful while the current folder stays
// selected; reselecting or reconnecting may renumber every message.
//
// Sessions are not safe for concurrent use. Each worker owns exactly one.
type MailSession interface {
	// ListFolders returns all folder names, sorted, without server prefixes.
	ListFolders(ctx context.Context) ([]string, error)
	// Select makes folder the session's current folder and returns its total
	// message count.
	Select(ctx context.Context, folder string) (uint32, error)
	// MessageCount returns the message total of the currently selected folder.
	MessageCount() uint32
	// FetchHeaders streams header info for the inclusive sequence range
	// [from, to] of the current folder.
	FetchHeaders(ctx context.Context, from, to uint32) ([]HeaderInfo, error)
	// HeaderInfo fetches header info for one message. A nil result with nil
	// error means the server returned nothing for this sequence number.
	HeaderInfo(ctx context.Context, seq uint32) (*HeaderInfo, error)
	// FetchRaw returns the full wire-level message (header block + body).
	FetchRaw(ctx context.Context, seq uint32) ([]byte, error)
	// SearchHeader finds messages whose header field equals value.
	SearchHeader(ctx context.Context, field, value string) ([]uint32, error)
	// SearchText finds messages containing value anywhere in the message.
	SearchText(ctx context.Context, value string) ([]uint32, error)
	Close() error
}

// HeaderInfo is the slice of header data the downloader cares about: enough
// to derive an identity and a human-meaningful filename.
type HeaderInfo struct {
	Seq       uint32
	MessageID string
	Subject   string
	Date      time.Time
}
