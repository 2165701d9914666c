package download

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mailvault/mailvault/interfaces"
	"github.com/mailvault/mailvault/internal/logger"
	"github.com/mailvault/mailvault/internal/models"
	"github.com/mailvault/mailvault/internal/utils"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

// fakeMessage is one message as the fake server stores it.
type fakeMessage struct {
	messageID string
	subject   string
	date      time.Time
	raw       []byte
}

// fakeSession emulates one server connection over an in-memory folder map.
type fakeSession struct {
	mu       sync.Mutex
	folders  map[string]map[uint32]*fakeMessage
	selected string

	searchErr    error
	fetchRawErr  error
	headerErr    error
	fetchRawHits int
}

var _ interfaces.MailSession = (*fakeSession)(nil)

func newFakeSession(folders map[string]map[uint32]*fakeMessage) *fakeSession {
	return &fakeSession{folders: folders}
}

func (f *fakeSession) ListFolders(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(f.folders))
	for name := range f.folders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeSession) Select(ctx context.Context, folder string) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, ok := f.folders[folder]
	if !ok {
		return 0, errors.Errorf("no such folder %s", folder)
	}
	f.selected = folder
	return uint32(len(msgs)), nil
}

func (f *fakeSession) MessageCount() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint32(len(f.folders[f.selected]))
}

func (f *fakeSession) FetchHeaders(ctx context.Context, from, to uint32) ([]interfaces.HeaderInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []interfaces.HeaderInfo
	for seq := from; seq <= to; seq++ {
		if msg, ok := f.folders[f.selected][seq]; ok {
			out = append(out, interfaces.HeaderInfo{
				Seq:       seq,
				MessageID: msg.messageID,
				Subject:   msg.subject,
				Date:      msg.date,
			})
		}
	}
	return out, nil
}

func (f *fakeSession) HeaderInfo(ctx context.Context, seq uint32) (*interfaces.HeaderInfo, error) {
	if f.headerErr != nil {
		return nil, f.headerErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.folders[f.selected][seq]
	if !ok {
		return nil, nil
	}
	return &interfaces.HeaderInfo{
		Seq:       seq,
		MessageID: msg.messageID,
		Subject:   msg.subject,
		Date:      msg.date,
	}, nil
}

func (f *fakeSession) FetchRaw(ctx context.Context, seq uint32) ([]byte, error) {
	if f.fetchRawErr != nil {
		return nil, f.fetchRawErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchRawHits++
	msg, ok := f.folders[f.selected][seq]
	if !ok {
		return nil, errors.Errorf("no message %d in %s", seq, f.selected)
	}
	return msg.raw, nil
}

func (f *fakeSession) SearchHeader(ctx context.Context, field, value string) ([]uint32, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var seqs []uint32
	for seq, msg := range f.folders[f.selected] {
		if strings.EqualFold(field, "Message-Id") && msg.messageID == value {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

func (f *fakeSession) SearchText(ctx context.Context, value string) ([]uint32, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var seqs []uint32
	for seq, msg := range f.folders[f.selected] {
		if strings.Contains(string(msg.raw), value) || strings.Contains(msg.messageID, value) {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

func (f *fakeSession) Close() error { return nil }

// fakeClient hands out sessions over a shared folder map. Each Connect gets
// its own session so concurrent workers keep independent folder selections,
// the way real connections do.
type fakeClient struct {
	session    *fakeSession
	connectErr error
}

var _ interfaces.MailClient = (*fakeClient)(nil)

func (f *fakeClient) Connect(ctx context.Context, account *models.Account, folder string) (interfaces.MailSession, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	sess := &fakeSession{
		folders:     f.session.folders,
		searchErr:   f.session.searchErr,
		fetchRawErr: f.session.fetchRawErr,
		headerErr:   f.session.headerErr,
	}
	if folder != "" {
		if _, err := sess.Select(ctx, folder); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// fakeAccountRepo keeps accounts in memory and enforces write-once completion.
type fakeAccountRepo struct {
	mu            sync.Mutex
	accounts      map[string]*models.Account
	completedSets int
}

var _ interfaces.AccountRepository = (*fakeAccountRepo)(nil)

func newFakeAccountRepo(accounts ...*models.Account) *fakeAccountRepo {
	repo := &fakeAccountRepo{accounts: map[string]*models.Account{}}
	for _, a := range accounts {
		repo.accounts[a.ID] = a
	}
	return repo
}

func (f *fakeAccountRepo) Create(ctx context.Context, account *models.Account) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[account.ID] = account
	return account.ID, nil
}

func (f *fakeAccountRepo) GetByID(ctx context.Context, id string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[id]
	if !ok {
		return nil, errors.New("account not found")
	}
	return account, nil
}

func (f *fakeAccountRepo) GetByUser(ctx context.Context, user string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.User == user {
			return a, nil
		}
	}
	return nil, errors.New("account not found")
}

func (f *fakeAccountRepo) ListAll(ctx context.Context) ([]*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Account
	for _, a := range f.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAccountRepo) ListIncomplete(ctx context.Context) ([]*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Account
	for _, a := range f.accounts {
		if a.CompletedAt == nil {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAccountRepo) SetFolders(ctx context.Context, id string, folders []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[id]; ok {
		a.Folders = folders
	}
	return nil
}

func (f *fakeAccountRepo) MarkCompleted(ctx context.Context, id string, completedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return errors.New("account not found")
	}
	if a.CompletedAt != nil {
		return nil
	}
	a.CompletedAt = &completedAt
	f.completedSets++
	return nil
}

func (f *fakeAccountRepo) Count(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.accounts)), nil
}

func (f *fakeAccountRepo) CountCompleted(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, a := range f.accounts {
		if a.CompletedAt != nil {
			n++
		}
	}
	return n, nil
}

// fakeMailRepo is an in-memory mail record store, safe for concurrent workers.
type fakeMailRepo struct {
	mu    sync.Mutex
	mails map[string]*models.Mail
}

var _ interfaces.MailRepository = (*fakeMailRepo)(nil)

func newFakeMailRepo(mails ...*models.Mail) *fakeMailRepo {
	repo := &fakeMailRepo{mails: map[string]*models.Mail{}}
	for _, m := range mails {
		repo.mails[m.ID] = m
	}
	return repo
}

func (f *fakeMailRepo) FirstOrCreate(ctx context.Context, mail *models.Mail) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.mails {
		if existing.AccountID == mail.AccountID && existing.UUID == mail.UUID {
			*mail = *existing
			return false, nil
		}
	}
	if mail.ID == "" {
		mail.ID = utils.GenerateNanoIDWithPrefix("mail", 16)
	}
	stored := *mail
	f.mails[mail.ID] = &stored
	return true, nil
}

func (f *fakeMailRepo) GetByID(ctx context.Context, id string) (*models.Mail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.mails[id]
	if !ok {
		return nil, errors.New("mail not found")
	}
	copy := *m
	return &copy, nil
}

func (f *fakeMailRepo) ListByIDs(ctx context.Context, ids []string) ([]*models.Mail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Mail
	for _, id := range ids {
		if m, ok := f.mails[id]; ok {
			copy := *m
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (f *fakeMailRepo) ListPendingByAccount(ctx context.Context, accountID string, limit int) ([]*models.Mail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Mail
	for _, m := range f.mails {
		if m.AccountID == accountID && !m.Downloaded && m.Folder != nil {
			copy := *m
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if *out[i].Folder != *out[j].Folder {
			return *out[i].Folder < *out[j].Folder
		}
		return *out[i].Sequence < *out[j].Sequence
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMailRepo) CountPendingByAccount(ctx context.Context, accountID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, m := range f.mails {
		if m.AccountID == accountID && !m.Downloaded {
			n++
		}
	}
	return n, nil
}

func (f *fakeMailRepo) CountDownloadedAmong(ctx context.Context, ids []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, id := range ids {
		if m, ok := f.mails[id]; ok && m.Downloaded {
			n++
		}
	}
	return n, nil
}

func (f *fakeMailRepo) MarkDownloaded(ctx context.Context, id string, filename string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.mails[id]
	if !ok {
		return errors.New("mail not found")
	}
	m.Downloaded = true
	m.Filename = &filename
	return nil
}

func (f *fakeMailRepo) StatsByAccount(ctx context.Context, accountID string) (*interfaces.MailStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &interfaces.MailStats{}
	for _, m := range f.mails {
		if m.AccountID != accountID {
			continue
		}
		stats.Total++
		if m.Downloaded {
			stats.Downloaded++
		}
		if m.IsOrphan() {
			stats.Orphans++
		}
	}
	return stats, nil
}

func (f *fakeMailRepo) GlobalStats(ctx context.Context) (*interfaces.MailStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &interfaces.MailStats{}
	for _, m := range f.mails {
		stats.Total++
		if m.Downloaded {
			stats.Downloaded++
		}
		if m.IsOrphan() {
			stats.Orphans++
		}
	}
	return stats, nil
}

// memBlobStorage is an in-memory blob store.
type memBlobStorage struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	writes int
}

var _ interfaces.BlobStorage = (*memBlobStorage)(nil)

func newMemBlobStorage() *memBlobStorage {
	return &memBlobStorage{blobs: map[string][]byte{}}
}

func (m *memBlobStorage) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[key]
	return ok, nil
}

func (m *memBlobStorage) Write(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = data
	m.writes++
	return nil
}

// inprocRunner dispatches batches straight into the service under test
// instead of spawning worker processes.
type inprocRunner struct {
	svc *Service
}

var _ BatchRunner = (*inprocRunner)(nil)

func (r *inprocRunner) RunBatch(ctx context.Context, accountID, folder string, mailIDs []string) error {
	return r.svc.RunBatch(ctx, accountID, folder, mailIDs)
}
