package download

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailvault/mailvault/interfaces"
	"github.com/mailvault/mailvault/internal/models"
	"github.com/mailvault/mailvault/internal/utils"
)

func TestBuildBlobKey(t *testing.T) {
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		user     string
		folder   string
		header   *interfaces.HeaderInfo
		seq      uint32
		expected string
	}{
		{
			name:     "special characters collapse to underscores",
			user:     "user@example.com",
			folder:   "INBOX",
			header:   &interfaces.HeaderInfo{Subject: "A/B:C*D", Date: date},
			seq:      7,
			expected: "user_example.com/INBOX/2024-01-01_00-00-00_7_A_B_C_D.eml",
		},
		{
			name:     "empty subject gets placeholder",
			user:     "user@example.com",
			folder:   "INBOX",
			header:   &interfaces.HeaderInfo{Subject: "", Date: date},
			seq:      1,
			expected: "user_example.com/INBOX/2024-01-01_00-00-00_1_No_Subject.eml",
		},
		{
			name:     "subject of only special characters gets placeholder",
			user:     "user@example.com",
			folder:   "INBOX",
			header:   &interfaces.HeaderInfo{Subject: "///***", Date: date},
			seq:      2,
			expected: "user_example.com/INBOX/2024-01-01_00-00-00_2_No_Subject.eml",
		},
		{
			name:     "nested folder name flattens into one component",
			user:     "user@example.com",
			folder:   "[Gmail]/Sent Mail",
			header:   &interfaces.HeaderInfo{Subject: "hello", Date: date},
			seq:      3,
			expected: "user_example.com/Gmail_Sent_Mail/2024-01-01_00-00-00_3_hello.eml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BuildBlobKey(tt.user, tt.folder, tt.header, tt.seq))
		})
	}
}

func TestBuildBlobKey_TruncatesLongSubject(t *testing.T) {
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	longSubject := ""
	for i := 0; i < 20; i++ {
		longSubject += "abcdefghij"
	}

	key := BuildBlobKey("u", "INBOX", &interfaces.HeaderInfo{Subject: longSubject, Date: date}, 1)

	assert.Equal(t, "u/INBOX/2024-01-01_00-00-00_1_"+longSubject[:50]+".eml", key)
}

func TestBuildBlobKey_MissingHeaderUsesPlaceholders(t *testing.T) {
	key := BuildBlobKey("u", "INBOX", nil, 9)

	assert.Contains(t, key, "_9_Email_Without_Header.eml")
	// The date component falls back to the current time, never a zero value
	assert.NotContains(t, key, "0001-01-01")
}

func newWorkerFixture(t *testing.T, session *fakeSession, mails ...*models.Mail) (*Service, *fakeMailRepo, *memBlobStorage) {
	t.Helper()
	mailRepo := newFakeMailRepo(mails...)
	blobs := newMemBlobStorage()
	svc := NewService(
		&fakeClient{session: session},
		newFakeAccountRepo(),
		mailRepo,
		blobs,
		nil,
		getLogger(),
		nil,
		time.Millisecond,
	)
	return svc, mailRepo, blobs
}

func TestDownloadMail_PersistsBlobAndMarksDownloaded(t *testing.T) {
	// Arrange
	date := time.Date(2024, 3, 14, 9, 26, 53, 0, time.UTC)
	session := newFakeSession(map[string]map[uint32]*fakeMessage{
		"INBOX": {
			1: {messageID: "<a@x>", subject: "pi day", date: date, raw: []byte("raw message")},
		},
	})
	_, err := session.Select(context.Background(), "INBOX")
	require.NoError(t, err)

	account := &models.Account{ID: "acc_1", User: "user@example.com"}
	mail := &models.Mail{ID: "mail_1", AccountID: "acc_1", UUID: "<a@x>", Sequence: utils.Ptr(uint32(1)), Folder: utils.Ptr("INBOX")}
	svc, mailRepo, blobs := newWorkerFixture(t, session, mail)

	// Act
	err = svc.DownloadMail(context.Background(), session, account, mail, "INBOX")

	// Assert
	require.NoError(t, err)

	stored, err := mailRepo.GetByID(context.Background(), "mail_1")
	require.NoError(t, err)
	assert.True(t, stored.Downloaded)
	require.NotNil(t, stored.Filename)
	assert.Equal(t, "user_example.com/INBOX/2024-03-14_09-26-53_1_pi_day.eml", *stored.Filename)
	assert.Equal(t, []byte("raw message"), blobs.blobs[*stored.Filename])
}

func TestDownloadMail_OrphanIsTerminal(t *testing.T) {
	// Arrange: the message exists nowhere on the server
	session := newFakeSession(map[string]map[uint32]*fakeMessage{
		"INBOX": {},
	})
	_, err := session.Select(context.Background(), "INBOX")
	require.NoError(t, err)

	account := &models.Account{ID: "acc_1", User: "user@example.com"}
	mail := &models.Mail{ID: "mail_1", AccountID: "acc_1", UUID: "<gone@x>", Folder: utils.Ptr("INBOX")}
	svc, mailRepo, blobs := newWorkerFixture(t, session, mail)

	// Act
	err = svc.DownloadMail(context.Background(), session, account, mail, "INBOX")

	// Assert: marked done under the sentinel, no blob written
	require.NoError(t, err)

	stored, err := mailRepo.GetByID(context.Background(), "mail_1")
	require.NoError(t, err)
	assert.True(t, stored.Downloaded)
	assert.True(t, stored.IsOrphan())
	assert.Empty(t, blobs.blobs)
}

func TestDownloadMail_SkipsFetchWhenBlobExists(t *testing.T) {
	// Arrange: a previous run wrote the blob but died before recording it
	date := time.Date(2024, 3, 14, 9, 26, 53, 0, time.UTC)
	session := newFakeSession(map[string]map[uint32]*fakeMessage{
		"INBOX": {
			1: {messageID: "<a@x>", subject: "pi day", date: date, raw: []byte("raw message")},
		},
	})
	_, err := session.Select(context.Background(), "INBOX")
	require.NoError(t, err)

	account := &models.Account{ID: "acc_1", User: "user@example.com"}
	mail := &models.Mail{ID: "mail_1", AccountID: "acc_1", UUID: "<a@x>", Sequence: utils.Ptr(uint32(1)), Folder: utils.Ptr("INBOX")}
	svc, mailRepo, blobs := newWorkerFixture(t, session, mail)

	key := "user_example.com/INBOX/2024-03-14_09-26-53_1_pi_day.eml"
	require.NoError(t, blobs.Write(context.Background(), key, []byte("raw message")))
	blobs.writes = 0

	// Act
	err = svc.DownloadMail(context.Background(), session, account, mail, "INBOX")

	// Assert: record catches up without refetching or rewriting
	require.NoError(t, err)
	assert.Equal(t, 0, session.fetchRawHits)
	assert.Equal(t, 0, blobs.writes)

	stored, err := mailRepo.GetByID(context.Background(), "mail_1")
	require.NoError(t, err)
	assert.True(t, stored.Downloaded)
	assert.Equal(t, key, *stored.Filename)
}

func TestDownloadMail_HeaderFailureFallsBackToPlaceholders(t *testing.T) {
	// Arrange
	session := newFakeSession(map[string]map[uint32]*fakeMessage{
		"INBOX": {
			1: {messageID: "<a@x>", subject: "ignored", raw: []byte("raw message")},
		},
	})
	_, err := session.Select(context.Background(), "INBOX")
	require.NoError(t, err)
	session.headerErr = errors.New("fetch failed")

	account := &models.Account{ID: "acc_1", User: "user@example.com"}
	mail := &models.Mail{ID: "mail_1", AccountID: "acc_1", UUID: "<a@x>", Sequence: utils.Ptr(uint32(1)), Folder: utils.Ptr("INBOX")}
	svc, mailRepo, _ := newWorkerFixture(t, session, mail)

	// Act
	err = svc.DownloadMail(context.Background(), session, account, mail, "INBOX")

	// Assert
	require.NoError(t, err)

	stored, err := mailRepo.GetByID(context.Background(), "mail_1")
	require.NoError(t, err)
	assert.True(t, stored.Downloaded)
	assert.Contains(t, *stored.Filename, "Email_Without_Header")
}

func TestDownloadMail_FetchErrorLeavesRecordPending(t *testing.T) {
	// Arrange
	session := newFakeSession(map[string]map[uint32]*fakeMessage{
		"INBOX": {
			1: {messageID: "<a@x>", raw: []byte("raw message")},
		},
	})
	_, err := session.Select(context.Background(), "INBOX")
	require.NoError(t, err)
	session.fetchRawErr = errors.New("connection dropped")

	account := &models.Account{ID: "acc_1", User: "user@example.com"}
	mail := &models.Mail{ID: "mail_1", AccountID: "acc_1", UUID: "<a@x>", Sequence: utils.Ptr(uint32(1)), Folder: utils.Ptr("INBOX")}
	svc, mailRepo, _ := newWorkerFixture(t, session, mail)

	// Act
	err = svc.DownloadMail(context.Background(), session, account, mail, "INBOX")

	// Assert
	require.Error(t, err)

	stored, err := mailRepo.GetByID(context.Background(), "mail_1")
	require.NoError(t, err)
	assert.False(t, stored.Downloaded)
}
