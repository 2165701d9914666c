package download

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailvault/mailvault/internal/models"
	"github.com/mailvault/mailvault/internal/utils"
)

func newLocatorService(session *fakeSession) *Service {
	return NewService(
		&fakeClient{session: session},
		newFakeAccountRepo(),
		newFakeMailRepo(),
		newMemBlobStorage(),
		nil,
		getLogger(),
		nil,
		time.Millisecond,
	)
}

func TestLocate_TrustsSequenceWithinBounds(t *testing.T) {
	// Arrange
	session := newFakeSession(map[string]map[uint32]*fakeMessage{
		"INBOX": {
			1: {messageID: "<a@x>", raw: []byte("a")},
			2: {messageID: "<b@x>", raw: []byte("b")},
		},
	})
	_, err := session.Select(context.Background(), "INBOX")
	require.NoError(t, err)
	svc := newLocatorService(session)

	mail := &models.Mail{UUID: "<b@x>", Sequence: utils.Ptr(uint32(2))}

	// Act
	seq, err := svc.locate(context.Background(), session, mail)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, uint32(2), seq)
}

func TestLocate_StaleSequenceFallsBackToHeaderSearch(t *testing.T) {
	// Arrange: the stored sequence points past the end of the folder
	session := newFakeSession(map[string]map[uint32]*fakeMessage{
		"INBOX": {
			1: {messageID: "<b@x>", raw: []byte("b")},
		},
	})
	_, err := session.Select(context.Background(), "INBOX")
	require.NoError(t, err)
	svc := newLocatorService(session)

	mail := &models.Mail{UUID: "<b@x>", Sequence: utils.Ptr(uint32(9))}

	// Act
	seq, err := svc.locate(context.Background(), session, mail)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, uint32(1), seq)
}

func TestLocate_RetriesWithoutAngleBrackets(t *testing.T) {
	// Arrange: server indexes the identifier without angle brackets
	session := newFakeSession(map[string]map[uint32]*fakeMessage{
		"INBOX": {
			3: {messageID: "b@x", raw: []byte("b")},
		},
	})
	_, err := session.Select(context.Background(), "INBOX")
	require.NoError(t, err)
	svc := newLocatorService(session)

	mail := &models.Mail{UUID: "<b@x>"}

	// Act
	seq, err := svc.locate(context.Background(), session, mail)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, uint32(3), seq)
}

func TestLocate_FullTextFallback(t *testing.T) {
	// Arrange: header search misses entirely, the id only appears in the body
	session := newFakeSession(map[string]map[uint32]*fakeMessage{
		"INBOX": {
			5: {messageID: "", raw: []byte("forwarded copy of NO-MESSAGE-ID-INBOX-12")},
		},
	})
	_, err := session.Select(context.Background(), "INBOX")
	require.NoError(t, err)
	svc := newLocatorService(session)

	mail := &models.Mail{UUID: "NO-MESSAGE-ID-INBOX-12"}

	// Act
	seq, err := svc.locate(context.Background(), session, mail)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, uint32(5), seq)
}

func TestLocate_OrphanWhenNothingMatches(t *testing.T) {
	// Arrange
	session := newFakeSession(map[string]map[uint32]*fakeMessage{
		"INBOX": {
			1: {messageID: "<other@x>", raw: []byte("other")},
		},
	})
	_, err := session.Select(context.Background(), "INBOX")
	require.NoError(t, err)
	svc := newLocatorService(session)

	mail := &models.Mail{UUID: "<gone@x>"}

	// Act
	_, err = svc.locate(context.Background(), session, mail)

	// Assert
	assert.ErrorIs(t, err, ErrOrphan)
}

func TestLocate_SearchErrorIsTransient(t *testing.T) {
	// Arrange: a failing search must not be mistaken for an orphan
	session := newFakeSession(map[string]map[uint32]*fakeMessage{
		"INBOX": {},
	})
	_, err := session.Select(context.Background(), "INBOX")
	require.NoError(t, err)
	session.searchErr = errors.New("connection reset")
	svc := newLocatorService(session)

	mail := &models.Mail{UUID: "<b@x>"}

	// Act
	_, err = svc.locate(context.Background(), session, mail)

	// Assert
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrOrphan)
}
