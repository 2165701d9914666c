package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mailvault/mailvault/internal/utils"
)

// OrphanFilename marks a mail whose remote message could not be located by
// any resolution method. Orphans count as downloaded so they are never
// selected again by the pending backlog query.
const OrphanFilename = "ORPHAN"

// Mail is one remote message registered by the sync engine. Identity is
// (account_id, uuid); the sequence number is only a hint and may go stale
// whenever messages are expunged ahead of it.
type Mail struct {
	ID        string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	AccountID string `gorm:"column:account_id;type:varchar(50);not null;uniqueIndex:idx_mails_account_uuid;index:idx_mails_account_folder_sequence,priority:1" json:"accountId"`
	// UUID is the Message-ID header when the server exposes one, otherwise a
	// synthetic identifier derived from the folder and first-seen sequence
	UUID     string  `gorm:"column:uuid;type:varchar(998);not null;uniqueIndex:idx_mails_account_uuid" json:"uuid"`
	Sequence *uint32 `gorm:"column:sequence;index:idx_mails_account_folder_sequence,priority:3" json:"sequence"`
	Folder   *string `gorm:"column:folder;type:varchar(255);index:idx_mails_account_folder_sequence,priority:2" json:"folder"`

	Downloaded bool    `gorm:"column:downloaded;not null;default:false;index" json:"downloaded"`
	Filename   *string `gorm:"column:filename;type:varchar(1024)" json:"filename"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (Mail) TableName() string {
	return "mails"
}

func (m *Mail) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = utils.GenerateNanoIDWithPrefix("mail", 24)
	}
	return nil
}

func (m *Mail) IsOrphan() bool {
	return m.Filename != nil && *m.Filename == OrphanFilename
}

// SyntheticUUID builds the fallback identity for messages without a
// Message-ID header: stable as long as the message keeps its first-seen
// position within the folder.
func SyntheticUUID(folder string, sequence uint32) string {
	return fmt.Sprintf("NO-MESSAGE-ID-%s-%d", folder, sequence)
}
