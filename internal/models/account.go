package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/mailvault/mailvault/internal/utils"
)

// Account is a remote mailbox we mirror. Credentials are stored as provided;
// encrypting them at rest is the operator's database concern.
type Account struct {
	ID       string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	User     string `gorm:"column:user;type:varchar(255);uniqueIndex;not null" json:"user"`
	Password string `gorm:"column:password;type:varchar(255);not null" json:"-"`
	// Folders observed during the last sync pass, without the server prefix
	Folders pq.StringArray `gorm:"column:folders;type:text[]" json:"folders"`
	// CompletedAt is set exactly once, when a download pass finds zero pending mails
	CompletedAt *time.Time `gorm:"column:completed_at;type:timestamp" json:"completedAt"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("acc", 16)
	}
	return nil
}

func (a *Account) Completed() bool {
	return a.CompletedAt != nil
}
