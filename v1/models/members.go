package models

import "time"

// Member is the denormalized member projection. Status fields are a cache of
// the transition chain's derived state and are only written by the chain
// recalculation; the version counter guards the surrounding CRUD layer
// against stale writes.
type Member struct {
	MemberID string `gorm:"primarykey;column:member_id" json:"memberId"`
	ClubID   string `gorm:"column:club_id;not null;index" json:"clubId"`
	Name     string `gorm:"column:name;not null" json:"name"`
	Email    string `gorm:"column:email;not null" json:"email"`

	Status          MemberStatus `gorm:"column:status;not null" json:"status"`
	StatusChangedAt *time.Time   `gorm:"column:status_changed_at" json:"statusChangedAt,omitempty"`
	StatusChangedBy *string      `gorm:"column:status_changed_by" json:"statusChangedBy,omitempty"`

	CancellationDate       *Date      `gorm:"column:cancellation_date" json:"cancellationDate,omitempty"`
	CancellationReceivedAt *time.Time `gorm:"column:cancellation_received_at" json:"cancellationReceivedAt,omitempty"`
	CancellationReason     *string    `gorm:"column:cancellation_reason" json:"cancellationReason,omitempty"`

	Version int `gorm:"column:version;not null;default:0" json:"version"`
	BaseModel
}

// TableName sets the table name for GORM
func (Member) TableName() string {
	return "members"
}

// HasFormalCancellation reports whether the member's cancellation was formally
// received as notice, as opposed to auto-derived from a LEFT transition
func (m *Member) HasFormalCancellation() bool {
	return m.CancellationDate != nil && m.CancellationReceivedAt != nil
}
