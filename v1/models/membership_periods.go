package models

import "gorm.io/datatypes"

// MembershipPeriod is one contiguous interval during which the member held a
// given membership type. A nil leave date means the period is open-ended.
// Periods are not part of the status chain but are derivatively maintained by
// every recalculation, so multiple periods per member (re-entry) stay
// contiguous.
type MembershipPeriod struct {
	PeriodID string `gorm:"primarykey;column:period_id" json:"periodId"`
	MemberID string `gorm:"column:member_id;not null;index" json:"memberId"`
	ClubID   string `gorm:"column:club_id;not null;index" json:"clubId"`

	JoinDate         Date    `gorm:"column:join_date;not null" json:"joinDate"`
	LeaveDate        *Date   `gorm:"column:leave_date" json:"leaveDate,omitempty"`
	MembershipTypeID *string `gorm:"column:membership_type_id" json:"membershipTypeId,omitempty"`
	Notes            string  `gorm:"column:notes" json:"notes,omitempty"`

	// Metadata records how the period was last touched (creating operation,
	// maintenance writes) for the UI's period timeline.
	Metadata datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`

	BaseModel
}

// TableName sets the table name for GORM
func (MembershipPeriod) TableName() string {
	return "membership_periods"
}

// IsOpen reports whether the period has no leave date
func (p *MembershipPeriod) IsOpen() bool {
	return p.LeaveDate == nil
}

// Covers reports whether the given date falls inside the period
func (p *MembershipPeriod) Covers(d Date) bool {
	if d.Before(p.JoinDate) {
		return false
	}
	if p.LeaveDate == nil {
		return true
	}
	return !d.After(*p.LeaveDate)
}
