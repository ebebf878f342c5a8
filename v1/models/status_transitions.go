package models

import "time"

// StatusTransition is one entry of a member's append-only status audit trail.
// The origin status is never stored; it is always derived by replaying the
// chain in (effective_date, created_at) order. Entries are soft-deleted, never
// hard-deleted: deleted_by_transition_id records which other transition's
// invalidation cascaded onto this one, while a direct user delete leaves it
// null.
type StatusTransition struct {
	TransitionID string `gorm:"primarykey;column:transition_id" json:"transitionId"`
	MemberID     string `gorm:"column:member_id;not null;index:idx_transitions_member" json:"memberId"`
	ClubID       string `gorm:"column:club_id;not null;index" json:"clubId"`

	ToStatus         MemberStatus  `gorm:"column:to_status;not null" json:"toStatus"`
	Reason           string        `gorm:"column:reason;not null" json:"reason"`
	LeftCategory     *LeftCategory `gorm:"column:left_category" json:"leftCategory,omitempty"`
	MembershipTypeID *string       `gorm:"column:membership_type_id" json:"membershipTypeId,omitempty"`

	EffectiveDate Date   `gorm:"column:effective_date;not null;index:idx_transitions_member" json:"effectiveDate"`
	ActorID       string `gorm:"column:actor_id;not null" json:"actorId"`

	DeletedAt             *time.Time `gorm:"column:deleted_at;index" json:"deletedAt,omitempty"`
	DeletedBy             *string    `gorm:"column:deleted_by" json:"deletedBy,omitempty"`
	DeletedByTransitionID *string    `gorm:"column:deleted_by_transition_id" json:"deletedByTransitionId,omitempty"`

	BaseModel
}

// TableName sets the table name for GORM
func (StatusTransition) TableName() string {
	return "status_transitions"
}

// IsDeleted reports whether the transition is currently soft-deleted
func (t *StatusTransition) IsDeleted() bool {
	return t.DeletedAt != nil
}

// IsCascadeDeleted reports whether the deletion was caused by another
// transition's invalidation rather than a direct user action
func (t *StatusTransition) IsCascadeDeleted() bool {
	return t.DeletedAt != nil && t.DeletedByTransitionID != nil
}
