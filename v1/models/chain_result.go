package models

// RemovedTransition reports one chain entry that a recalculation
// cascade-deleted, with the rule that removed it and the transition whose
// change caused the removal.
type RemovedTransition struct {
	TransitionID         string       `json:"transitionId"`
	ToStatus             MemberStatus `json:"toStatus"`
	EffectiveDate        Date         `json:"effectiveDate"`
	Reason               string       `json:"reason"`
	CausedByTransitionID string       `json:"causedByTransitionId"`
}

// RestoredTransition reports one previously cascade-deleted entry whose cause
// is itself deleted now, so the cascade was stale and has been undone.
type RestoredTransition struct {
	TransitionID  string       `json:"transitionId"`
	ToStatus      MemberStatus `json:"toStatus"`
	EffectiveDate Date         `json:"effectiveDate"`
}

// PeriodChange reports one membership period whose leave date was rewritten
// by period auto-maintenance.
type PeriodChange struct {
	PeriodID          string `json:"periodId"`
	JoinDate          Date   `json:"joinDate"`
	PreviousLeaveDate *Date  `json:"previousLeaveDate,omitempty"`
	LeaveDate         *Date  `json:"leaveDate,omitempty"`
}

// ChainResult is the return contract of every chain mutation and of the
// preview API: what the recalculation removed, restored and rewrote, plus the
// derived final status.
type ChainResult struct {
	RemovedTransitions  []RemovedTransition  `json:"removedTransitions"`
	RestoredTransitions []RestoredTransition `json:"restoredTransitions"`
	ClosedPeriods       []PeriodChange       `json:"closedPeriods"`
	ReopenedPeriods     []PeriodChange       `json:"reopenedPeriods"`
	FinalMemberStatus   MemberStatus         `json:"finalMemberStatus"`
	HasChanges          bool                 `json:"hasChanges"`
}

// NewChainResult returns a result with all list fields initialized so JSON
// renders them as empty arrays rather than null
func NewChainResult() *ChainResult {
	return &ChainResult{
		RemovedTransitions:  []RemovedTransition{},
		RestoredTransitions: []RestoredTransition{},
		ClosedPeriods:       []PeriodChange{},
		ReopenedPeriods:     []PeriodChange{},
	}
}

// ChangeStatusRequest is the payload for a status change on one member
type ChangeStatusRequest struct {
	NewStatus        MemberStatus  `json:"newStatus"`
	Reason           string        `json:"reason"`
	EffectiveDate    *Date         `json:"effectiveDate,omitempty"`
	LeftCategory     *LeftCategory `json:"leftCategory,omitempty"`
	MembershipTypeID *string       `json:"membershipTypeId,omitempty"`
}

// SetCancellationRequest records a cancellation notice for a member
type SetCancellationRequest struct {
	CancellationDate Date   `json:"cancellationDate"`
	ReceivedAt       *Date  `json:"receivedAt,omitempty"`
	Reason           string `json:"reason"`
}

// RevokeCancellationRequest withdraws a recorded cancellation
type RevokeCancellationRequest struct {
	Reason string `json:"reason"`
}

// UpdateStatusHistoryRequest edits an existing audit-trail entry
type UpdateStatusHistoryRequest struct {
	Reason        *string       `json:"reason,omitempty"`
	EffectiveDate *Date         `json:"effectiveDate,omitempty"`
	LeftCategory  *LeftCategory `json:"leftCategory,omitempty"`
}

// BulkChangeStatusRequest applies one status change to many members
type BulkChangeStatusRequest struct {
	MemberIDs []string `json:"memberIds"`
	ChangeStatusRequest
}

// BulkSkippedMember reports one member a bulk change could not update
type BulkSkippedMember struct {
	MemberID string `json:"memberId"`
	Reason   string `json:"reason"`
}

// BulkChangeStatusResponse reports partial success of a bulk change
type BulkChangeStatusResponse struct {
	Updated []string            `json:"updated"`
	Skipped []BulkSkippedMember `json:"skipped"`
}

// CreateMemberRequest is the minimal member-creation payload
type CreateMemberRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CollectionResponse wraps list results with a count
type CollectionResponse struct {
	Items interface{} `json:"items"`
	Count int         `json:"count"`
}
