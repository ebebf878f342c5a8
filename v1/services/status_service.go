package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/clubware/membership-backend/v1/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// StatusService is the caller-facing mutation API over the transition chain.
// Every call is one atomic unit of work: validate, write the triggering
// change, run the chain recalculation, persist the derived member status.
type StatusService struct {
	db    *gorm.DB
	chain *ChainService
	now   func() time.Time
}

// NewStatusService creates a new status service
func NewStatusService(db *gorm.DB) *StatusService {
	return &StatusService{
		db:    db,
		chain: NewChainService(db),
		now:   time.Now,
	}
}

func (s *StatusService) today() models.Date {
	return models.DateOf(s.now())
}

// runInTransaction executes fn inside one transaction, committing on success
// and rolling back wholesale on any error. No partial chain mutation is ever
// committed.
func (s *StatusService) runInTransaction(ctx context.Context, fn func(tx *gorm.DB) (*models.ChainResult, error)) (*models.ChainResult, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	result, err := fn(tx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

// runReadOnly executes fn inside a transaction that is always rolled back,
// while still returning the computed result. This is how previews run the
// full mutation path without leaving a persisted trace.
func (s *StatusService) runReadOnly(ctx context.Context, fn func(tx *gorm.DB) (*models.ChainResult, error)) (*models.ChainResult, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", tx.Error)
	}
	defer tx.Rollback()

	return fn(tx)
}

// ChangeStatus records a status transition for a member and re-derives the
// chain. Validation runs against the chain status as of the effective date,
// not the member's cached status.
func (s *StatusService) ChangeStatus(ctx context.Context, clubID, memberID, actorID string, req *models.ChangeStatusRequest) (*models.ChainResult, error) {
	return s.runInTransaction(ctx, func(tx *gorm.DB) (*models.ChainResult, error) {
		_, result, err := s.changeStatusInTx(tx, clubID, memberID, actorID, req, false)
		return result, err
	})
}

// PreviewChangeStatus runs the full ChangeStatus path, including the
// temporary transition insert and a dry-run recalculation, inside a
// transaction that is unconditionally rolled back.
func (s *StatusService) PreviewChangeStatus(ctx context.Context, clubID, memberID, actorID string, req *models.ChangeStatusRequest) (*models.ChainResult, error) {
	return s.runReadOnly(ctx, func(tx *gorm.DB) (*models.ChainResult, error) {
		_, result, err := s.changeStatusInTx(tx, clubID, memberID, actorID, req, true)
		return result, err
	})
}

// changeStatusInTx is the shared core of ChangeStatus and its preview.
func (s *StatusService) changeStatusInTx(tx *gorm.DB, clubID, memberID, actorID string, req *models.ChangeStatusRequest, dryRun bool) (*models.StatusTransition, *models.ChainResult, error) {
	if !req.NewStatus.IsValid() {
		return nil, nil, models.NewValidationError("newStatus", "unknown status %q", string(req.NewStatus))
	}
	if req.Reason == "" {
		return nil, nil, models.NewValidationError("reason", "reason is required")
	}
	effectiveDate := s.today()
	if req.EffectiveDate != nil {
		if req.EffectiveDate.IsZero() {
			return nil, nil, models.NewValidationError("effectiveDate", "malformed date")
		}
		effectiveDate = *req.EffectiveDate
	}

	member, err := loadMember(tx, clubID, memberID)
	if err != nil {
		return nil, nil, err
	}

	statusBefore, err := s.statusAsOf(tx, clubID, memberID, effectiveDate)
	if err != nil {
		return nil, nil, err
	}

	if req.NewStatus == statusBefore {
		// Self-transition: pure audit marker for a membership-type change.
		if req.MembershipTypeID == nil || *req.MembershipTypeID == "" {
			return nil, nil, models.NewValidationError("membershipTypeId", "a transition to the current status records a membership-type change and requires a membership type")
		}
	} else if !IsTransitionAllowed(statusBefore, req.NewStatus) {
		return nil, nil, &models.InvalidTransitionError{
			From:    statusBefore,
			To:      req.NewStatus,
			Allowed: AllowedTransitions(statusBefore),
		}
	}

	if req.NewStatus == models.StatusLeft {
		if req.LeftCategory == nil || !req.LeftCategory.IsValid() {
			return nil, nil, models.NewValidationError("leftCategory", "a transition to LEFT requires a left category")
		}
	}

	if err := s.resolveSameDayCollision(tx, clubID, memberID, actorID, effectiveDate); err != nil {
		return nil, nil, err
	}

	transition := &models.StatusTransition{
		TransitionID:     "trn_" + uuid.New().String(),
		MemberID:         memberID,
		ClubID:           clubID,
		ToStatus:         req.NewStatus,
		Reason:           req.Reason,
		LeftCategory:     req.LeftCategory,
		MembershipTypeID: req.MembershipTypeID,
		EffectiveDate:    effectiveDate,
		ActorID:          actorID,
	}
	if err := tx.Create(transition).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to create status transition: %w", err)
	}

	if req.NewStatus != models.StatusLeft {
		if err := s.ensurePeriodFor(tx, member, effectiveDate, req.MembershipTypeID); err != nil {
			return nil, nil, err
		}
	}

	result, err := s.chain.Recalculate(tx, memberID, clubID, actorID, transition.TransitionID, dryRun)
	if err != nil {
		return nil, nil, err
	}
	return transition, result, nil
}

// statusAsOf replays the member's non-deleted chain up to and including the
// given date and returns the status that held then. Entries the replay would
// cascade away are skipped rather than applied.
func (s *StatusService) statusAsOf(tx *gorm.DB, clubID, memberID string, asOf models.Date) (models.MemberStatus, error) {
	var chain []models.StatusTransition
	if err := tx.Where("member_id = ? AND club_id = ? AND deleted_at IS NULL AND effective_date <= ?", memberID, clubID, asOf).
		Order("effective_date ASC, created_at ASC").
		Find(&chain).Error; err != nil {
		return "", fmt.Errorf("failed to load transition chain for member %s: %w", memberID, err)
	}

	current := models.StatusPending
	for i := range chain {
		// Same-day entries do not count toward the status a new same-day
		// transition validates against; they are collision-handled instead.
		if chain[i].EffectiveDate.Equal(asOf) {
			continue
		}
		if IsTransitionAllowed(current, chain[i].ToStatus) {
			current = chain[i].ToStatus
		}
	}
	return current, nil
}

// resolveSameDayCollision enforces the at-most-one-transition-per-day
// invariant: an existing same-day entry is replaced when it is a
// self-transition (an audit marker) and rejected with a conflict otherwise.
func (s *StatusService) resolveSameDayCollision(tx *gorm.DB, clubID, memberID, actorID string, effectiveDate models.Date) error {
	var sameDay []models.StatusTransition
	if err := tx.Where("member_id = ? AND club_id = ? AND deleted_at IS NULL AND effective_date = ?", memberID, clubID, effectiveDate).
		Find(&sameDay).Error; err != nil {
		return fmt.Errorf("failed to check same-day transitions: %w", err)
	}
	if len(sameDay) == 0 {
		return nil
	}

	statusBefore, err := s.statusAsOf(tx, clubID, memberID, effectiveDate)
	if err != nil {
		return err
	}

	for i := range sameDay {
		if sameDay[i].ToStatus != statusBefore {
			return models.NewConflictError("member %s already has a status transition on %s", memberID, effectiveDate)
		}
	}
	// Only replaceable audit markers collide; silently swap them out.
	now := s.now().UTC()
	for i := range sameDay {
		if err := tx.Model(&models.StatusTransition{}).
			Where("transition_id = ?", sameDay[i].TransitionID).
			Updates(map[string]interface{}{
				"deleted_at": now,
				"deleted_by": actorID,
			}).Error; err != nil {
			return fmt.Errorf("failed to replace same-day transition %s: %w", sameDay[i].TransitionID, err)
		}
	}
	return nil
}

// ensurePeriodFor reuses the membership period covering the effective date,
// or starts a new one when none covers it or the membership type changed.
func (s *StatusService) ensurePeriodFor(tx *gorm.DB, member *models.Member, effectiveDate models.Date, membershipTypeID *string) error {
	var periods []models.MembershipPeriod
	if err := tx.Where("member_id = ? AND club_id = ?", member.MemberID, member.ClubID).
		Order("join_date ASC, created_at ASC").
		Find(&periods).Error; err != nil {
		return fmt.Errorf("failed to load membership periods: %w", err)
	}

	for i := range periods {
		if !periods[i].Covers(effectiveDate) {
			continue
		}
		if membershipTypeID == nil || stringPtrEqual(periods[i].MembershipTypeID, membershipTypeID) {
			return nil
		}
		// Type changed: the covering period ends here and a new one starts.
		break
	}

	metadata, _ := json.Marshal(map[string]string{
		"source":   "status-change",
		"joinDate": effectiveDate.String(),
	})
	period := &models.MembershipPeriod{
		PeriodID:         "per_" + uuid.New().String(),
		MemberID:         member.MemberID,
		ClubID:           member.ClubID,
		JoinDate:         effectiveDate,
		MembershipTypeID: membershipTypeID,
		Metadata:         datatypes.JSON(metadata),
	}
	if err := tx.Create(period).Error; err != nil {
		return fmt.Errorf("failed to create membership period: %w", err)
	}
	return nil
}

// SetCancellation records a cancellation notice. A date that is today or in
// the past terminates the membership immediately; a future date records a
// self-transition marker and leaves termination to the cancellation worker.
func (s *StatusService) SetCancellation(ctx context.Context, clubID, memberID, actorID string, req *models.SetCancellationRequest) (*models.ChainResult, error) {
	if req.CancellationDate.IsZero() {
		return nil, models.NewValidationError("cancellationDate", "cancellation date is required")
	}
	if req.Reason == "" {
		return nil, models.NewValidationError("reason", "reason is required")
	}

	return s.runInTransaction(ctx, func(tx *gorm.DB) (*models.ChainResult, error) {
		member, err := loadMember(tx, clubID, memberID)
		if err != nil {
			return nil, err
		}
		if member.Status == models.StatusLeft {
			return nil, models.NewConflictError("member %s has already left", memberID)
		}
		if member.CancellationDate != nil {
			return nil, models.NewConflictError("member %s already has a cancellation recorded for %s", memberID, member.CancellationDate)
		}

		receivedAt := s.now().UTC()
		if req.ReceivedAt != nil {
			receivedAt = req.ReceivedAt.Time()
		}

		if !req.CancellationDate.After(s.today()) {
			// Effective now: terminate immediately through the ordinary
			// status change path.
			category := models.LeftCategoryVoluntary
			_, result, err := s.changeStatusInTx(tx, clubID, memberID, actorID, &models.ChangeStatusRequest{
				NewStatus:     models.StatusLeft,
				Reason:        req.Reason,
				EffectiveDate: &req.CancellationDate,
				LeftCategory:  &category,
			}, false)
			if err != nil {
				return nil, err
			}
			if err := s.writeCancellationFields(tx, memberID, req.CancellationDate, receivedAt, req.Reason); err != nil {
				return nil, err
			}
			return result, nil
		}

		// Future-dated: park a self-transition marker on the cancellation
		// date; the worker fires the actual LEFT transition when it arrives.
		statusAtDate, err := s.statusAsOf(tx, clubID, memberID, req.CancellationDate)
		if err != nil {
			return nil, err
		}
		if err := s.resolveSameDayCollision(tx, clubID, memberID, actorID, req.CancellationDate); err != nil {
			return nil, err
		}
		marker := &models.StatusTransition{
			TransitionID:  "trn_" + uuid.New().String(),
			MemberID:      memberID,
			ClubID:        clubID,
			ToStatus:      statusAtDate,
			Reason:        req.Reason,
			EffectiveDate: req.CancellationDate,
			ActorID:       actorID,
		}
		if err := tx.Create(marker).Error; err != nil {
			return nil, fmt.Errorf("failed to create cancellation marker: %w", err)
		}
		if err := s.writeCancellationFields(tx, memberID, req.CancellationDate, receivedAt, req.Reason); err != nil {
			return nil, err
		}
		result, err := s.chain.Recalculate(tx, memberID, clubID, actorID, marker.TransitionID, false)
		if err != nil {
			return nil, err
		}
		slog.Info("Future-dated cancellation recorded",
			"memberId", memberID, "cancellationDate", req.CancellationDate, "markerId", marker.TransitionID)
		return result, nil
	})
}

func (s *StatusService) writeCancellationFields(tx *gorm.DB, memberID string, date models.Date, receivedAt time.Time, reason string) error {
	if err := tx.Model(&models.Member{}).
		Where("member_id = ?", memberID).
		Updates(map[string]interface{}{
			"cancellation_date":        date,
			"cancellation_received_at": receivedAt,
			"cancellation_reason":      reason,
		}).Error; err != nil {
		return fmt.Errorf("failed to record cancellation on member %s: %w", memberID, err)
	}
	return nil
}

// RevokeCancellation withdraws a recorded cancellation: the transitions dated
// at the cancellation date (marker or actual LEFT) are soft-deleted, the
// cancellation fields cleared and the chain re-derived to restore the prior
// status.
func (s *StatusService) RevokeCancellation(ctx context.Context, clubID, memberID, actorID string, req *models.RevokeCancellationRequest) (*models.ChainResult, error) {
	return s.runInTransaction(ctx, func(tx *gorm.DB) (*models.ChainResult, error) {
		member, err := loadMember(tx, clubID, memberID)
		if err != nil {
			return nil, err
		}
		if member.CancellationDate == nil {
			return nil, models.NewConflictError("member %s has no cancellation to revoke", memberID)
		}
		cancellationDate := *member.CancellationDate

		var dated []models.StatusTransition
		if err := tx.Where("member_id = ? AND club_id = ? AND deleted_at IS NULL AND effective_date = ?", memberID, clubID, cancellationDate).
			Find(&dated).Error; err != nil {
			return nil, fmt.Errorf("failed to load cancellation transitions: %w", err)
		}

		now := s.now().UTC()
		trigger := ""
		for i := range dated {
			if err := tx.Model(&models.StatusTransition{}).
				Where("transition_id = ?", dated[i].TransitionID).
				Updates(map[string]interface{}{
					"deleted_at": now,
					"deleted_by": actorID,
				}).Error; err != nil {
				return nil, fmt.Errorf("failed to delete cancellation transition %s: %w", dated[i].TransitionID, err)
			}
			trigger = dated[i].TransitionID
		}

		if err := tx.Model(&models.Member{}).
			Where("member_id = ?", memberID).
			Updates(map[string]interface{}{
				"cancellation_date":        nil,
				"cancellation_received_at": nil,
				"cancellation_reason":      nil,
			}).Error; err != nil {
			return nil, fmt.Errorf("failed to clear cancellation on member %s: %w", memberID, err)
		}

		result, err := s.chain.Recalculate(tx, memberID, clubID, actorID, trigger, false)
		if err != nil {
			return nil, err
		}
		slog.Info("Cancellation revoked", "memberId", memberID, "reason", req.Reason, "restoredStatus", result.FinalMemberStatus)
		return result, nil
	})
}

// BulkChangeStatus applies the same status change to many members, each in
// its own transaction. One member's failure does not abort the others.
func (s *StatusService) BulkChangeStatus(ctx context.Context, clubID, actorID string, req *models.BulkChangeStatusRequest) (*models.BulkChangeStatusResponse, error) {
	if len(req.MemberIDs) == 0 {
		return nil, models.NewValidationError("memberIds", "at least one member is required")
	}

	response := &models.BulkChangeStatusResponse{
		Updated: []string{},
		Skipped: []models.BulkSkippedMember{},
	}
	for _, memberID := range req.MemberIDs {
		if _, err := s.ChangeStatus(ctx, clubID, memberID, actorID, &req.ChangeStatusRequest); err != nil {
			response.Skipped = append(response.Skipped, models.BulkSkippedMember{
				MemberID: memberID,
				Reason:   err.Error(),
			})
			continue
		}
		response.Updated = append(response.Updated, memberID)
	}
	return response, nil
}

// UpdateStatusHistoryEntry edits a past transition's reason, effective date
// or left category, then re-derives the chain with that entry as the trigger.
func (s *StatusService) UpdateStatusHistoryEntry(ctx context.Context, clubID, transitionID, actorID string, req *models.UpdateStatusHistoryRequest) (*models.ChainResult, error) {
	return s.runInTransaction(ctx, func(tx *gorm.DB) (*models.ChainResult, error) {
		transition, err := loadTransition(tx, clubID, transitionID)
		if err != nil {
			return nil, err
		}

		updates := map[string]interface{}{}
		if req.Reason != nil {
			if *req.Reason == "" {
				return nil, models.NewValidationError("reason", "reason cannot be empty")
			}
			updates["reason"] = *req.Reason
		}
		if req.LeftCategory != nil {
			if transition.ToStatus != models.StatusLeft {
				return nil, models.NewValidationError("leftCategory", "only LEFT transitions carry a left category")
			}
			if !req.LeftCategory.IsValid() {
				return nil, models.NewValidationError("leftCategory", "unknown left category %q", string(*req.LeftCategory))
			}
			updates["left_category"] = *req.LeftCategory
		}
		if req.EffectiveDate != nil && !req.EffectiveDate.Equal(transition.EffectiveDate) {
			if req.EffectiveDate.IsZero() {
				return nil, models.NewValidationError("effectiveDate", "malformed date")
			}
			var collisions int64
			if err := tx.Model(&models.StatusTransition{}).
				Where("member_id = ? AND club_id = ? AND deleted_at IS NULL AND effective_date = ? AND transition_id <> ?",
					transition.MemberID, clubID, *req.EffectiveDate, transitionID).
				Count(&collisions).Error; err != nil {
				return nil, fmt.Errorf("failed to check same-day transitions: %w", err)
			}
			if collisions > 0 {
				return nil, models.NewConflictError("member %s already has a status transition on %s", transition.MemberID, req.EffectiveDate)
			}
			updates["effective_date"] = *req.EffectiveDate
		}
		if len(updates) == 0 {
			return nil, models.NewValidationError("", "nothing to update")
		}

		if err := tx.Model(&models.StatusTransition{}).
			Where("transition_id = ?", transitionID).
			Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("failed to update transition %s: %w", transitionID, err)
		}

		return s.chain.Recalculate(tx, transition.MemberID, clubID, actorID, transitionID, false)
	})
}

// DeleteStatusHistoryEntry soft-deletes a transition directly (no cascade
// provenance) and re-derives the chain. A LEFT transition backed by a
// formally received cancellation must be revoked instead, so cancellation
// fields and chain stay in sync.
func (s *StatusService) DeleteStatusHistoryEntry(ctx context.Context, clubID, transitionID, actorID string) (*models.ChainResult, error) {
	return s.runInTransaction(ctx, func(tx *gorm.DB) (*models.ChainResult, error) {
		transition, err := loadTransition(tx, clubID, transitionID)
		if err != nil {
			return nil, err
		}

		if transition.ToStatus == models.StatusLeft {
			member, err := loadMember(tx, clubID, transition.MemberID)
			if err != nil {
				return nil, err
			}
			if member.HasFormalCancellation() && member.CancellationDate.Equal(transition.EffectiveDate) {
				return nil, models.NewConflictError("transition %s is backed by a formally received cancellation; revoke the cancellation instead", transitionID)
			}
		}

		now := s.now().UTC()
		if err := tx.Model(&models.StatusTransition{}).
			Where("transition_id = ?", transitionID).
			Updates(map[string]interface{}{
				"deleted_at": now,
				"deleted_by": actorID,
			}).Error; err != nil {
			return nil, fmt.Errorf("failed to delete transition %s: %w", transitionID, err)
		}

		return s.chain.Recalculate(tx, transition.MemberID, clubID, actorID, transitionID, false)
	})
}

// GetStatusHistory returns the member's audit trail in chain order
func (s *StatusService) GetStatusHistory(ctx context.Context, clubID, memberID string, includeDeleted bool) ([]models.StatusTransition, error) {
	if _, err := loadMember(s.db.WithContext(ctx), clubID, memberID); err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).
		Where("member_id = ? AND club_id = ?", memberID, clubID).
		Order("effective_date ASC, created_at ASC")
	if !includeDeleted {
		query = query.Where("deleted_at IS NULL")
	}
	var transitions []models.StatusTransition
	if err := query.Find(&transitions).Error; err != nil {
		return nil, fmt.Errorf("failed to load status history for member %s: %w", memberID, err)
	}
	return transitions, nil
}

// GetMembershipPeriods returns the member's period timeline
func (s *StatusService) GetMembershipPeriods(ctx context.Context, clubID, memberID string) ([]models.MembershipPeriod, error) {
	if _, err := loadMember(s.db.WithContext(ctx), clubID, memberID); err != nil {
		return nil, err
	}
	var periods []models.MembershipPeriod
	if err := s.db.WithContext(ctx).
		Where("member_id = ? AND club_id = ?", memberID, clubID).
		Order("join_date ASC, created_at ASC").
		Find(&periods).Error; err != nil {
		return nil, fmt.Errorf("failed to load membership periods for member %s: %w", memberID, err)
	}
	return periods, nil
}

func loadMember(tx *gorm.DB, clubID, memberID string) (*models.Member, error) {
	var member models.Member
	if err := tx.First(&member, "member_id = ? AND club_id = ?", memberID, clubID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.NewNotFoundError("member", memberID)
		}
		return nil, fmt.Errorf("failed to load member %s: %w", memberID, err)
	}
	return &member, nil
}

func loadTransition(tx *gorm.DB, clubID, transitionID string) (*models.StatusTransition, error) {
	var transition models.StatusTransition
	if err := tx.First(&transition, "transition_id = ? AND club_id = ? AND deleted_at IS NULL", transitionID, clubID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.NewNotFoundError("status transition", transitionID)
		}
		return nil, fmt.Errorf("failed to load transition %s: %w", transitionID, err)
	}
	return &transition, nil
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
