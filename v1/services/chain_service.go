package services

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/clubware/membership-backend/shared/monitoring"
	"github.com/clubware/membership-backend/v1/models"
	"gorm.io/gorm"
)

// ChainService re-derives a member's current status from the full transition
// chain. Validity of any entry depends on the whole ordered chain, so every
// recalculation runs from scratch to a fixed point: pass 1 restores stale
// cascades, pass 2 replays the chain and re-cascades violations. It never
// patches incrementally.
type ChainService struct {
	db *gorm.DB
}

// NewChainService creates a new chain service
func NewChainService(db *gorm.DB) *ChainService {
	return &ChainService{db: db}
}

// replayOutcome carries the replay's derived state into period maintenance
// and projection sync.
type replayOutcome struct {
	finalStatus  models.MemberStatus
	terminal     bool
	terminalDate models.Date
}

// Recalculate restores stale cascades, replays the member's chain against the
// transition graph, cascade-deletes violations, normalizes membership periods
// and syncs the member projection. All writes run on the supplied transaction;
// with dryRun set they are computed but skipped, and the returned ChainResult
// still reflects what would have happened.
func (s *ChainService) Recalculate(tx *gorm.DB, memberID, clubID, actorID, triggeringTransitionID string, dryRun bool) (*models.ChainResult, error) {
	result := models.NewChainResult()

	var member models.Member
	if err := tx.First(&member, "member_id = ? AND club_id = ?", memberID, clubID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.NewNotFoundError("member", memberID)
		}
		return nil, fmt.Errorf("failed to load member %s: %w", memberID, err)
	}

	// Single load of the full audit trail, deleted entries included. Both
	// passes work on this in-memory view so a dry run sees the same chain a
	// real run would.
	var all []models.StatusTransition
	if err := tx.Where("member_id = ? AND club_id = ?", memberID, clubID).
		Order("effective_date ASC, created_at ASC").
		Find(&all).Error; err != nil {
		return nil, fmt.Errorf("failed to load transition chain for member %s: %w", memberID, err)
	}

	if err := s.restoreStaleCascades(tx, all, result, dryRun); err != nil {
		return nil, err
	}

	outcome, err := s.replayChain(tx, all, actorID, triggeringTransitionID, result, dryRun)
	if err != nil {
		return nil, err
	}
	result.FinalMemberStatus = outcome.finalStatus

	if err := s.maintainPeriods(tx, memberID, clubID, outcome, result, dryRun); err != nil {
		return nil, err
	}

	if !dryRun {
		if err := s.syncMemberProjection(tx, &member, actorID, outcome, result); err != nil {
			return nil, err
		}
	}

	monitoring.RecordRecalculation(len(result.RemovedTransitions), len(result.RestoredTransitions), dryRun)
	slog.Info("Chain recalculated",
		"memberId", memberID,
		"finalStatus", result.FinalMemberStatus,
		"removed", len(result.RemovedTransitions),
		"restored", len(result.RestoredTransitions),
		"dryRun", dryRun)

	return result, nil
}

// restoreStaleCascades undoes cascade deletions whose causing transition is
// itself deleted by now. Runs before the replay because an edit can
// retroactively invalidate a previous cascade decision.
func (s *ChainService) restoreStaleCascades(tx *gorm.DB, all []models.StatusTransition, result *models.ChainResult, dryRun bool) error {
	byID := make(map[string]*models.StatusTransition, len(all))
	for i := range all {
		byID[all[i].TransitionID] = &all[i]
	}

	for i := range all {
		entry := &all[i]
		if !entry.IsCascadeDeleted() {
			continue
		}
		causeID := *entry.DeletedByTransitionID
		if causeID == entry.TransitionID {
			// A self-attributed cascade must stay put or it would flap
			// between restored and re-deleted on every run.
			continue
		}
		cause, known := byID[causeID]
		if known && !cause.IsDeleted() {
			continue
		}

		entry.DeletedAt = nil
		entry.DeletedBy = nil
		entry.DeletedByTransitionID = nil
		if !dryRun {
			if err := tx.Model(&models.StatusTransition{}).
				Where("transition_id = ?", entry.TransitionID).
				Updates(map[string]interface{}{
					"deleted_at":               nil,
					"deleted_by":               nil,
					"deleted_by_transition_id": nil,
				}).Error; err != nil {
				return fmt.Errorf("failed to restore transition %s: %w", entry.TransitionID, err)
			}
		}
		result.RestoredTransitions = append(result.RestoredTransitions, models.RestoredTransition{
			TransitionID:  entry.TransitionID,
			ToStatus:      entry.ToStatus,
			EffectiveDate: entry.EffectiveDate,
		})
		result.HasChanges = true
	}
	return nil
}

// replayChain walks the non-deleted chain in (effectiveDate, createdAt) order
// starting from the virtual PENDING state, validating each step against the
// transition graph and cascade-deleting violations.
func (s *ChainService) replayChain(tx *gorm.DB, all []models.StatusTransition, actorID, triggeringTransitionID string, result *models.ChainResult, dryRun bool) (replayOutcome, error) {
	outcome := replayOutcome{finalStatus: models.StatusPending}
	lastValidID := ""

	for i := range all {
		entry := &all[i]
		if entry.IsDeleted() {
			continue
		}

		if IsTransitionAllowed(outcome.finalStatus, entry.ToStatus) {
			if entry.ToStatus == models.StatusLeft && outcome.finalStatus != models.StatusLeft {
				outcome.terminal = true
				outcome.terminalDate = entry.EffectiveDate
			} else if entry.ToStatus != models.StatusLeft {
				outcome.terminal = false
				outcome.terminalDate = models.Date{}
			}
			outcome.finalStatus = entry.ToStatus
			lastValidID = entry.TransitionID
			continue
		}

		// The entry no longer fits the valid path. Attribute the cascade to
		// the mutation that triggered this recalculation so a user edit that
		// strands an old entry is traceable to the edit.
		causeID := triggeringTransitionID
		if causeID == "" {
			causeID = lastValidID
		}
		if causeID == "" {
			causeID = entry.TransitionID
		}

		now := time.Now().UTC()
		entry.DeletedAt = &now
		entry.DeletedBy = &actorID
		entry.DeletedByTransitionID = &causeID
		if !dryRun {
			if err := tx.Model(&models.StatusTransition{}).
				Where("transition_id = ?", entry.TransitionID).
				Updates(map[string]interface{}{
					"deleted_at":               now,
					"deleted_by":               actorID,
					"deleted_by_transition_id": causeID,
				}).Error; err != nil {
				return outcome, fmt.Errorf("failed to cascade-delete transition %s: %w", entry.TransitionID, err)
			}
		}
		result.RemovedTransitions = append(result.RemovedTransitions, models.RemovedTransition{
			TransitionID:         entry.TransitionID,
			ToStatus:             entry.ToStatus,
			EffectiveDate:        entry.EffectiveDate,
			Reason:               fmt.Sprintf("transition to %s is unreachable from %s", entry.ToStatus, outcome.finalStatus),
			CausedByTransitionID: causeID,
		})
		result.HasChanges = true
	}

	return outcome, nil
}

// maintainPeriods rewrites membership-period leave dates so periods stay
// contiguous and consistent with the replay outcome. It runs even for an
// empty chain, because existing periods must still be normalized.
func (s *ChainService) maintainPeriods(tx *gorm.DB, memberID, clubID string, outcome replayOutcome, result *models.ChainResult, dryRun bool) error {
	var periods []models.MembershipPeriod
	if err := tx.Where("member_id = ? AND club_id = ?", memberID, clubID).
		Order("join_date ASC, created_at ASC").
		Find(&periods).Error; err != nil {
		return fmt.Errorf("failed to load membership periods for member %s: %w", memberID, err)
	}

	for i := range periods {
		period := &periods[i]

		var want *models.Date
		switch {
		case outcome.terminal && !period.JoinDate.Before(outcome.terminalDate):
			// Opened on or after the day the member already left: collapse to
			// a zero-length, immediately-closed period.
			join := period.JoinDate
			want = &join
		case i+1 < len(periods):
			next := periods[i+1].JoinDate
			want = &next
		case outcome.terminal:
			terminal := outcome.terminalDate
			want = &terminal
		default:
			want = nil
		}

		if datesEqual(period.LeaveDate, want) {
			continue
		}

		change := models.PeriodChange{
			PeriodID:          period.PeriodID,
			JoinDate:          period.JoinDate,
			PreviousLeaveDate: period.LeaveDate,
			LeaveDate:         want,
		}
		if !dryRun {
			var value interface{}
			if want != nil {
				value = *want
			}
			if err := tx.Model(&models.MembershipPeriod{}).
				Where("period_id = ?", period.PeriodID).
				Update("leave_date", value).Error; err != nil {
				return fmt.Errorf("failed to update membership period %s: %w", period.PeriodID, err)
			}
		}
		period.LeaveDate = want

		if want == nil {
			result.ReopenedPeriods = append(result.ReopenedPeriods, change)
		} else {
			result.ClosedPeriods = append(result.ClosedPeriods, change)
		}
		result.HasChanges = true
	}
	return nil
}

// syncMemberProjection writes the derived status onto the member row. The
// version check guards against a concurrent chain edit racing on the same
// member; losing the race rolls the whole mutation back.
func (s *ChainService) syncMemberProjection(tx *gorm.DB, member *models.Member, actorID string, outcome replayOutcome, result *models.ChainResult) error {
	updates := map[string]interface{}{}

	if member.Status != outcome.finalStatus {
		now := time.Now().UTC()
		updates["status"] = outcome.finalStatus
		updates["status_changed_at"] = now
		updates["status_changed_by"] = actorID
		result.HasChanges = true
	}

	if outcome.terminal && member.CancellationDate == nil {
		// The member gave notice implicitly via the LEFT transition.
		updates["cancellation_date"] = outcome.terminalDate
	}
	if !outcome.terminal && member.CancellationDate != nil && member.CancellationReceivedAt == nil {
		// Auto-derived cancellation no longer applies; a formally recorded
		// notice survives status changes.
		updates["cancellation_date"] = nil
		updates["cancellation_reason"] = nil
	}

	if len(updates) == 0 && !result.HasChanges {
		return nil
	}
	if len(updates) == 0 {
		// Chain bookkeeping changed without moving the derived status; still
		// bump the version so stale CRUD writes are detectable.
		updates["status"] = outcome.finalStatus
	}
	updates["version"] = member.Version + 1
	updates["updated_at"] = time.Now().UTC()

	res := tx.Model(&models.Member{}).
		Where("member_id = ? AND version = ?", member.MemberID, member.Version).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to sync member projection %s: %w", member.MemberID, res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewConflictError("member %s was modified concurrently (version %d is stale)", member.MemberID, member.Version)
	}
	return nil
}

func datesEqual(a, b *models.Date) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
