package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/clubware/membership-backend/shared/monitoring"
	"github.com/clubware/membership-backend/v1/models"
	"gorm.io/gorm"
)

// WorkerActorID is the audit actor recorded for transitions the cancellation
// worker creates.
const WorkerActorID = "system:cancellation-worker"

// CancellationWorker terminates memberships whose future-dated cancellation
// has arrived. It sweeps once per poll interval and fires an ordinary LEFT
// status change per due member, so the chain and periods stay consistent
// through the same path a user-initiated termination takes.
type CancellationWorker struct {
	db            *gorm.DB
	statusService *StatusService
	pollInterval  time.Duration
	batchSize     int
}

// NewCancellationWorker creates a new cancellation worker
func NewCancellationWorker(db *gorm.DB, statusService *StatusService) *CancellationWorker {
	return &CancellationWorker{
		db:            db,
		statusService: statusService,
		pollInterval:  time.Hour,
		batchSize:     100,
	}
}

// Start runs the worker until the context is cancelled
func (w *CancellationWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	slog.Info("Cancellation worker started", "pollInterval", w.pollInterval, "batchSize", w.batchSize)

	// First sweep immediately so a restart does not delay due terminations
	// by a full interval.
	w.ProcessDueCancellations(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Cancellation worker stopped")
			return
		case <-ticker.C:
			w.ProcessDueCancellations(ctx)
		}
	}
}

// ProcessDueCancellations terminates every member whose cancellation date is
// today or earlier and who has not left yet. Failures on one member do not
// block the rest of the batch.
func (w *CancellationWorker) ProcessDueCancellations(ctx context.Context) {
	today := models.DateOf(w.statusService.now())

	var due []models.Member
	if err := w.db.WithContext(ctx).
		Where("cancellation_date IS NOT NULL AND cancellation_date <= ? AND status <> ?", today, models.StatusLeft).
		Order("cancellation_date ASC").
		Limit(w.batchSize).
		Find(&due).Error; err != nil {
		slog.Error("Failed to load due cancellations", "error", err)
		monitoring.RecordWorkerRun("error")
		return
	}
	if len(due) == 0 {
		monitoring.RecordWorkerRun("idle")
		return
	}

	processed := 0
	for i := range due {
		member := &due[i]
		category := models.LeftCategoryVoluntary
		reason := "membership cancelled"
		if member.CancellationReason != nil && *member.CancellationReason != "" {
			reason = *member.CancellationReason
		}

		_, err := w.statusService.ChangeStatus(ctx, member.ClubID, member.MemberID, WorkerActorID, &models.ChangeStatusRequest{
			NewStatus:     models.StatusLeft,
			Reason:        reason,
			EffectiveDate: member.CancellationDate,
			LeftCategory:  &category,
		})
		if err != nil {
			slog.Error("Failed to process due cancellation",
				"memberId", member.MemberID, "cancellationDate", member.CancellationDate, "error", err)
			continue
		}
		processed++
		slog.Info("Processed due cancellation", "memberId", member.MemberID, "cancellationDate", member.CancellationDate)
	}

	monitoring.RecordWorkerRun("processed")
	slog.Info("Cancellation sweep finished", "due", len(due), "processed", processed)
}
