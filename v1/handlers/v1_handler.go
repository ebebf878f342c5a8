package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/clubware/membership-backend/shared/utils"
	"github.com/clubware/membership-backend/v1/middleware"
	"github.com/clubware/membership-backend/v1/models"
	"github.com/clubware/membership-backend/v1/services"
	"gorm.io/gorm"
)

// V1Handler handles all V1 API routes
type V1Handler struct {
	memberService *services.MemberService
	statusService *services.StatusService
}

// NewV1Handler creates a new V1 handler
func NewV1Handler(db *gorm.DB) *V1Handler {
	return &V1Handler{
		memberService: services.NewMemberService(db),
		statusService: services.NewStatusService(db),
	}
}

// SetupV1Routes configures all V1 API routes
func (h *V1Handler) SetupV1Routes(mux *http.ServeMux) {
	mux.Handle("/api/v1/members", utils.PanicRecoveryMiddleware(http.HandlerFunc(h.handleMembers)))
	mux.Handle("/api/v1/members/", utils.PanicRecoveryMiddleware(http.HandlerFunc(h.handleMembers)))
	mux.Handle("/api/v1/status-history/", utils.PanicRecoveryMiddleware(http.HandlerFunc(h.handleStatusHistory)))
}

// statusCodeForError maps the service error taxonomy onto HTTP status codes
func statusCodeForError(err error) int {
	var notFound *models.NotFoundError
	var invalidTransition *models.InvalidTransitionError
	var conflict *models.ConflictError
	var validation *models.ValidationError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &invalidTransition), errors.As(err, &validation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondServiceError(w http.ResponseWriter, err error) {
	code := statusCodeForError(err)
	if code == http.StatusInternalServerError {
		slog.Error("Unhandled service error", "error", err)
		utils.RespondWithError(w, code, "Internal server error")
		return
	}
	utils.RespondWithError(w, code, err.Error())
}

// handleMembers routes /api/v1/members and everything below it
func (h *V1Handler) handleMembers(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/members")
	path = strings.Trim(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.getAllMembers(w, r)
		case http.MethodPost:
			h.createMember(w, r)
		default:
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	if path == "bulk-status" {
		if r.Method != http.MethodPost {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.bulkChangeStatus(w, r)
		return
	}

	parts := strings.Split(path, "/")
	memberID := parts[0]
	if memberID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Member ID is required")
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.getMember(w, r, memberID)
		return
	}

	switch strings.Join(parts[1:], "/") {
	case "status":
		if r.Method != http.MethodPost {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.changeStatus(w, r, memberID)
	case "status/preview":
		if r.Method != http.MethodPost {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.previewChangeStatus(w, r, memberID)
	case "status-history":
		if r.Method != http.MethodGet {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.getStatusHistory(w, r, memberID)
	case "periods":
		if r.Method != http.MethodGet {
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		h.getMembershipPeriods(w, r, memberID)
	case "cancellation":
		switch r.Method {
		case http.MethodPost:
			h.setCancellation(w, r, memberID)
		case http.MethodDelete:
			h.revokeCancellation(w, r, memberID)
		default:
			utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	default:
		utils.RespondWithError(w, http.StatusNotFound, "Endpoint not found")
	}
}

// handleStatusHistory routes /api/v1/status-history/{id}
func (h *V1Handler) handleStatusHistory(w http.ResponseWriter, r *http.Request) {
	transitionID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/status-history"), "/")
	if transitionID == "" || strings.Contains(transitionID, "/") {
		utils.RespondWithError(w, http.StatusBadRequest, "Transition ID is required")
		return
	}

	switch r.Method {
	case http.MethodPut:
		h.updateStatusHistoryEntry(w, r, transitionID)
	case http.MethodDelete:
		h.deleteStatusHistoryEntry(w, r, transitionID)
	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (h *V1Handler) createMember(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.GetActorFromRequest(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req models.CreateMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	member, err := h.memberService.CreateMember(r.Context(), actor.ClubID, &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondWithSuccess(w, http.StatusCreated, member)
}

func (h *V1Handler) getMember(w http.ResponseWriter, r *http.Request, memberID string) {
	actor, err := middleware.GetActorFromRequest(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	member, err := h.memberService.GetMember(r.Context(), actor.ClubID, memberID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, member)
}

func (h *V1Handler) getAllMembers(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.GetActorFromRequest(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var statusFilter *models.MemberStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := models.ParseMemberStatus(raw)
		if !ok {
			utils.RespondWithError(w, http.StatusBadRequest, "Unknown status filter")
			return
		}
		statusFilter = &status
	}

	members, err := h.memberService.GetAllMembers(r.Context(), actor.ClubID, statusFilter)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, models.CollectionResponse{Items: members, Count: len(members)})
}

func (h *V1Handler) changeStatus(w http.ResponseWriter, r *http.Request, memberID string) {
	actor, err := middleware.GetActorFromRequest(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req models.ChangeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.statusService.ChangeStatus(r.Context(), actor.ClubID, memberID, actor.ActorID, &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	slog.Info("Member status changed", "memberId", memberID, "newStatus", req.NewStatus, "actorId", actor.ActorID)
	utils.RespondWithSuccess(w, http.StatusOK, result)
}

func (h *V1Handler) previewChangeStatus(w http.ResponseWriter, r *http.Request, memberID string) {
	actor, err := middleware.GetActorFromRequest(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req models.ChangeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.statusService.PreviewChangeStatus(r.Context(), actor.ClubID, memberID, actor.ActorID, &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, result)
}

func (h *V1Handler) getStatusHistory(w http.ResponseWriter, r *http.Request, memberID string) {
	actor, err := middleware.GetActorFromRequest(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	includeDeleted := r.URL.Query().Get("includeDeleted") == "true"
	history, err := h.statusService.GetStatusHistory(r.Context(), actor.ClubID, memberID, includeDeleted)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, models.CollectionResponse{Items: history, Count: len(history)})
}

func (h *V1Handler) getMembershipPeriods(w http.ResponseWriter, r *http.Request, memberID string) {
	actor, err := middleware.GetActorFromRequest(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	periods, err := h.statusService.GetMembershipPeriods(r.Context(), actor.ClubID, memberID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondWithSuccess(w, http.StatusOK, models.CollectionResponse{Items: periods, Count: len(periods)})
}

func (h *V1Handler) setCancellation(w http.ResponseWriter, r *http.Request, memberID string) {
	actor, err := middleware.GetActorFromRequest(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req models.SetCancellationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.statusService.SetCancellation(r.Context(), actor.ClubID, memberID, actor.ActorID, &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	slog.Info("Cancellation recorded", "memberId", memberID, "cancellationDate", req.CancellationDate, "actorId", actor.ActorID)
	utils.RespondWithSuccess(w, http.StatusOK, result)
}

func (h *V1Handler) revokeCancellation(w http.ResponseWriter, r *http.Request, memberID string) {
	actor, err := middleware.GetActorFromRequest(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req models.RevokeCancellationRequest
	if r.Body != nil {
		// Body is optional on revoke; a missing reason is allowed.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	result, err := h.statusService.RevokeCancellation(r.Context(), actor.ClubID, memberID, actor.ActorID, &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	slog.Info("Cancellation revoked", "memberId", memberID, "actorId", actor.ActorID)
	utils.RespondWithSuccess(w, http.StatusOK, result)
}

func (h *V1Handler) bulkChangeStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.GetActorFromRequest(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req models.BulkChangeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	response, err := h.statusService.BulkChangeStatus(r.Context(), actor.ClubID, actor.ActorID, &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	slog.Info("Bulk status change finished",
		"updated", len(response.Updated), "skipped", len(response.Skipped), "actorId", actor.ActorID)
	utils.RespondWithSuccess(w, http.StatusOK, response)
}

func (h *V1Handler) updateStatusHistoryEntry(w http.ResponseWriter, r *http.Request, transitionID string) {
	actor, err := middleware.GetActorFromRequest(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req models.UpdateStatusHistoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.statusService.UpdateStatusHistoryEntry(r.Context(), actor.ClubID, transitionID, actor.ActorID, &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	slog.Info("Status history entry updated", "transitionId", transitionID, "actorId", actor.ActorID)
	utils.RespondWithSuccess(w, http.StatusOK, result)
}

func (h *V1Handler) deleteStatusHistoryEntry(w http.ResponseWriter, r *http.Request, transitionID string) {
	actor, err := middleware.GetActorFromRequest(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	result, err := h.statusService.DeleteStatusHistoryEntry(r.Context(), actor.ClubID, transitionID, actor.ActorID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	slog.Info("Status history entry deleted", "transitionId", transitionID, "actorId", actor.ActorID)
	utils.RespondWithSuccess(w, http.StatusOK, result)
}
