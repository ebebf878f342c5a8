package services

import (
	"context"
	"fmt"

	"github.com/clubware/membership-backend/v1/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MemberService handles the thin member CRUD surface around the lifecycle
// chain. Status fields on the member are owned by the chain recalculation and
// are never written here.
type MemberService struct {
	db *gorm.DB
}

// NewMemberService creates a new member service
func NewMemberService(db *gorm.DB) *MemberService {
	return &MemberService{db: db}
}

// CreateMember creates a member in the PENDING virtual state
func (s *MemberService) CreateMember(ctx context.Context, clubID string, req *models.CreateMemberRequest) (*models.Member, error) {
	if req.Name == "" {
		return nil, models.NewValidationError("name", "name is required")
	}
	if req.Email == "" {
		return nil, models.NewValidationError("email", "email is required")
	}

	member := &models.Member{
		MemberID: "mem_" + uuid.New().String(),
		ClubID:   clubID,
		Name:     req.Name,
		Email:    req.Email,
		Status:   models.StatusPending,
	}
	if err := s.db.WithContext(ctx).Create(member).Error; err != nil {
		return nil, fmt.Errorf("failed to create member: %w", err)
	}
	return member, nil
}

// GetMember retrieves a member by ID within the club scope
func (s *MemberService) GetMember(ctx context.Context, clubID, memberID string) (*models.Member, error) {
	return loadMember(s.db.WithContext(ctx), clubID, memberID)
}

// GetAllMembers retrieves the club's members, optionally filtered by status
func (s *MemberService) GetAllMembers(ctx context.Context, clubID string, status *models.MemberStatus) ([]models.Member, error) {
	query := s.db.WithContext(ctx).Where("club_id = ?", clubID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	query = query.Order("created_at DESC")

	var members []models.Member
	if err := query.Find(&members).Error; err != nil {
		return nil, fmt.Errorf("failed to load members: %w", err)
	}
	return members, nil
}
