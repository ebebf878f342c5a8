package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// MemberStatus represents the member lifecycle status enum
type MemberStatus string

const (
	StatusPending   MemberStatus = "PENDING"
	StatusProbation MemberStatus = "PROBATION"
	StatusActive    MemberStatus = "ACTIVE"
	StatusDormant   MemberStatus = "DORMANT"
	StatusSuspended MemberStatus = "SUSPENDED"
	StatusLeft      MemberStatus = "LEFT"
)

// AllMemberStatuses lists every valid status value
var AllMemberStatuses = []MemberStatus{
	StatusPending,
	StatusProbation,
	StatusActive,
	StatusDormant,
	StatusSuspended,
	StatusLeft,
}

// ParseMemberStatus canonicalizes a status label
func ParseMemberStatus(value string) (MemberStatus, bool) {
	s := MemberStatus(strings.ToUpper(strings.TrimSpace(value)))
	for _, known := range AllMemberStatuses {
		if s == known {
			return known, true
		}
	}
	return "", false
}

// IsValid reports whether the status is one of the known enum values
func (s MemberStatus) IsValid() bool {
	_, ok := ParseMemberStatus(string(s))
	return ok
}

// Scan implements the sql.Scanner interface for MemberStatus
func (s *MemberStatus) Scan(value interface{}) error {
	if value == nil {
		*s = StatusPending
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = MemberStatus(v)
		return nil
	case []byte:
		*s = MemberStatus(v)
		return nil
	}
	return fmt.Errorf("cannot scan %T into MemberStatus", value)
}

// Value implements the driver.Valuer interface for MemberStatus
func (s MemberStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// LeftCategory classifies why a member left; required on every LEFT transition
type LeftCategory string

const (
	LeftCategoryVoluntary LeftCategory = "VOLUNTARY"
	LeftCategoryExpelled  LeftCategory = "EXPELLED"
	LeftCategoryDeceased  LeftCategory = "DECEASED"
	LeftCategoryOther     LeftCategory = "OTHER"
)

// IsValid reports whether the category is one of the known enum values
func (c LeftCategory) IsValid() bool {
	switch c {
	case LeftCategoryVoluntary, LeftCategoryExpelled, LeftCategoryDeceased, LeftCategoryOther:
		return true
	}
	return false
}

// Scan implements the sql.Scanner interface for LeftCategory
func (c *LeftCategory) Scan(value interface{}) error {
	if value == nil {
		*c = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*c = LeftCategory(v)
		return nil
	case []byte:
		*c = LeftCategory(v)
		return nil
	}
	return fmt.Errorf("cannot scan %T into LeftCategory", value)
}

// Value implements the driver.Valuer interface for LeftCategory
func (c LeftCategory) Value() (driver.Value, error) {
	return string(c), nil
}
