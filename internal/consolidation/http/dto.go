package http

import (
	"fmt"
	"time"

	"github.com/ledgerline/ledgerline/internal/consolidation"
)

const dateLayout = "2006-01-02"

type createGroupRequest struct {
	Name            string  `json:"name" validate:"required,max=120"`
	Description     string  `json:"description" validate:"max=500"`
	OwnerID         int64   `json:"owner_id" validate:"required,gt=0"`
	PrimaryEntityID int64   `json:"primary_entity_id" validate:"omitempty,gt=0"`
	EntityIDs       []int64 `json:"entity_ids" validate:"dive,gt=0"`
	StartDate       *string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate         *string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	PeriodType      string  `json:"period_type" validate:"omitempty,oneof=monthly quarterly yearly"`
	Currency        string  `json:"currency" validate:"omitempty,len=3"`
	IsActive        *bool   `json:"is_active"`
}

func (r createGroupRequest) toSpec() (consolidation.GroupSpec, error) {
	start, err := parseDatePtr(r.StartDate)
	if err != nil {
		return consolidation.GroupSpec{}, err
	}
	end, err := parseDatePtr(r.EndDate)
	if err != nil {
		return consolidation.GroupSpec{}, err
	}
	return consolidation.GroupSpec{
		Name:            r.Name,
		Description:     r.Description,
		OwnerID:         r.OwnerID,
		PrimaryEntityID: r.PrimaryEntityID,
		EntityIDs:       r.EntityIDs,
		StartDate:       start,
		EndDate:         end,
		PeriodType:      r.PeriodType,
		Currency:        r.Currency,
		IsActive:        r.IsActive,
	}, nil
}

type updateGroupRequest struct {
	Name            *string  `json:"name" validate:"omitempty,max=120"`
	Description     *string  `json:"description" validate:"omitempty,max=500"`
	PrimaryEntityID *int64   `json:"primary_entity_id" validate:"omitempty,gt=0"`
	EntityIDs       *[]int64 `json:"entity_ids" validate:"omitempty,dive,gt=0"`
	StartDate       *string  `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate         *string  `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	PeriodType      *string  `json:"period_type" validate:"omitempty,oneof=monthly quarterly yearly"`
	Currency        *string  `json:"currency" validate:"omitempty,len=3"`
	IsActive        *bool    `json:"is_active"`
}

func (r updateGroupRequest) toUpdate() (consolidation.GroupUpdate, error) {
	start, err := parseDatePtr(r.StartDate)
	if err != nil {
		return consolidation.GroupUpdate{}, err
	}
	end, err := parseDatePtr(r.EndDate)
	if err != nil {
		return consolidation.GroupUpdate{}, err
	}
	return consolidation.GroupUpdate{
		Name:            r.Name,
		Description:     r.Description,
		PrimaryEntityID: r.PrimaryEntityID,
		EntityIDs:       r.EntityIDs,
		StartDate:       start,
		EndDate:         end,
		PeriodType:      r.PeriodType,
		Currency:        r.Currency,
		IsActive:        r.IsActive,
	}, nil
}

func parseDatePtr(value *string) (*time.Time, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, *value)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", *value)
	}
	return &t, nil
}
