package consolidation

import (
	"time"

	"github.com/google/uuid"
)

// ReportType identifies one of the four consolidated report kinds.
type ReportType string

const (
	ReportBalanceSheet    ReportType = "balance_sheet"
	ReportIncomeStatement ReportType = "income_statement"
	ReportCashFlow        ReportType = "cash_flow"
	ReportTrialBalance    ReportType = "trial_balance"
)

// ParseReportType validates a report type received from an external caller.
func ParseReportType(value string) (ReportType, error) {
	switch rt := ReportType(value); rt {
	case ReportBalanceSheet, ReportIncomeStatement, ReportCashFlow, ReportTrialBalance:
		return rt, nil
	default:
		return "", ErrUnsupportedReportType
	}
}

// Group is a named set of entities whose reports are aggregated together.
// EntityIDs preserves insertion order; the first member acts as the primary
// entity when PrimaryEntityID is unset.
type Group struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	OwnerID         int64      `json:"owner_id"`
	PrimaryEntityID int64      `json:"primary_entity_id,omitempty"`
	EntityIDs       []int64    `json:"entity_ids"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	PeriodType      string     `json:"period_type"`
	Currency        string     `json:"currency"`
	IsActive        bool       `json:"is_active"`
	LastRun         *time.Time `json:"last_run,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// PrimaryEntity resolves the entity used for fiscal-year defaults.
func (g *Group) PrimaryEntity() (int64, bool) {
	if g == nil {
		return 0, false
	}
	if g.PrimaryEntityID > 0 {
		return g.PrimaryEntityID, true
	}
	if len(g.EntityIDs) > 0 {
		return g.EntityIDs[0], true
	}
	return 0, false
}

// GroupSpec carries the fields accepted when creating a group. Zero values
// for Currency, PeriodType and IsActive receive defaults on create.
type GroupSpec struct {
	Name            string
	Description     string
	OwnerID         int64
	PrimaryEntityID int64
	EntityIDs       []int64
	StartDate       *time.Time
	EndDate         *time.Time
	PeriodType      string
	Currency        string
	IsActive        *bool
}

// GroupUpdate is a partial update; nil fields keep their current value.
// A non-nil EntityIDs replaces the whole membership set.
type GroupUpdate struct {
	Name            *string
	Description     *string
	PrimaryEntityID *int64
	EntityIDs       *[]int64
	StartDate       *time.Time
	EndDate         *time.Time
	PeriodType      *string
	Currency        *string
	IsActive        *bool
}

// Entity is the slice of the entity record this package consumes.
// FiscalYearStart uses the MM-DD form, defaulting to 01-01.
type Entity struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	FiscalYearStart string `json:"fiscal_year_start"`
	Currency        string `json:"currency"`
}

// ReportLine is a single account line inside a report section.
type ReportLine struct {
	AccountID   int64   `json:"account_id"`
	AccountCode string  `json:"account_code"`
	AccountName string  `json:"account_name"`
	Balance     float64 `json:"balance"`
}

// TrialBalanceLine carries the debit/credit pair for one account.
type TrialBalanceLine struct {
	AccountID   int64   `json:"account_id"`
	AccountCode string  `json:"account_code"`
	AccountName string  `json:"account_name"`
	Debit       float64 `json:"debit"`
	Credit      float64 `json:"credit"`
	Balance     float64 `json:"balance"`
}

// BalanceSheet holds asset, liability and equity lines with derived totals.
// LiabilitiesAndEquity is derived from the liability and equity totals and
// is not cross-checked against TotalAssets; an imbalance is representable.
type BalanceSheet struct {
	Assets               []ReportLine `json:"assets"`
	Liabilities          []ReportLine `json:"liabilities"`
	Equity               []ReportLine `json:"equity"`
	TotalAssets          float64      `json:"total_assets"`
	TotalLiabilities     float64      `json:"total_liabilities"`
	TotalEquity          float64      `json:"total_equity"`
	LiabilitiesAndEquity float64      `json:"liabilities_and_equity"`
}

// IncomeStatement holds revenue and expense lines with derived totals.
type IncomeStatement struct {
	Revenue       []ReportLine `json:"revenue"`
	Expenses      []ReportLine `json:"expenses"`
	TotalRevenue  float64      `json:"total_revenue"`
	TotalExpenses float64      `json:"total_expenses"`
	NetIncome     float64      `json:"net_income"`
}

// CashFlowCategory groups cash-flow items under one activity category.
// Total accumulates the source category totals directly, so it can diverge
// from the sum of the item balances when source reports are inconsistent.
type CashFlowCategory struct {
	Category string       `json:"category"`
	Items    []ReportLine `json:"items"`
	Total    float64      `json:"total"`
}

// CashFlow is an ordered list of cash-flow categories.
type CashFlow struct {
	Categories []CashFlowCategory `json:"categories"`
}

// TrialBalance lists per-account debit/credit lines with report totals.
// TotalDebits and TotalCredits are straight sums, not validated for balance.
type TrialBalance struct {
	Items        []TrialBalanceLine `json:"items"`
	TotalDebits  float64            `json:"total_debits"`
	TotalCredits float64            `json:"total_credits"`
}

// ConsolidatedReport is the merged output for a group. It is ephemeral:
// only the group's last_run timestamp persists evidence of generation.
// Exactly one payload field is set, matching ReportType.
type ConsolidatedReport struct {
	ID              uuid.UUID        `json:"id"`
	GroupID         int64            `json:"group_id"`
	GroupName       string           `json:"group_name"`
	ReportType      ReportType       `json:"report_type"`
	Entities        []int64          `json:"entities"`
	StartDate       time.Time        `json:"start_date"`
	EndDate         time.Time        `json:"end_date"`
	GeneratedAt     time.Time        `json:"generated_at"`
	BalanceSheet    *BalanceSheet    `json:"balance_sheet,omitempty"`
	IncomeStatement *IncomeStatement `json:"income_statement,omitempty"`
	CashFlow        *CashFlow        `json:"cash_flow,omitempty"`
	TrialBalance    *TrialBalance    `json:"trial_balance,omitempty"`
}
