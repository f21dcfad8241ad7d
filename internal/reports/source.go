// Package reports implements the per-entity report generators the
// consolidation service consumes, reading aggregated general-ledger
// balances from Postgres.
package reports

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline/ledgerline/internal/consolidation"
)

// Source generates single-entity reports from the account_balances table.
type Source struct {
	pool *pgxpool.Pool
}

// NewSource constructs a Postgres-backed report source.
func NewSource(pool *pgxpool.Pool) *Source {
	return &Source{pool: pool}
}

var _ consolidation.ReportSource = (*Source)(nil)

type balanceRow struct {
	accountID   int64
	accountCode string
	accountName string
	accountType string
	category    string
	debit       float64
	credit      float64
}

func (s *Source) queryBalances(ctx context.Context, query string, args ...any) ([]balanceRow, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]balanceRow, 0)
	for rows.Next() {
		var row balanceRow
		var category pgtype.Text
		if err := rows.Scan(&row.accountID, &row.accountCode, &row.accountName,
			&row.accountType, &category, &row.debit, &row.credit); err != nil {
			return nil, err
		}
		if category.Valid {
			row.category = category.String
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

const balanceColumns = `
SELECT account_id, account_code, account_name, account_type,
       MIN(cash_flow_category), COALESCE(SUM(debit), 0), COALESCE(SUM(credit), 0)
FROM account_balances`

// BalanceSheet aggregates asset, liability and equity balances as of a date.
func (s *Source) BalanceSheet(ctx context.Context, entityID int64, asOf time.Time) (*consolidation.BalanceSheet, error) {
	rows, err := s.queryBalances(ctx, balanceColumns+`
WHERE entity_id = $1 AND as_of <= $2
  AND account_type IN ('asset', 'liability', 'equity')
GROUP BY account_id, account_code, account_name, account_type
ORDER BY account_code`, entityID, dateOf(asOf))
	if err != nil {
		return nil, err
	}

	report := &consolidation.BalanceSheet{
		Assets:      make([]consolidation.ReportLine, 0),
		Liabilities: make([]consolidation.ReportLine, 0),
		Equity:      make([]consolidation.ReportLine, 0),
	}
	for _, row := range rows {
		switch row.accountType {
		case "asset":
			line := reportLine(row, row.debit-row.credit)
			report.Assets = append(report.Assets, line)
			report.TotalAssets += line.Balance
		case "liability":
			line := reportLine(row, row.credit-row.debit)
			report.Liabilities = append(report.Liabilities, line)
			report.TotalLiabilities += line.Balance
		case "equity":
			line := reportLine(row, row.credit-row.debit)
			report.Equity = append(report.Equity, line)
			report.TotalEquity += line.Balance
		}
	}
	report.LiabilitiesAndEquity = report.TotalLiabilities + report.TotalEquity
	return report, nil
}

// IncomeStatement aggregates revenue and expense activity over a range.
func (s *Source) IncomeStatement(ctx context.Context, entityID int64, start, end time.Time) (*consolidation.IncomeStatement, error) {
	rows, err := s.queryBalances(ctx, balanceColumns+`
WHERE entity_id = $1 AND as_of BETWEEN $2 AND $3
  AND account_type IN ('revenue', 'expense')
GROUP BY account_id, account_code, account_name, account_type
ORDER BY account_code`, entityID, dateOf(start), dateOf(end))
	if err != nil {
		return nil, err
	}

	report := &consolidation.IncomeStatement{
		Revenue:  make([]consolidation.ReportLine, 0),
		Expenses: make([]consolidation.ReportLine, 0),
	}
	for _, row := range rows {
		switch row.accountType {
		case "revenue":
			line := reportLine(row, row.credit-row.debit)
			report.Revenue = append(report.Revenue, line)
			report.TotalRevenue += line.Balance
		case "expense":
			line := reportLine(row, row.debit-row.credit)
			report.Expenses = append(report.Expenses, line)
			report.TotalExpenses += line.Balance
		}
	}
	report.NetIncome = report.TotalRevenue - report.TotalExpenses
	return report, nil
}

// CashFlow groups flagged cash movements by activity category over a range.
func (s *Source) CashFlow(ctx context.Context, entityID int64, start, end time.Time) (*consolidation.CashFlow, error) {
	rows, err := s.pool.Query(ctx, `
SELECT account_id, account_code, account_name, cash_flow_category,
       COALESCE(SUM(debit), 0) - COALESCE(SUM(credit), 0)
FROM account_balances
WHERE entity_id = $1 AND as_of BETWEEN $2 AND $3
  AND cash_flow_category IS NOT NULL
GROUP BY account_id, account_code, account_name, cash_flow_category
ORDER BY cash_flow_category, account_code`, entityID, dateOf(start), dateOf(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	report := &consolidation.CashFlow{Categories: make([]consolidation.CashFlowCategory, 0)}
	index := make(map[string]int)
	for rows.Next() {
		var line consolidation.ReportLine
		var category string
		if err := rows.Scan(&line.AccountID, &line.AccountCode, &line.AccountName,
			&category, &line.Balance); err != nil {
			return nil, err
		}
		ci, ok := index[category]
		if !ok {
			ci = len(report.Categories)
			index[category] = ci
			report.Categories = append(report.Categories, consolidation.CashFlowCategory{Category: category})
		}
		report.Categories[ci].Items = append(report.Categories[ci].Items, line)
		report.Categories[ci].Total += line.Balance
	}
	return report, rows.Err()
}

// TrialBalance aggregates every account's debit/credit activity over a range.
func (s *Source) TrialBalance(ctx context.Context, entityID int64, start, end time.Time) (*consolidation.TrialBalance, error) {
	rows, err := s.queryBalances(ctx, balanceColumns+`
WHERE entity_id = $1 AND as_of BETWEEN $2 AND $3
GROUP BY account_id, account_code, account_name, account_type
ORDER BY account_code`, entityID, dateOf(start), dateOf(end))
	if err != nil {
		return nil, err
	}

	report := &consolidation.TrialBalance{Items: make([]consolidation.TrialBalanceLine, 0)}
	for _, row := range rows {
		item := consolidation.TrialBalanceLine{
			AccountID:   row.accountID,
			AccountCode: row.accountCode,
			AccountName: row.accountName,
			Debit:       row.debit,
			Credit:      row.credit,
			Balance:     row.debit - row.credit,
		}
		report.Items = append(report.Items, item)
		report.TotalDebits += item.Debit
		report.TotalCredits += item.Credit
	}
	return report, nil
}

func reportLine(row balanceRow, balance float64) consolidation.ReportLine {
	return consolidation.ReportLine{
		AccountID:   row.accountID,
		AccountCode: row.accountCode,
		AccountName: row.accountName,
		Balance:     balance,
	}
}

func dateOf(t time.Time) pgtype.Date {
	return pgtype.Date{Time: t, Valid: true}
}
