package consolidation

// accountKey matches lines across entity reports. Accounts sharing a name
// but carrying different codes stay distinct; codeless accounts group by
// name alone. A composite key avoids the separator ambiguity a
// concatenated "code-name" string would have.
type accountKey struct {
	code string
	name string
}

func keyFor(code, name string) accountKey {
	return accountKey{code: code, name: name}
}

// mergeReportLines folds line sets together in input order. A line seen
// for the first time is appended as-is, so output order is first-seen
// order and AccountID reflects the first contributing entity; later
// matches only add to the balance.
func mergeReportLines(sets ...[]ReportLine) []ReportLine {
	index := make(map[accountKey]int)
	merged := make([]ReportLine, 0)
	for _, set := range sets {
		for _, line := range set {
			key := keyFor(line.AccountCode, line.AccountName)
			if i, ok := index[key]; ok {
				merged[i].Balance += line.Balance
				continue
			}
			index[key] = len(merged)
			merged = append(merged, line)
		}
	}
	return merged
}

func sumBalances(lines []ReportLine) float64 {
	var total float64
	for _, line := range lines {
		total += line.Balance
	}
	return total
}

// ConsolidateBalanceSheets merges per-entity balance sheets. Totals are
// straight sums of the merged sections; liabilities+equity is derived and
// never reconciled against total assets.
func ConsolidateBalanceSheets(reports []*BalanceSheet) *BalanceSheet {
	assets := make([][]ReportLine, 0, len(reports))
	liabilities := make([][]ReportLine, 0, len(reports))
	equity := make([][]ReportLine, 0, len(reports))
	for _, report := range reports {
		if report == nil {
			continue
		}
		assets = append(assets, report.Assets)
		liabilities = append(liabilities, report.Liabilities)
		equity = append(equity, report.Equity)
	}
	merged := &BalanceSheet{
		Assets:      mergeReportLines(assets...),
		Liabilities: mergeReportLines(liabilities...),
		Equity:      mergeReportLines(equity...),
	}
	merged.TotalAssets = sumBalances(merged.Assets)
	merged.TotalLiabilities = sumBalances(merged.Liabilities)
	merged.TotalEquity = sumBalances(merged.Equity)
	merged.LiabilitiesAndEquity = merged.TotalLiabilities + merged.TotalEquity
	return merged
}

// ConsolidateIncomeStatements merges per-entity income statements.
func ConsolidateIncomeStatements(reports []*IncomeStatement) *IncomeStatement {
	revenue := make([][]ReportLine, 0, len(reports))
	expenses := make([][]ReportLine, 0, len(reports))
	for _, report := range reports {
		if report == nil {
			continue
		}
		revenue = append(revenue, report.Revenue)
		expenses = append(expenses, report.Expenses)
	}
	merged := &IncomeStatement{
		Revenue:  mergeReportLines(revenue...),
		Expenses: mergeReportLines(expenses...),
	}
	merged.TotalRevenue = sumBalances(merged.Revenue)
	merged.TotalExpenses = sumBalances(merged.Expenses)
	merged.NetIncome = merged.TotalRevenue - merged.TotalExpenses
	return merged
}

// ConsolidateCashFlows merges per-entity cash-flow statements. Categories
// keep first-seen order; within a category items match by account name
// only, and the category total accumulates the source totals directly
// rather than being re-derived from the merged items.
func ConsolidateCashFlows(reports []*CashFlow) *CashFlow {
	categoryIndex := make(map[string]int)
	itemIndex := make(map[string]map[string]int)
	merged := &CashFlow{Categories: make([]CashFlowCategory, 0)}
	for _, report := range reports {
		if report == nil {
			continue
		}
		for _, category := range report.Categories {
			ci, ok := categoryIndex[category.Category]
			if !ok {
				ci = len(merged.Categories)
				categoryIndex[category.Category] = ci
				itemIndex[category.Category] = make(map[string]int)
				merged.Categories = append(merged.Categories, CashFlowCategory{
					Category: category.Category,
					Items:    make([]ReportLine, 0, len(category.Items)),
				})
			}
			target := &merged.Categories[ci]
			names := itemIndex[category.Category]
			for _, item := range category.Items {
				if i, ok := names[item.AccountName]; ok {
					target.Items[i].Balance += item.Balance
					continue
				}
				names[item.AccountName] = len(target.Items)
				target.Items = append(target.Items, item)
			}
			target.Total += category.Total
		}
	}
	return merged
}

// ConsolidateTrialBalances merges per-entity trial balances, summing the
// debit/credit pair per account and recomputing each line's balance as
// debit minus credit. Report totals are sums, not validated for balance.
func ConsolidateTrialBalances(reports []*TrialBalance) *TrialBalance {
	index := make(map[accountKey]int)
	merged := &TrialBalance{Items: make([]TrialBalanceLine, 0)}
	for _, report := range reports {
		if report == nil {
			continue
		}
		for _, item := range report.Items {
			key := keyFor(item.AccountCode, item.AccountName)
			if i, ok := index[key]; ok {
				merged.Items[i].Debit += item.Debit
				merged.Items[i].Credit += item.Credit
				continue
			}
			index[key] = len(merged.Items)
			merged.Items = append(merged.Items, item)
		}
	}
	for i := range merged.Items {
		item := &merged.Items[i]
		item.Balance = item.Debit - item.Credit
		merged.TotalDebits += item.Debit
		merged.TotalCredits += item.Credit
	}
	return merged
}
