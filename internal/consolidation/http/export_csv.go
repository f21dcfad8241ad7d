package http

import (
	"bytes"
	"encoding/csv"
	"net/http"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ledgerline/ledgerline/internal/consolidation"
)

var amountPrinter = message.NewPrinter(language.English)

func amount(v float64) string {
	return amountPrinter.Sprintf("%.2f", v)
}

func (h *Handler) handleReportCSV(w http.ResponseWriter, r *http.Request) {
	report, err := h.loadReport(r)
	if err != nil {
		h.respondError(w, err)
		return
	}

	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	writeReportCSV(writer, report)
	writer.Flush()
	if err := writer.Error(); err != nil {
		h.respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=consolidated_"+string(report.ReportType)+".csv")
	_, _ = w.Write(buf.Bytes())
}

func writeReportCSV(writer *csv.Writer, report *consolidation.ConsolidatedReport) {
	switch {
	case report.BalanceSheet != nil:
		_ = writer.Write([]string{"Section", "Account Code", "Account Name", "Balance"})
		writeSection(writer, "Assets", report.BalanceSheet.Assets)
		writeSection(writer, "Liabilities", report.BalanceSheet.Liabilities)
		writeSection(writer, "Equity", report.BalanceSheet.Equity)
		_ = writer.Write([]string{"Total", "", "Assets", amount(report.BalanceSheet.TotalAssets)})
		_ = writer.Write([]string{"Total", "", "Liabilities & Equity", amount(report.BalanceSheet.LiabilitiesAndEquity)})
	case report.IncomeStatement != nil:
		_ = writer.Write([]string{"Section", "Account Code", "Account Name", "Balance"})
		writeSection(writer, "Revenue", report.IncomeStatement.Revenue)
		writeSection(writer, "Expenses", report.IncomeStatement.Expenses)
		_ = writer.Write([]string{"Total", "", "Net Income", amount(report.IncomeStatement.NetIncome)})
	case report.CashFlow != nil:
		_ = writer.Write([]string{"Category", "Account Name", "Balance"})
		for _, category := range report.CashFlow.Categories {
			for _, item := range category.Items {
				_ = writer.Write([]string{category.Category, item.AccountName, amount(item.Balance)})
			}
			_ = writer.Write([]string{category.Category, "Total", amount(category.Total)})
		}
	case report.TrialBalance != nil:
		_ = writer.Write([]string{"Account Code", "Account Name", "Debit", "Credit", "Balance"})
		for _, item := range report.TrialBalance.Items {
			_ = writer.Write([]string{item.AccountCode, item.AccountName,
				amount(item.Debit), amount(item.Credit), amount(item.Balance)})
		}
		_ = writer.Write([]string{"", "Totals", amount(report.TrialBalance.TotalDebits),
			amount(report.TrialBalance.TotalCredits), ""})
	}
}

func writeSection(writer *csv.Writer, section string, lines []consolidation.ReportLine) {
	for _, line := range lines {
		_ = writer.Write([]string{section, line.AccountCode, line.AccountName, amount(line.Balance)})
	}
}
