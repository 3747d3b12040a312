// Package report renders backtest and optimizer results as terminal tables.
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"kdtrader/internal/backtest"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	gainStyle   = cellStyle.Foreground(lipgloss.Color("10"))
	lossStyle   = cellStyle.Foreground(lipgloss.Color("9"))
	errStyle    = cellStyle.Foreground(lipgloss.Color("11"))
)

func money(v float64) string { return fmt.Sprintf("%.2f", v) }

// Backtest renders one run: a row per symbol plus the totals.
func Backtest(res *backtest.Result) string {
	rows := make([][]string, 0, len(res.Symbols)+1)
	for _, s := range res.Symbols {
		if s.Err != "" {
			rows = append(rows, []string{s.Symbol, "-", "-", "-", "-", "-", "error: " + s.Err})
			continue
		}
		rows = append(rows, []string{
			s.Symbol,
			money(s.RealizedPnL),
			money(s.UnrealizedPnL),
			fmt.Sprint(s.EndingQty),
			fmt.Sprint(s.EndingSlicesInUse),
			fmt.Sprint(s.Trades),
			fmt.Sprint(s.Observations),
		})
	}
	rows = append(rows, []string{
		"TOTAL",
		money(res.Summary.TotalRealizedPnL),
		money(res.Summary.TotalUnrealizedPnL),
		"", "", "", fmt.Sprintf("%d symbols", res.Summary.SymbolCount),
	})

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("SYMBOL", "REALIZED", "UNREALIZED", "QTY", "SLICES", "TRADES", "OBS").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			r := rows[row]
			switch {
			case strings.HasPrefix(r[len(r)-1], "error:"):
				return errStyle
			case col == 1 || col == 2:
				if strings.HasPrefix(r[col], "-") {
					return lossStyle
				}
				return gainStyle
			}
			return cellStyle
		})

	var b strings.Builder
	b.WriteString(titleStyle.Render("BACKTEST " + res.RunID))
	b.WriteString("\n")
	b.WriteString(t.Render())
	b.WriteString("\n")
	return b.String()
}

// Trials renders optimizer results best first.
func Trials(trials []backtest.Trial) string {
	rows := make([][]string, 0, len(trials))
	for i, tr := range trials {
		p := tr.Point
		result := money(tr.Summary.TotalRealizedPnL)
		if tr.Err != "" {
			result = "error: " + tr.Err
		}
		rows = append(rows, []string{
			fmt.Sprint(i + 1),
			fmt.Sprintf("%.2f", p.TakeProfitPct),
			fmt.Sprintf("%.0f/%.0f", p.Oversold, p.Overbought),
			fmt.Sprintf("%.0f", p.AddCooldownSec),
			fmt.Sprintf("%d/%d", p.PerEntryLow, p.PerEntryMid),
			result,
			money(tr.Summary.TotalUnrealizedPnL),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("#", "TP", "OS/OB", "COOLDOWN", "SLICES L/M", "REALIZED", "UNREALIZED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row == 0 {
				return gainStyle.Bold(true)
			}
			return cellStyle
		})

	return titleStyle.Render(fmt.Sprintf("TOP %d PARAMETER SETS", len(trials))) + "\n" + t.Render() + "\n"
}
