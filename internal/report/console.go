package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"authwatch/internal/engine"
	"authwatch/internal/model"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	alertStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
)

const stampLayout = "2006-01-02 15:04:05"

// WriteConsole renders the run summary, the incident table and the top
// addresses by failed attempts.
func WriteConsole(w io.Writer, res engine.Result, topN int) error {
	var b strings.Builder
	b.WriteString(titleStyle.Render("authwatch brute-force report") + "\n")
	b.WriteString(summaryLines(res))
	b.WriteString("\n")

	if len(res.Incidents) == 0 {
		b.WriteString(okStyle.Render("No brute-force incidents detected.") + "\n")
	} else {
		b.WriteString(alertStyle.Render(fmt.Sprintf("%s incident(s) detected", humanize.Comma(int64(len(res.Incidents))))) + "\n")
		b.WriteString(IncidentTable(res.Incidents) + "\n")
	}

	if res.Aggregate != nil {
		top := res.Aggregate.TopFailed(topN)
		if len(top) > 0 {
			b.WriteString("\n" + titleStyle.Render("Failed attempts by address") + "\n")
			b.WriteString(RenderBars(top, 40) + "\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func summaryLines(res engine.Result) string {
	rows := [][2]string{
		{"run", res.RunID},
		{"window", res.Params.Window.String()},
		{"min attempts", strconv.Itoa(res.Params.MinAttempts)},
		{"lines", humanize.Comma(int64(res.Stats.Lines))},
		{"skipped", humanize.Comma(res.Skipped)},
		{"failed", humanize.Comma(int64(res.Stats.Failed))},
		{"accepted", humanize.Comma(int64(res.Stats.Accepted))},
		{"missing address", humanize.Comma(int64(res.Stats.MissingAddress))},
	}
	if res.Aggregate != nil {
		rows = append(rows, [2]string{"addresses", humanize.Comma(int64(res.Aggregate.Len()))})
	}
	if !res.Finished.IsZero() && !res.Started.IsZero() {
		rows = append(rows, [2]string{"elapsed", res.Finished.Sub(res.Started).Round(time.Millisecond).String()})
	}
	var b strings.Builder
	for _, r := range rows {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-16s", r[0])) + r[1] + "\n")
	}
	return b.String()
}

// IncidentTable renders incidents in the order given.
func IncidentTable(incidents []model.Incident) string {
	rows := make([][]string, 0, len(incidents))
	for i, inc := range incidents {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			inc.Address,
			humanize.Comma(int64(inc.Count)),
			inc.WindowStart.Format(stampLayout),
			inc.WindowEnd.Format(stampLayout),
			inc.Duration().String(),
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "ADDRESS", "ATTEMPTS", "FIRST", "LAST", "SPAN").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0 || col == 2:
				return numberStyle
			}
			return cellStyle
		})
	return t.String()
}
