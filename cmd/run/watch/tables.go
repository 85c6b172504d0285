package watch

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/switchyard-net/switchyard/internal/models"
	"github.com/switchyard-net/switchyard/internal/render"
)

var (
	deviceColumnTitles  = []string{"#", "Hostname", "Port", "Status", "Tries", "Hash", "Duration", "Error"}
	deviceColumnWeights = []int{1, 4, 1, 3, 1, 3, 2, 6}
)

func devicesToRows(devices models.RunDevices, spinnerFrame string) []table.Row {
	rows := make([]table.Row, len(devices))
	for i, d := range devices {
		rows[i] = table.Row{
			strconv.Itoa(d.Position + 1),
			d.Hostname,
			strconv.Itoa(d.Port),
			formatDeviceStatus(d.Status, spinnerFrame),
			strconv.Itoa(d.Attempts),
			shortHash(d.TemplateHash),
			formatDuration(d.StartedAt, d.FinishedAt),
			formatError(d),
		}
	}
	return rows
}

func formatDeviceStatus(status models.DeviceStatus, spinnerFrame string) string {
	switch status {
	case models.DeviceStatusRunning:
		if spinnerFrame != "" {
			return fmt.Sprintf("%s Running", spinnerFrame)
		}
		return "Running"
	case models.DeviceStatusQueued:
		return "Queued"
	case models.DeviceStatusSuccess:
		return "✅ Success"
	case models.DeviceStatusFailed:
		return "❌ Failed"
	case models.DeviceStatusSkipped:
		return "⏭ Skipped"
	default:
		return string(status)
	}
}

func formatError(d *models.RunDevice) string {
	switch {
	case d.ErrorCode == "" && d.ErrorMessage == "":
		return "-"
	case d.ErrorMessage == "":
		return d.ErrorCode
	case d.ErrorCode == "":
		return d.ErrorMessage
	}
	return d.ErrorCode + ": " + d.ErrorMessage
}

func shortHash(hash string) string {
	if len(hash) > render.ShortHashLen {
		return hash[:render.ShortHashLen]
	}
	if hash == "" {
		return "-"
	}
	return hash
}

func formatDuration(started, finished *time.Time) string {
	if started == nil {
		return "-"
	}
	end := time.Now()
	if finished != nil {
		end = *finished
	}
	return end.Sub(*started).Round(100 * time.Millisecond).String()
}

func createTable(titles []string, widths []int) table.Model {
	tbl := table.New(
		table.WithColumns(buildColumns(titles, widths)),
		table.WithHeight(16),
		table.WithFocused(true),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true)

	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("63")).
		Bold(false)

	tbl.SetStyles(styles)
	return tbl
}

func buildColumns(titles []string, widths []int) []table.Column {
	columns := make([]table.Column, len(titles))
	for i, title := range titles {
		width := 8
		if i < len(widths) && widths[i] > 0 {
			width = widths[i]
		}
		columns[i] = table.Column{Title: title, Width: width}
	}
	return columns
}

// distributeWidths splits total across columns by weight, leaving a
// one character gap between columns.
func distributeWidths(total int, weights []int) []int {
	if len(weights) == 0 {
		return nil
	}

	const minWidth = 4

	content := total - (len(weights) - 1)
	if content < len(weights)*minWidth {
		content = len(weights) * minWidth
	}

	sum := 0
	for _, w := range weights {
		sum += w
	}

	widths := make([]int, len(weights))
	remaining := content
	for i, weight := range weights {
		if i == len(weights)-1 {
			widths[i] = max(remaining, minWidth)
			break
		}

		portion := max(weight*content/sum, minWidth)
		minRemaining := minWidth * (len(weights) - i - 1)
		if remaining-portion < minRemaining {
			portion = max(remaining-minRemaining, minWidth)
		}

		widths[i] = portion
		remaining -= portion
	}

	return widths
}
