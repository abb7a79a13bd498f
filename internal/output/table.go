package output

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/qrandom/qrandom/internal/core"
)

const numbersWidth = 64

// ProbeOutcome is the result of probing one source from the CLI.
type ProbeOutcome struct {
	Source   string        `json:"source" yaml:"source"`
	Number   *int          `json:"random_number,omitempty" yaml:"random_number,omitempty"`
	Duration time.Duration `json:"duration_ns" yaml:"duration"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

func renderTable(v any) (string, bool) {
	switch value := v.(type) {
	case *core.FetchResult:
		return fetchTable(value), true
	case []core.SourceStatus:
		return sourcesTable(value), true
	case []core.CooldownState:
		return cooldownTable(value), true
	case []core.FetchRecord:
		return historyTable(value), true
	case []ProbeOutcome:
		return probeTable(value), true
	case *core.ServiceStats:
		return statsTable(value), true
	default:
		return "", false
	}
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

func fetchTable(result *core.FetchResult) string {
	if result == nil {
		return ""
	}
	t := newTable()
	t.AppendHeader(table.Row{"Source", "Count", "Numbers", "Timestamp"})
	t.SetColumnConfigs([]table.ColumnConfig{{Name: "Numbers", WidthMax: numbersWidth}})
	t.AppendRow(table.Row{
		result.Source,
		result.Count,
		joinNumbers(result.Numbers),
		formatTime(result.Timestamp),
	})
	return t.Render()
}

func sourcesTable(statuses []core.SourceStatus) string {
	t := newTable()
	t.AppendHeader(table.Row{"#", "Source", "Endpoint", "OK", "Failed", "Next Allowed", "Last Error"})
	for _, s := range statuses {
		name := s.Name
		if s.Current {
			name += " *"
		}
		next := "-"
		if s.NextAllowed != nil {
			next = formatTime(*s.NextAllowed)
		}
		t.AppendRow(table.Row{s.Index, name, s.Endpoint, s.Successes, s.Failures, next, truncate(s.LastError, 48)})
	}
	return t.Render()
}

func cooldownTable(states []core.CooldownState) string {
	t := newTable()
	t.AppendHeader(table.Row{"Source", "Requests", "Last Request", "Next Allowed", "Last Rate Limited"})
	if len(states) == 0 {
		t.AppendRow(table.Row{"(none)", "", "", "", ""})
	}
	for _, s := range states {
		limited := "-"
		if s.LastRateLimited != nil {
			limited = formatTime(*s.LastRateLimited)
		}
		t.AppendRow(table.Row{s.Source, s.RequestCount, formatTime(s.LastRequestAt), formatTime(s.NextAllowedAt), limited})
	}
	return t.Render()
}

func historyTable(records []core.FetchRecord) string {
	t := newTable()
	t.AppendHeader(table.Row{"Fetched At", "Source", "Count", "Outcome", "Duration", "Error"})
	for _, r := range records {
		t.AppendRow(table.Row{
			formatTime(r.FetchedAt),
			r.Source,
			r.Count,
			string(r.Outcome),
			r.Duration.Round(time.Millisecond).String(),
			truncate(r.Error, 48),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", fmt.Sprintf("%d records", len(records))})
	return t.Render()
}

func probeTable(outcomes []ProbeOutcome) string {
	t := newTable()
	t.AppendHeader(table.Row{"Source", "Result", "Duration"})
	for _, o := range outcomes {
		result := o.Error
		if o.Number != nil {
			result = strconv.Itoa(*o.Number)
		}
		t.AppendRow(table.Row{o.Source, truncate(result, 64), o.Duration.Round(time.Millisecond).String()})
	}
	return t.Render()
}

func statsTable(stats *core.ServiceStats) string {
	if stats == nil {
		return ""
	}
	t := newTable()
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Total requests", stats.TotalRequests},
		{"Cache hit rate", fmt.Sprintf("%.2f%%", stats.CacheHitRate)},
		{"Average response", fmt.Sprintf("%.2f ms", stats.AverageResponseTime)},
		{"Entropy quality", fmt.Sprintf("%.3f", stats.EntropyQuality)},
		{"Uptime", (time.Duration(stats.UptimeSeconds) * time.Second).String()},
		{"Active connections", stats.ActiveConnections},
	})
	if stats.CurrentSource != "" {
		t.AppendRow(table.Row{"Current source", stats.CurrentSource})
	}
	return t.Render()
}

func joinNumbers(numbers core.Numbers) string {
	parts := make([]string, len(numbers))
	for i, n := range numbers {
		parts[i] = strconv.Itoa(int(n))
	}
	return strings.Join(parts, " ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(value string, max int) string {
	value = strings.TrimSpace(value)
	if len(value) <= max {
		return value
	}
	return value[:max-3] + "..."
}
