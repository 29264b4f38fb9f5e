package reporting

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/risk-control-plane/internal/breaker"
	"github.com/ducminhle1904/risk-control-plane/internal/executor"
	"github.com/ducminhle1904/risk-control-plane/internal/riskconfig"
)

const timeLayout = "2006-01-02 15:04:05"

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

// PrintBreakers renders the breaker records. now is used for the
// time-to-reset column.
func PrintBreakers(w io.Writer, records []breaker.Record, now time.Time) {
	t := newTable(w, "CIRCUIT BREAKERS")
	t.AppendHeader(table.Row{"Type", "Scope", "Status", "Reason", "Tripped", "Auto reset"})
	if len(records) == 0 {
		t.AppendRow(table.Row{"-", "-", breaker.StatusClosed.String(), "no breakers tripped", "", ""})
	}
	for _, r := range records {
		scope := r.Scope
		if scope == "" {
			scope = "global"
		}
		t.AppendRow(table.Row{r.Type, scope, r.Status, r.Reason, r.TrippedAt.UTC().Format(timeLayout), resetIn(r, now)})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, WidthMax: 48},
		{Number: 6, Align: text.AlignRight},
	})
	t.Render()
}

func resetIn(r breaker.Record, now time.Time) string {
	if r.AutoResetAt == nil {
		return "manual"
	}
	d := r.AutoResetAt.Sub(now)
	if d <= 0 {
		return "due"
	}
	return d.Truncate(time.Second).String()
}

// PrintProfile renders a profile tree as sorted dot paths
func PrintProfile(w io.Writer, name riskconfig.ProfileName, tree riskconfig.Tree) {
	t := newTable(w, fmt.Sprintf("RISK PROFILE %s", strings.ToUpper(string(name))))
	t.AppendHeader(table.Row{"Parameter", "Value"})
	for _, p := range Flatten(tree) {
		t.AppendRow(table.Row{p.Path, p.Value})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignRight},
	})
	t.Render()
}

// PrintPositions renders open positions
func PrintPositions(w io.Writer, positions []executor.Position) {
	t := newTable(w, "POSITIONS")
	t.AppendHeader(table.Row{"Symbol", "Quantity", "Cost basis", "Updated"})
	for _, p := range positions {
		t.AppendRow(table.Row{p.Symbol, formatNumber(p.Quantity), formatNumber(p.CostBasis), p.UpdatedAt.UTC().Format(timeLayout)})
	}
	t.Render()
}

// PrintAudit renders audit entries oldest first
func PrintAudit(w io.Writer, entries []riskconfig.AuditEntry) {
	t := newTable(w, "RISK PARAMETER AUDIT")
	t.AppendHeader(table.Row{"Time", "Profile", "Parameter", "Old", "New", "Reason"})
	for _, e := range entries {
		t.AppendRow(table.Row{e.Timestamp.UTC().Format(timeLayout), e.Profile, e.Parameter,
			formatValue(e.OldValue), formatValue(e.NewValue), e.Reason})
	}
	t.Render()
}

// Param is one leaf of a profile tree
type Param struct {
	Path  string
	Value string
}

// Flatten returns the leaves of tree as dot paths in sorted order
func Flatten(tree riskconfig.Tree) []Param {
	var out []Param
	var walk func(prefix string, node map[string]interface{})
	walk = func(prefix string, node map[string]interface{}) {
		for k, v := range node {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			if child, ok := v.(map[string]interface{}); ok {
				walk(path, child)
				continue
			}
			out = append(out, Param{Path: path, Value: formatValue(v)})
		}
	}
	walk("", tree)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case float64:
		return formatNumber(val)
	case []interface{}:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = formatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []string:
		return "[" + strings.Join(val, ", ") + "]"
	default:
		return fmt.Sprintf("%v", val)
	}
}

func formatNumber(f float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.8f", f), "0"), ".")
}
