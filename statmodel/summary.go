package statmodel

import (
	"fmt"
	"strings"
)

// Fmter formats the elements of an array of values.
type Fmter func(interface{}, string) []string

// FmtStrings returns a Fmter for string columns, padded to a common
// width.
func FmtStrings() Fmter {
	return func(x interface{}, h string) []string {
		y := x.([]string)
		w := len(h)
		for _, s := range y {
			if len(s) > w {
				w = len(s)
			}
		}
		var z []string
		for _, s := range y {
			z = append(z, fmt.Sprintf("%*s", w+2, s))
		}
		return z
	}
}

// FmtFloats returns a Fmter for float64 columns using the given verb,
// e.g. "%10.4f".
func FmtFloats(verb string) Fmter {
	return func(x interface{}, h string) []string {
		var z []string
		for _, v := range x.([]float64) {
			z = append(z, fmt.Sprintf(verb, v))
		}
		return z
	}
}

// SummaryTable holds the summary values for a fitted model.
type SummaryTable struct {

	// Title
	Title string

	// Column names
	ColNames []string

	// Formatters for the column values
	ColFmt []Fmter

	// Cols[j] is the j^th column.  It's concrete type should
	// be an array, e.g. of numbers or strings.
	Cols []interface{}

	// Values at the top of the summary, laid out in two columns
	Top []string

	// Messages displayed below the table
	Msg []string

	// Total width of the table
	tw int
}

// line draws a rule filling the width of the table.
func (s *SummaryTable) line(c string) string {
	return strings.Repeat(c, s.tw) + "\n"
}

// top renders the summary values in two left-aligned columns.
func (s *SummaryTable) top(gap int) string {

	w := []int{0, 0}
	for j, x := range s.Top {
		if len(x) > w[j%2] {
			w[j%2] = len(x)
		}
	}

	var b strings.Builder
	for j, x := range s.Top {
		fmt.Fprintf(&b, "%-*s", w[j%2], x)
		if j%2 == 1 {
			b.WriteString("\n")
		} else {
			b.WriteString(strings.Repeat(" ", gap))
		}
	}
	if len(s.Top)%2 == 1 {
		b.WriteString("\n")
	}

	return b.String()
}

// String returns the table as a string.
func (s *SummaryTable) String() string {

	var tab [][]string
	var wx []int
	for j, c := range s.Cols {
		u := s.ColFmt[j](c, s.ColNames[j])
		tab = append(tab, u)
		w := len(s.ColNames[j])
		for _, v := range u {
			if len(v) > w {
				w = len(v)
			}
		}
		wx = append(wx, w+1)
	}

	gap := 10
	topw := 0
	for _, x := range s.Top {
		if len(x) > topw {
			topw = len(x)
		}
	}

	s.tw = 0
	for _, w := range wx {
		s.tw += w
	}
	s.tw = max(s.tw, len(s.Title), gap+2*topw)

	var b strings.Builder

	// Center the title
	kr := max((s.tw-len(s.Title))/2, 0)
	b.WriteString(strings.Repeat(" ", kr))
	b.WriteString(s.Title + "\n")

	b.WriteString(s.line("="))
	if len(s.Top) > 0 {
		b.WriteString(s.top(gap))
		b.WriteString(s.line("-"))
	}

	for j, c := range s.ColNames {
		fmt.Fprintf(&b, "%*s", wx[j], c)
	}
	b.WriteString("\n")
	b.WriteString(s.line("-"))

	if len(tab) > 0 {
		for i := range tab[0] {
			for j := range tab {
				fmt.Fprintf(&b, "%*s", wx[j], tab[j][i])
			}
			b.WriteString("\n")
		}
	}
	b.WriteString(s.line("-"))

	for _, msg := range s.Msg {
		b.WriteString(msg + "\n")
	}

	return b.String()
}

// ParamTable returns a SummaryTable with one row per parameter, giving
// the estimate, standard error, test statistic and p-value.  statName
// labels the test statistic column.
func ParamTable(title string, top []string, names []string, params, se, stat, pv []float64, statName string) *SummaryTable {
	return &SummaryTable{
		Title:    title,
		Top:      top,
		ColNames: []string{"Variable   ", "Parameter", "SE", statName, "P>|" + strings.ToLower(statName) + "|"},
		ColFmt: []Fmter{
			FmtStrings(),
			FmtFloats("%10.4f"),
			FmtFloats("%10.4f"),
			FmtFloats("%10.4f"),
			FmtFloats("%10.4f"),
		},
		Cols: []interface{}{names, params, se, stat, pv},
	}
}

// ResultsTable returns a ParamTable for all parameters of a fitted
// model.  If pv is nil, the normal-reference p-values of rslt are used.
func ResultsTable(title string, top []string, rslt BaseResultser, pv []float64, statName string) *SummaryTable {
	if pv == nil {
		pv = rslt.PValues()
	}
	return ParamTable(title, top, rslt.Names(), rslt.Params(), rslt.StdErr(), rslt.ZScores(), pv, statName)
}
