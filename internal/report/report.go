// Package report renders scan, result and combine output as markdown
// tables, with an optional HTML page rendered from the same markdown.
package report

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strings"

	"bellstat/domain/event"
	"bellstat/domain/stats"
	"bellstat/internal/aggregate"
	"bellstat/internal/matcher"
	"bellstat/internal/statistic"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
)

// Num formats a float for tables; NaN and infinities read "n/a".
func Num(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.6g", v)
}

func optNum(v *float64) string {
	if v == nil {
		return "-"
	}
	return Num(*v)
}

func interval(ci *stats.Interval) string {
	if ci == nil {
		return "-"
	}
	return fmt.Sprintf("[%s, %s]", Num(ci.Lo), Num(ci.Hi))
}

// sigmaZ returns the sigma and z shown for a result.
func sigmaZ(res *stats.StatisticResult) (string, string) {
	switch {
	case res.CH != nil && !res.CH.Degenerate:
		if res.CH.Sigma > 0 {
			return Num(res.CH.Sigma), Num(res.Value / res.CH.Sigma)
		}
		return Num(res.CH.Sigma), "-"
	case res.T3 != nil:
		sigma := res.T3.Sigma
		if res.T3.ClusterSigma != nil {
			sigma = *res.T3.ClusterSigma
		}
		if sigma > 0 {
			return Num(sigma), Num(res.T3.Total / sigma)
		}
		return Num(sigma), "-"
	}
	return "-", "-"
}

type table struct {
	buf *bytes.Buffer
}

func newTable(buf *bytes.Buffer, headers ...string) table {
	t := table{buf: buf}
	t.row(headers...)
	seps := make([]string, len(headers))
	for i := range seps {
		seps[i] = "---"
	}
	t.row(seps...)
	return t
}

func (t table) row(cells ...string) {
	for i, c := range cells {
		cells[i] = strings.ReplaceAll(c, "|", `\|`)
	}
	fmt.Fprintf(t.buf, "| %s |\n", strings.Join(cells, " | "))
}

// WriteScan writes one table row per radius, failures included, followed
// by the warnings of each radius.
func WriteScan(w io.Writer, scan *stats.ScanResult) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "## Scan %s (%s)\n\n", scan.Run, scan.Statistic)

	t := newTable(&buf, "radius", "trials", "value", "sigma", "z", "p", "p lower", "CI", "bound p", "status")
	for _, e := range scan.Entries {
		if e.Result == nil {
			t.row(Num(e.Radius), "-", "-", "-", "-", "-", "-", "-", "-", "failed: "+e.Err)
			continue
		}
		res := e.Result
		sigma, z := sigmaZ(res)
		status := "ok"
		switch {
		case e.Failed():
			status = "failed: " + e.Err
		case res.Degenerate():
			status = "degenerate"
		}
		t.row(Num(e.Radius), fmt.Sprint(res.Trials), Num(res.Value), sigma, z,
			optNum(res.PValue), optNum(res.PValueLower), interval(res.ConfidenceInterval), optNum(res.BoundPValue), status)
	}

	for _, e := range scan.Entries {
		if e.Result == nil || len(e.Result.Warnings) == 0 {
			continue
		}
		fmt.Fprintf(&buf, "\nWarnings at radius %s:\n\n", Num(e.Radius))
		for _, warn := range e.Result.Warnings {
			fmt.Fprintf(&buf, "- %s\n", warn)
		}
	}
	if n := scan.Failures(); n > 0 {
		fmt.Fprintf(&buf, "\n%d of %d radii failed.\n", n, len(scan.Entries))
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteResult writes the full decomposition of one result.
func WriteResult(w io.Writer, title string, res *stats.StatisticResult) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "## %s\n\n", title)

	sigma, z := sigmaZ(res)
	t := newTable(&buf, "field", "value")
	t.row("statistic", res.Statistic.String())
	t.row("trials", fmt.Sprint(res.Trials))
	t.row("value", Num(res.Value))
	t.row("sigma", sigma)
	t.row("z", z)
	t.row("p (permutation)", optNum(res.PValue))
	t.row("p lower bound", optNum(res.PValueLower))
	if ci := res.ConfidenceInterval; ci != nil {
		t.row(fmt.Sprintf("CI %s%%", Num(100*ci.Level)), interval(ci))
	}
	t.row("p (Azuma-Hoeffding)", optNum(res.BoundPValue))
	t.row("excluded draws", fmt.Sprint(res.ExcludedDraws))
	t.row("reproducible", fmt.Sprint(res.Reproducible))

	if ch := res.CH; ch != nil {
		buf.WriteString("\n### CH cells\n\n")
		ct := newTable(&buf, "setting", "trials", "singles A", "singles B", "coincidences")
		for x := 0; x < 2; x++ {
			for y := 0; y < 2; y++ {
				c := ch.Cells[x][y]
				ct.row(fmt.Sprintf("a%d b%d", x+1, y+1), fmt.Sprint(c.Trials),
					fmt.Sprint(c.SinglesA), fmt.Sprint(c.SinglesB), fmt.Sprint(c.Coincidences))
			}
		}
		fmt.Fprintf(&buf, "\nnumerator %s, denominator %s, p(LR) %s\n",
			Num(ch.Numerator), Num(ch.Denominator), Num(ch.PValueLR))
		ns := ch.NoSignalling
		fmt.Fprintf(&buf, "\nNo-signalling: dA %s (z %s), dB %s (z %s)\n",
			Num(ns.DeltaA), Num(ns.ZA), Num(ns.DeltaB), Num(ns.ZB))
	}
	if t3 := res.T3; t3 != nil {
		c := t3.Counters
		fmt.Fprintf(&buf, "\n### T3 counters (R from %s)\n\n", t3.RMode)
		ct := newTable(&buf, "triples", "N_A", "N_B", "N_C", "N_AB", "N_AC", "N_BC", "N_ABC", "total")
		ct.row(fmt.Sprint(c.Triples), fmt.Sprint(c.NA), fmt.Sprint(c.NB), fmt.Sprint(c.NC),
			fmt.Sprint(c.NAB), fmt.Sprint(c.NAC), fmt.Sprint(c.NBC), fmt.Sprint(c.NABC), Num(t3.Total))
	}
	if len(res.Warnings) > 0 {
		buf.WriteString("\n### Warnings\n\n")
		for _, warn := range res.Warnings {
			fmt.Fprintf(&buf, "- %s\n", warn)
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteCombine writes the per-input rows, the combined totals and the
// pooled draw summaries.
func WriteCombine(w io.Writer, rep *aggregate.Report) error {
	var buf bytes.Buffer
	pattern := rep.Pattern
	if pattern == "" {
		pattern = "*"
	}
	fmt.Fprintf(&buf, "## Combined %s over `%s`\n\n", rep.Statistic, pattern)

	t := newTable(&buf, "input", "trials", "value", "total", "sigma", "z")
	for _, r := range rep.Rows {
		t.row(r.Name, fmt.Sprint(r.Trials), optNum(r.Value), Num(r.Total), Num(r.Sigma), Num(r.Z))
	}
	t.row("**combined**", "", Num(rep.PooledMean), Num(rep.Total), Num(rep.Sigma), Num(rep.Z))
	fmt.Fprintf(&buf, "\nPooled mean %s, dispersion %s over %d inputs.\n", Num(rep.PooledMean), Num(rep.Dispersion), len(rep.Rows))

	for _, d := range []*aggregate.DrawSummary{rep.Permutation, rep.Bootstrap} {
		if d == nil {
			continue
		}
		fmt.Fprintf(&buf, "\n%s draws: %d from %d inputs, mean %s, sd %s, 2.5%% %s, 97.5%% %s\n",
			d.Kind, d.Count, d.Inputs, Num(d.Mean), Num(d.StdDev), Num(d.P025), Num(d.P975))
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteMatchStats writes the matcher diagnostics per radius.
func WriteMatchStats(w io.Writer, run string, counts []matcher.RadiusCount) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "## Match statistics %s\n\n", run)
	t := newTable(&buf, "radius", "slots", "matched", "A only", "B only")
	for _, c := range counts {
		d := c.Diagnostics
		t.row(Num(c.Radius), fmt.Sprint(d.SlotsScanned), fmt.Sprint(d.Matched), fmt.Sprint(d.OnlyA), fmt.Sprint(d.OnlyB))
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteCoverage writes one station's click patterns and the share of
// clicks carrying bits outside the expected mask.
func WriteCoverage(w io.Writer, station event.Station, c event.Coverage) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "### Outcome coverage %s (expected bits %#x, %d events)\n\n", station, c.Allowed, c.Events)
	t := newTable(&buf, "mask", "count", "fraction")
	for _, m := range c.Masks {
		t.row(fmt.Sprintf("%#x", m.Mask), fmt.Sprint(m.Count), Num(c.Fraction(m.Count)))
	}
	t.row("foreign", fmt.Sprint(c.Foreign), Num(c.Fraction(c.Foreign)))
	_, err := w.Write(buf.Bytes())
	return err
}

// WritePeakDrift writes the per-block peak of the match offsets.
func WritePeakDrift(w io.Writer, radius float64, points []statistic.PeakPoint) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "### Offset peak drift at radius %s\n\n", Num(radius))
	t := newTable(&buf, "trials", "peak", "mean")
	for _, p := range points {
		t.row(fmt.Sprint(p.Trials), Num(p.Peak), Num(p.Mean))
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteCumulative writes the cumulative CH series.
func WriteCumulative(w io.Writer, points []statistic.CumulativePoint) error {
	var buf bytes.Buffer
	t := newTable(&buf, "trials", "CH", "sigma")
	for _, p := range points {
		t.row(fmt.Sprint(p.Trials), Num(p.Value), Num(p.Sigma))
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// HTML renders markdown as a complete HTML page.
func HTML(md []byte, title string) []byte {
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
		Title: title,
	})
	return markdown.ToHTML(markdown.NormalizeNewlines(md), nil, renderer)
}
