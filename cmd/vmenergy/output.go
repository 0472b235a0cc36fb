package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/ja7ad/vmenergy/pkg/energy"
	"github.com/ja7ad/vmenergy/pkg/types"
)

// row is one tenant's share of a host total.
type row struct {
	ID        types.SourceID `json:"id"`
	Tenant    string         `json:"tenant"`
	Kind      string         `json:"kind"`
	Weight    float64        `json:"weight"`
	Share     float64        `json:"share_w"`
	Fraction  float64        `json:"fraction"`
	Predicted *string        `json:"predicted_by,omitempty"`
}

// report is everything a command prints.
type report struct {
	At          time.Time `json:"time"`
	Host        string    `json:"host"`
	Rule        string    `json:"rule"`
	Idle        bool      `json:"idle_energy"`
	Utilisation *float64  `json:"cpu_utilisation,omitempty"`
	Total       float64   `json:"total_w"`
	Rows        []row     `json:"tenants"`
}

func newReport(at time.Time, rule energy.ShareRule, d *energy.Division, total float64) (*report, error) {
	shares, err := d.Shares(total)
	if err != nil {
		return nil, err
	}
	r := &report{
		At:    at,
		Host:  d.Host().Name,
		Rule:  rule.Name(),
		Idle:  d.ConsiderIdleEnergy,
		Total: total,
	}
	for _, u := range d.Users() {
		w, _ := d.Weight(u)
		share := shares[u.SourceID()]
		var frac float64
		if total != 0 {
			frac = share / total
		}
		r.Rows = append(r.Rows, row{
			ID:       u.SourceID(),
			Tenant:   label(u),
			Kind:     u.Kind().String(),
			Weight:   w,
			Share:    share,
			Fraction: frac,
		})
	}
	return r, nil
}

func label(u types.EnergyUsageSource) string {
	if u.Label() != "" {
		return u.Label()
	}
	return string(u.SourceID())
}

func (r *report) write(w io.Writer, format string) error {
	switch format {
	case "", "table":
		return r.writeTable(w)
	case "csv":
		return r.writeCSV(w)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "html":
		return tpl.Execute(w, r)
	default:
		return fmt.Errorf("unknown output format %q (table, csv, json, html)", format)
	}
}

func (r *report) writeTable(w io.Writer) error {
	fmt.Fprintf(w, "host %s, rule %s, idle energy %t, total %.3f W", r.Host, r.Rule, r.Idle, r.Total)
	if r.Utilisation != nil {
		fmt.Fprintf(w, ", cpu %.4f", *r.Utilisation)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TENANT\tKIND\tWEIGHT\tSHARE (W)\tFRACTION\tPREDICTOR")
	fmt.Fprintln(tw, "------\t----\t------\t---------\t--------\t---------")
	for _, x := range r.Rows {
		pred := "-"
		if x.Predicted != nil {
			pred = *x.Predicted
		}
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.3f\t%.4f\t%s\n", x.Tenant, x.Kind, x.Weight, x.Share, x.Fraction, pred)
	}
	return tw.Flush()
}

func (r *report) writeCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"time", "host", "rule", "tenant", "kind", "weight", "share_w", "fraction"})
	for _, x := range r.Rows {
		_ = cw.Write([]string{
			r.At.Format(time.RFC3339), r.Host, r.Rule, x.Tenant, x.Kind,
			fmtFloat(x.Weight), fmtFloat(x.Share), fmtFloat(x.Fraction),
		})
	}
	cw.Flush()
	return cw.Error()
}

func fmtFloat(f float64) string { return strconv.FormatFloat(f, 'f', 6, 64) }

var tpl = template.Must(template.New("rep").Parse(`<!doctype html>
<html lang="en"><meta charset="utf-8">
<title>Energy attribution {{.Host}}</title>
<style>
body{font-family:system-ui,Segoe UI,Roboto,Helvetica,Arial,sans-serif;margin:20px}
h1,h2{margin:0 0 8px}
table{border-collapse:collapse;width:100%;font-size:14px}
th,td{border:1px solid #ddd;padding:6px 8px;text-align:right}
th:first-child,td:first-child{text-align:left}
.small{color:#555}
</style>

<h1>Energy attribution for {{.Host}}</h1>

<p class="small">
{{.At.Format "2006-01-02 15:04:05"}} &nbsp;|&nbsp;
Rule: {{.Rule}} &nbsp;|&nbsp;
Idle energy: {{.Idle}} &nbsp;|&nbsp;
Total: {{printf "%.3f" .Total}} W
{{with .Utilisation}}&nbsp;|&nbsp; CPU: {{printf "%.4f" .}}{{end}}
</p>

<table>
<thead>
<tr><th>tenant</th><th>kind</th><th>weight</th><th>share (W)</th><th>fraction</th></tr>
</thead>
<tbody>
{{range .Rows}}
<tr>
<td>{{.Tenant}}</td>
<td>{{.Kind}}</td>
<td>{{printf "%.4f" .Weight}}</td>
<td>{{printf "%.3f" .Share}}</td>
<td>{{printf "%.4f" .Fraction}}</td>
</tr>
{{end}}
</tbody>
</table>
</html>`))
