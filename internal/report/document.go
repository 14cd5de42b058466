package report

import (
	"io"
	"strings"
	"text/template"

	"github.com/dustin/go-humanize"

	"authwatch/internal/engine"
	"authwatch/internal/model"
)

type documentData struct {
	Result    engine.Result
	Top       []model.AddressCount
	ChartFile string
}

var documentTemplate = template.Must(template.New("document").Funcs(template.FuncMap{
	"comma": func(v any) string {
		switch n := v.(type) {
		case int:
			return humanize.Comma(int64(n))
		case int64:
			return humanize.Comma(n)
		}
		return ""
	},
	"stamp": func(inc model.Incident) string { return inc.WindowStart.Format(stampLayout) },
	"until": func(inc model.Incident) string { return inc.WindowEnd.Format(stampLayout) },
	"cell":  markdownCell,
	"inc":   func(i int) int { return i + 1 },
}).Parse(`# Brute-force incident report

| | |
|---|---|
| Run | {{.Result.RunID}} |
| Window | {{.Result.Params.Window}} |
| Minimum attempts | {{.Result.Params.MinAttempts}} |
| Lines read | {{comma .Result.Stats.Lines}} |
| Lines skipped | {{comma .Result.Skipped}} |
| Failed attempts | {{comma .Result.Stats.Failed}} |
| Accepted logins | {{comma .Result.Stats.Accepted}} |
| Lines without address | {{comma .Result.Stats.MissingAddress}} |

## Incidents
{{if .Result.Incidents}}
| # | Address | Attempts | First attempt | Last attempt | Span |
|---:|---|---:|---|---|---|
{{- range $i, $inc := .Result.Incidents}}
| {{inc $i}} | {{cell $inc.Address}} | {{comma $inc.Count}} | {{stamp $inc}} | {{until $inc}} | {{$inc.Duration}} |
{{- end}}
{{else}}
No brute-force incidents detected.
{{end}}
## Failed attempts by address
{{if .Top}}
{{- if .ChartFile}}
![Failed attempts by address]({{.ChartFile}})
{{end}}
| Address | Failed | Accepted |
|---|---:|---:|
{{- range .Top}}
| {{cell .Address}} | {{comma .Failed}} | {{comma .Accepted}} |
{{- end}}
{{else}}
No failed attempts recorded.
{{end}}`))

// WriteMarkdown writes the document report. chartFile, when set, is linked as
// an image next to the address table.
func WriteMarkdown(w io.Writer, res engine.Result, topN int, chartFile string) error {
	data := documentData{Result: res, ChartFile: chartFile}
	if res.Aggregate != nil {
		data.Top = res.Aggregate.TopFailed(topN)
	}
	return documentTemplate.Execute(w, data)
}

func markdownCell(s string) string {
	return strings.NewReplacer("|", `\|`, "\n", " ").Replace(s)
}
