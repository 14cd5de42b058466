package report

import (
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"authwatch/internal/model"
)

var barStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

// RenderBars draws one horizontal bar per address, scaled so the largest
// count fills width cells. Non-zero counts always get at least one cell.
func RenderBars(counts []model.AddressCount, width int) string {
	if len(counts) == 0 {
		return ""
	}
	if width <= 0 {
		width = 40
	}
	maxCount, labelWidth := 0, 0
	for _, c := range counts {
		maxCount = max(maxCount, c.Failed)
		labelWidth = max(labelWidth, len(c.Address))
	}
	var b strings.Builder
	for _, c := range counts {
		n := barLength(c.Failed, maxCount, width)
		fmt.Fprintf(&b, "%-*s %s %s\n", labelWidth, c.Address, barStyle.Render(strings.Repeat("█", n)), humanize.Comma(int64(c.Failed)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func barLength(v, maxV, width int) int {
	if v <= 0 || maxV <= 0 {
		return 0
	}
	n := v * width / maxV
	if n == 0 {
		n = 1
	}
	return n
}

type svgBar struct {
	Label  string
	Count  int
	Y      int
	Width  int
	TextY  int
	CountX int
}

type svgChart struct {
	Title  string
	Width  int
	Height int
	BarX   int
	Bars   []svgBar
}

const (
	svgLabelWidth = 160
	svgBarArea    = 480
	svgRowHeight  = 28
	svgTop        = 40
)

var svgTemplate = template.Must(template.New("chart").Parse(`<svg xmlns="http://www.w3.org/2000/svg" width="{{.Width}}" height="{{.Height}}" font-family="monospace" font-size="12">
<rect width="100%" height="100%" fill="#ffffff"/>
<text x="10" y="24" font-size="16" font-weight="bold">{{html .Title}}</text>
{{- range .Bars}}
<text x="10" y="{{.TextY}}">{{html .Label}}</text>
<rect x="{{$.BarX}}" y="{{.Y}}" width="{{.Width}}" height="20" fill="#d9534f"/>
<text x="{{.CountX}}" y="{{.TextY}}">{{.Count}}</text>
{{- end}}
</svg>
`))

// WriteSVG writes a bar chart of failed attempts per address as an SVG document.
func WriteSVG(w io.Writer, title string, counts []model.AddressCount) error {
	maxCount := 0
	for _, c := range counts {
		maxCount = max(maxCount, c.Failed)
	}
	chart := svgChart{
		Title:  title,
		Width:  svgLabelWidth + svgBarArea + 80,
		Height: svgTop + len(counts)*svgRowHeight + 20,
		BarX:   svgLabelWidth,
	}
	for i, c := range counts {
		y := svgTop + i*svgRowHeight
		width := barLength(c.Failed, maxCount, svgBarArea)
		chart.Bars = append(chart.Bars, svgBar{
			Label:  c.Address,
			Count:  c.Failed,
			Y:      y,
			Width:  width,
			TextY:  y + 15,
			CountX: svgLabelWidth + width + 6,
		})
	}
	return svgTemplate.Execute(w, chart)
}
