// Package export writes stored results in formats readable outside the
// terminal.
package export

import (
	"fmt"
	"math"
	"strings"
)

var strokeColors = []string{"#00ffff", "#ffcc00", "#00ff88", "#ff66ff", "#ff4444", "#6688ff"}

// SeriesSVG draws every series as a polyline over its index. Series with
// fewer than two points are skipped; the result is empty when none remain.
func SeriesSVG(series [][]float64, width, height int, title string) string {
	minX, maxX := 0.0, 0.0
	minY, maxY := math.Inf(1), math.Inf(-1)
	drawn := 0
	for _, s := range series {
		if len(s) < 2 {
			continue
		}
		drawn++
		maxX = max(maxX, float64(len(s)-1))
		for _, v := range s {
			minY = min(minY, v)
			maxY = max(maxY, v)
		}
	}
	if drawn == 0 {
		return ""
	}

	// Add padding
	rangeX := maxX - minX
	rangeY := maxY - minY
	if rangeY == 0 {
		rangeY = 1
	}
	minY -= rangeY * 0.1
	maxY += rangeY * 0.1
	rangeY = maxY - minY

	var sb strings.Builder
	fmt.Fprintf(&sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, width, height, width, height)
	if title != "" {
		fmt.Fprintf(&sb, `<text x="8" y="16" fill="#888899" font-family="monospace" font-size="12">%s</text>
`, escape(title))
	}

	i := 0
	for _, s := range series {
		if len(s) < 2 {
			continue
		}
		fmt.Fprintf(&sb, `<path fill="none" stroke="%s" stroke-width="1.5" d="M`, strokeColors[i%len(strokeColors)])
		for j, v := range s {
			x := float64(j) / rangeX * float64(width)
			y := float64(height) - (v-minY)/rangeY*float64(height)
			if j == 0 {
				fmt.Fprintf(&sb, "%.1f,%.1f", x, y)
			} else {
				fmt.Fprintf(&sb, " L%.1f,%.1f", x, y)
			}
		}
		sb.WriteString("\"/>\n")
		i++
	}

	sb.WriteString("</svg>")
	return sb.String()
}

func escape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;").Replace(s)
}
