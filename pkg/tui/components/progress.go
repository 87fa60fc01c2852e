// Package components provides reusable TUI components for the cat name
// tournament. This file implements the progress indicator shown next to the
// current match.
package components

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/pashagolub/catelo/pkg/tournament"
)

// Progress displays votes cast against the estimated number of matches
type Progress struct {
	container *tview.Flex
	bar       *tview.TextView
	metrics   *tview.TextView

	current tournament.Progress

	barWidth      int
	progressColor string
	completeColor string
}

// ProgressConfig holds configuration options for the progress indicator
type ProgressConfig struct {
	BarWidth      int
	ProgressColor string // tview color tag name, e.g. "blue"
	CompleteColor string
	BorderColor   tcell.Color
}

// DefaultProgressConfig returns the standard progress indicator settings
func DefaultProgressConfig() ProgressConfig {
	return ProgressConfig{
		BarWidth:      30,
		ProgressColor: "blue",
		CompleteColor: "green",
		BorderColor:   tcell.ColorDarkGray,
	}
}

// NewProgress creates a new progress indicator component
func NewProgress(config ProgressConfig) *Progress {
	defaults := DefaultProgressConfig()
	if config.BarWidth <= 0 {
		config.BarWidth = defaults.BarWidth
	}
	if config.ProgressColor == "" {
		config.ProgressColor = defaults.ProgressColor
	}
	if config.CompleteColor == "" {
		config.CompleteColor = defaults.CompleteColor
	}
	if config.BorderColor == 0 {
		config.BorderColor = defaults.BorderColor
	}

	p := &Progress{
		container:     tview.NewFlex(),
		bar:           tview.NewTextView(),
		metrics:       tview.NewTextView(),
		barWidth:      config.BarWidth,
		progressColor: config.ProgressColor,
		completeColor: config.CompleteColor,
	}

	p.bar.SetBorder(true).SetTitle("Progress").SetBorderColor(config.BorderColor)
	p.bar.SetDynamicColors(true).SetTextAlign(tview.AlignCenter)
	p.metrics.SetBorder(true).SetTitle("Round").SetBorderColor(config.BorderColor)
	p.metrics.SetDynamicColors(true)

	p.container.SetDirection(tview.FlexRow).
		AddItem(p.bar, 3, 0, false).
		AddItem(p.metrics, 0, 1, false)

	p.Update(tournament.Progress{})
	return p
}

// Update refreshes the indicator
func (p *Progress) Update(progress tournament.Progress) {
	p.current = progress
	p.bar.SetText(p.createProgressBar(progress.Percent))
	p.metrics.SetText(p.metricsText())
}

// Current returns the last progress shown
func (p *Progress) Current() tournament.Progress {
	return p.current
}

// Text returns the plain metrics text without color tags
func (p *Progress) Text() string {
	return p.metrics.GetText(true)
}

func (p *Progress) metricsText() string {
	c := p.current
	if c.Total == 0 {
		return "[gray]no tournament running[-]"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[white]Match %d of %d[-]\n", min(c.Completed+1, c.Total), c.Total)
	if c.Round > 0 {
		fmt.Fprintf(&b, "%s round\n", humanize.Ordinal(c.Round))
	}
	fmt.Fprintf(&b, "%.0f%% done\n", c.Percent)
	switch c.RemainingPairs {
	case 0:
		b.WriteString("[gray]every pair judged[-]")
	case 1:
		b.WriteString("[gray]1 pair never shown[-]")
	default:
		fmt.Fprintf(&b, "[gray]%d pairs never shown[-]", c.RemainingPairs)
	}
	return b.String()
}

// GetContainer returns the main container for embedding in other views
func (p *Progress) GetContainer() tview.Primitive {
	return p.container
}

// createProgressBar renders percent (0..100) as a block bar
func (p *Progress) createProgressBar(percent float64) string {
	percent = min(max(percent, 0), 100)
	filled := int(percent / 100 * float64(p.barWidth))

	color := p.progressColor
	if filled == p.barWidth {
		color = p.completeColor
	}
	return "[" + color + "]" + strings.Repeat("█", filled) + "[gray]" + strings.Repeat("░", p.barWidth-filled) + "[white]"
}
