// Package screens provides the TUI screens of the cat name tournament.
// This file implements the leaderboard: live standings during a tournament and
// the reconciled final ranking once it completes.
package screens

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/pashagolub/catelo/pkg/tournament"
)

// SortOrder represents the sorting direction for rankings
type SortOrder int

const (
	SortAsc SortOrder = iota
	SortDesc
)

// SortField represents the field to sort rankings by
type SortField int

const (
	SortByRank SortField = iota
	SortByRating
	SortByName
	SortByWins
)

func (f SortField) String() string {
	switch f {
	case SortByRating:
		return "rating"
	case SortByName:
		return "name"
	case SortByWins:
		return "wins"
	}
	return "rank"
}

// RankingRow is one line of the leaderboard
type RankingRow struct {
	Rank        int
	Name        string
	Description string
	Rating      float64
	Wins        int
	Losses      int
}

// RankingScreen implements the leaderboard
type RankingScreen struct {
	container       *tview.Flex
	rankingTable    *tview.Table
	filterForm      *tview.Form
	statisticsPanel *tview.TextView
	statusBar       *tview.TextView
	helpBar         *tview.TextView

	ctrl     *tournament.Controller
	rows     []RankingRow
	filtered []RankingRow
	final    bool

	sortField  SortField
	sortOrder  SortOrder
	searchText string

	app any
}

// NewRankingScreen creates the leaderboard for ctrl
func NewRankingScreen(ctrl *tournament.Controller) *RankingScreen {
	rs := &RankingScreen{
		container:       tview.NewFlex(),
		rankingTable:    tview.NewTable(),
		filterForm:      tview.NewForm(),
		statisticsPanel: tview.NewTextView(),
		statusBar:       tview.NewTextView(),
		helpBar:         tview.NewTextView(),
		ctrl:            ctrl,
		sortField:       SortByRank,
		sortOrder:       SortAsc,
	}

	rs.setupUI()
	rs.setupKeyBindings()
	return rs
}

// GetPrimitive returns the main primitive for the ranking screen
func (rs *RankingScreen) GetPrimitive() tview.Primitive {
	return rs.container
}

// OnEnter loads the current standings
func (rs *RankingScreen) OnEnter(app any) error {
	rs.app = app
	if rs.ctrl == nil {
		return fmt.Errorf("no tournament to rank")
	}
	rs.load()
	rs.applyFilterAndSort()
	rs.updateDisplay()
	return nil
}

// OnExit is called when leaving the screen
func (rs *RankingScreen) OnExit(app any) error {
	return nil
}

// GetTitle returns the screen title
func (rs *RankingScreen) GetTitle() string {
	if rs.final {
		return "Final Ranking"
	}
	return "Standings"
}

// GetHelpText returns help text for this screen
func (rs *RankingScreen) GetHelpText() []string {
	return []string{
		"s: cycle sort field  o: toggle order",
		"c: clear search  x: export",
		"q/Esc: back to the match",
	}
}

func (rs *RankingScreen) setupUI() {
	rs.rankingTable.SetBorder(true).
		SetTitle(" Rankings ").
		SetTitleAlign(tview.AlignLeft)
	rs.rankingTable.SetSelectable(true, false)
	rs.setupTableHeaders()

	rs.filterForm.SetBorder(true).
		SetTitle(" Search ").
		SetTitleAlign(tview.AlignLeft)
	rs.filterForm.AddInputField("Name:", "", 20, nil, func(text string) {
		rs.searchText = text
		rs.applyFilterAndSort()
		rs.updateDisplay()
	})

	rs.statisticsPanel.SetBorder(true).
		SetTitle(" Statistics ").
		SetTitleAlign(tview.AlignLeft)
	rs.statisticsPanel.SetDynamicColors(true)

	rs.statusBar.SetDynamicColors(true).SetTextAlign(tview.AlignLeft)
	rs.helpBar.SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[gray]S:Sort  O:Order  C:Clear  X:Export  Q:Back[white]")

	sidebar := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(rs.filterForm, 5, 0, false).
		AddItem(rs.statisticsPanel, 0, 1, false)

	main := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(rs.rankingTable, 0, 3, true).
		AddItem(sidebar, 36, 0, false)

	rs.container.SetDirection(tview.FlexRow).
		AddItem(main, 0, 1, true).
		AddItem(rs.statusBar, 1, 0, false).
		AddItem(rs.helpBar, 1, 0, false)
}

func (rs *RankingScreen) setupTableHeaders() {
	headers := []string{"Rank", "Name", "Rating", "W", "L"}
	for col, header := range headers {
		cell := tview.NewTableCell(header).
			SetTextColor(tcell.ColorYellow).
			SetAlign(tview.AlignCenter).
			SetSelectable(false).
			SetExpansion(1)
		if col == 1 {
			cell.SetExpansion(3)
		}
		rs.rankingTable.SetCell(0, col, cell)
	}
}

func (rs *RankingScreen) setupKeyBindings() {
	rs.rankingTable.SetInputCapture(rs.handleInput)
}

func (rs *RankingScreen) handleInput(event *tcell.EventKey) *tcell.EventKey {
	if event.Key() == tcell.KeyEsc {
		rs.goBack()
		return nil
	}

	switch event.Rune() {
	case 's', 'S':
		rs.cycleSortField()
	case 'o', 'O':
		rs.toggleSortOrder()
	case 'c', 'C':
		rs.clearFilter()
	case 'x', 'X':
		rs.export()
	case 'q', 'Q':
		rs.goBack()
	default:
		return event
	}
	return nil
}

// load reads final ratings when the tournament is over, live standings otherwise
func (rs *RankingScreen) load() {
	rs.rows = rs.rows[:0]
	descriptions := make(map[string]string)
	for _, c := range rs.ctrl.Candidates() {
		descriptions[c.Name] = c.Description
	}

	if final := rs.ctrl.FinalRatings(); len(final) > 0 {
		rs.final = true
		for _, r := range final {
			rs.rows = append(rs.rows, RankingRow{
				Rank:        r.Position + 1,
				Name:        r.Name,
				Description: descriptions[r.Name],
				Rating:      r.Rating,
				Wins:        r.Wins,
				Losses:      r.Losses,
			})
		}
		slices.SortStableFunc(rs.rows, func(a, b RankingRow) int { return cmp.Compare(a.Rank, b.Rank) })
		return
	}

	rs.final = false
	for i, c := range rs.ctrl.Standings() {
		rs.rows = append(rs.rows, RankingRow{
			Rank:        i + 1,
			Name:        c.Name,
			Description: c.Description,
			Rating:      c.Rating,
			Wins:        c.Wins,
			Losses:      c.Losses,
		})
	}
}

func (rs *RankingScreen) applyFilterAndSort() {
	search := strings.ToLower(strings.TrimSpace(rs.searchText))
	rs.filtered = rs.filtered[:0]
	for _, row := range rs.rows {
		if search == "" || strings.Contains(strings.ToLower(row.Name), search) {
			rs.filtered = append(rs.filtered, row)
		}
	}
	rs.sortRows()
}

func (rs *RankingScreen) sortRows() {
	slices.SortStableFunc(rs.filtered, func(a, b RankingRow) int {
		var c int
		switch rs.sortField {
		case SortByRating:
			c = cmp.Compare(b.Rating, a.Rating)
		case SortByName:
			c = strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		case SortByWins:
			c = cmp.Compare(b.Wins, a.Wins)
		default:
			c = cmp.Compare(a.Rank, b.Rank)
		}
		if rs.sortOrder == SortDesc {
			return -c
		}
		return c
	})
}

func (rs *RankingScreen) updateDisplay() {
	rs.rankingTable.Clear()
	rs.setupTableHeaders()
	for i, row := range rs.filtered {
		rs.addRow(i+1, row)
	}
	if len(rs.filtered) > 0 {
		rs.rankingTable.Select(1, 0)
	}

	rs.rankingTable.SetTitle(" " + rs.GetTitle() + " ")
	rs.updateStatistics()
	rs.statusBar.SetText(fmt.Sprintf("[blue]%d of %d names, sorted by %s[white]", len(rs.filtered), len(rs.rows), rs.sortField))
}

func (rs *RankingScreen) addRow(row int, r RankingRow) {
	rs.rankingTable.SetCell(row, 0, tview.NewTableCell(strconv.Itoa(r.Rank)).SetAlign(tview.AlignCenter))
	rs.rankingTable.SetCell(row, 1, tview.NewTableCell(r.Name).SetExpansion(3).SetTextColor(tcell.ColorWhite))
	rs.rankingTable.SetCell(row, 2, tview.NewTableCell(fmt.Sprintf("%.0f", r.Rating)).
		SetAlign(tview.AlignRight).
		SetTextColor(ratingColor(r.Rating)))
	rs.rankingTable.SetCell(row, 3, tview.NewTableCell(strconv.Itoa(r.Wins)).SetAlign(tview.AlignRight))
	rs.rankingTable.SetCell(row, 4, tview.NewTableCell(strconv.Itoa(r.Losses)).SetAlign(tview.AlignRight))
}

// ratingColor highlights names clearly above or below the starting rating
func ratingColor(rating float64) tcell.Color {
	switch {
	case rating >= 1600:
		return tcell.ColorGreen
	case rating >= 1400:
		return tcell.ColorYellow
	}
	return tcell.ColorRed
}

func (rs *RankingScreen) updateStatistics() {
	progress := rs.ctrl.Progress()
	var b strings.Builder
	fmt.Fprintf(&b, "Names: %d\n", len(rs.rows))
	fmt.Fprintf(&b, "Votes: %d of %d\n", progress.Completed, progress.Total)
	if len(rs.rows) > 0 {
		leader := rs.rows[0]
		for _, r := range rs.rows[1:] {
			if r.Rank < leader.Rank {
				leader = r
			}
		}
		fmt.Fprintf(&b, "Leader: [green]%s[-]\n", tview.Escape(leader.Name))
		if leader.Description != "" {
			fmt.Fprintf(&b, "[gray]%s[-]\n", tview.Escape(leader.Description))
		}
	}
	if rs.final {
		fmt.Fprintf(&b, "\n[green]Ranking is final[-]\n")
	} else if progress.Round > 0 {
		fmt.Fprintf(&b, "\n%s round in progress\n", humanize.Ordinal(progress.Round))
	}
	rs.statisticsPanel.SetText(b.String())
}

func (rs *RankingScreen) cycleSortField() {
	rs.sortField = (rs.sortField + 1) % (SortByWins + 1)
	rs.applyFilterAndSort()
	rs.updateDisplay()
}

func (rs *RankingScreen) toggleSortOrder() {
	if rs.sortOrder == SortAsc {
		rs.sortOrder = SortDesc
	} else {
		rs.sortOrder = SortAsc
	}
	rs.applyFilterAndSort()
	rs.updateDisplay()
}

func (rs *RankingScreen) clearFilter() {
	rs.searchText = ""
	if item, ok := rs.filterForm.GetFormItem(0).(*tview.InputField); ok {
		item.SetText("")
	}
	rs.applyFilterAndSort()
	rs.updateDisplay()
}

// export asks the host application to write the rankings to disk
func (rs *RankingScreen) export() {
	exporter, ok := rs.app.(interface{ ExportRankings() (string, error) })
	if !ok {
		rs.statusBar.SetText("[red]Export is not available[white]")
		return
	}
	path, err := exporter.ExportRankings()
	if err != nil {
		rs.statusBar.SetText(fmt.Sprintf("[red]Export failed: %v[white]", err))
		return
	}
	rs.statusBar.SetText(fmt.Sprintf("[green]Rankings exported to %s[white]", path))
}

func (rs *RankingScreen) goBack() {
	if nav, ok := rs.app.(interface{ ShowComparison() error }); ok {
		_ = nav.ShowComparison()
	}
}
