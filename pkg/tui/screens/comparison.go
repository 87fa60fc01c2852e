// Package screens provides the TUI screens of the cat name tournament.
// This file implements the match screen where two names are voted on.
package screens

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/pashagolub/catelo/pkg/data"
	"github.com/pashagolub/catelo/pkg/elo"
	"github.com/pashagolub/catelo/pkg/tournament"
	"github.com/pashagolub/catelo/pkg/tui/components"
)

// Action is what a key press asks the match screen to do
type Action int

const (
	ActionNone Action = iota
	ActionVote
	ActionUndo
	ActionEndEarly
)

// KeyCommand is the decoded form of a key press
type KeyCommand struct {
	Action  Action
	Outcome elo.Outcome // set for ActionVote
}

// CommandForKey maps a key to a match command. Arrows carry the vote:
// left and right pick a side, up likes both, down likes neither. The vi
// keys h, l, k and j do the same.
func CommandForKey(event *tcell.EventKey) KeyCommand {
	switch event.Key() {
	case tcell.KeyLeft:
		return KeyCommand{Action: ActionVote, Outcome: elo.AWins}
	case tcell.KeyRight:
		return KeyCommand{Action: ActionVote, Outcome: elo.BWins}
	case tcell.KeyUp:
		return KeyCommand{Action: ActionVote, Outcome: elo.BothWin}
	case tcell.KeyDown:
		return KeyCommand{Action: ActionVote, Outcome: elo.Neither}
	case tcell.KeyRune:
	default:
		return KeyCommand{}
	}

	switch unicode.ToLower(event.Rune()) {
	case 'h':
		return KeyCommand{Action: ActionVote, Outcome: elo.AWins}
	case 'l':
		return KeyCommand{Action: ActionVote, Outcome: elo.BWins}
	case 'k':
		return KeyCommand{Action: ActionVote, Outcome: elo.BothWin}
	case 'j':
		return KeyCommand{Action: ActionVote, Outcome: elo.Neither}
	case 'u':
		return KeyCommand{Action: ActionUndo}
	case 'e':
		return KeyCommand{Action: ActionEndEarly}
	}
	return KeyCommand{}
}

// ComparisonScreen shows the current match and turns key presses into votes
type ComparisonScreen struct {
	container    *tview.Flex
	leftCard     *tview.TextView
	rightCard    *tview.TextView
	controlPanel *tview.TextView
	statusBar    *tview.TextView
	progress     *components.Progress

	ctx    context.Context
	ctrl   *tournament.Controller
	status string

	app any
}

// NewComparisonScreen creates the match screen for ctrl
func NewComparisonScreen(ctx context.Context, ctrl *tournament.Controller) *ComparisonScreen {
	cs := &ComparisonScreen{
		container:    tview.NewFlex(),
		leftCard:     tview.NewTextView(),
		rightCard:    tview.NewTextView(),
		controlPanel: tview.NewTextView(),
		statusBar:    tview.NewTextView(),
		progress:     components.NewProgress(components.DefaultProgressConfig()),
		ctx:          ctx,
		ctrl:         ctrl,
	}

	cs.setupUI()
	return cs
}

func (cs *ComparisonScreen) setupUI() {
	for _, card := range []*tview.TextView{cs.leftCard, cs.rightCard} {
		card.SetBorder(true).SetBorderColor(tcell.ColorBlue)
		card.SetDynamicColors(true).SetWordWrap(true).SetTextAlign(tview.AlignCenter)
	}
	cs.leftCard.SetTitle(" ← Left ")
	cs.rightCard.SetTitle(" Right → ")

	cs.controlPanel.SetBorder(true).SetTitle("Keys")
	cs.controlPanel.SetDynamicColors(true)
	cs.controlPanel.SetText(strings.Join([]string{
		"[yellow]←[-] left wins",
		"[yellow]→[-] right wins",
		"[yellow]↑[-] like both",
		"[yellow]↓[-] like neither",
		"[yellow]u[-] undo last vote",
		"[yellow]e[-] end early",
	}, "\n"))

	cs.statusBar.SetBorder(true).SetTitle("Status")
	cs.statusBar.SetDynamicColors(true)

	cards := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(cs.leftCard, 0, 1, true).
		AddItem(cs.rightCard, 0, 1, false)

	side := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(cs.progress.GetContainer(), 0, 1, false).
		AddItem(cs.controlPanel, 8, 0, false)

	main := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(cards, 0, 1, true).
		AddItem(cs.statusBar, 3, 0, false)

	cs.container.SetDirection(tview.FlexColumn).
		AddItem(main, 0, 3, true).
		AddItem(side, 0, 1, false)
	cs.container.SetInputCapture(cs.handleInput)
}

// GetPrimitive returns the root primitive for this screen
func (cs *ComparisonScreen) GetPrimitive() tview.Primitive {
	return cs.container
}

// OnEnter is called when the screen becomes active
func (cs *ComparisonScreen) OnEnter(app any) error {
	cs.app = app
	if cs.ctrl == nil {
		return fmt.Errorf("no tournament to show")
	}
	cs.refresh()
	return nil
}

// OnExit is called when leaving the screen
func (cs *ComparisonScreen) OnExit(app any) error {
	return nil
}

// GetTitle returns the screen title
func (cs *ComparisonScreen) GetTitle() string {
	return "Match"
}

// GetHelpText returns help text for this screen
func (cs *ComparisonScreen) GetHelpText() []string {
	return []string{
		"←/h: left wins  →/l: right wins",
		"↑/k: both  ↓/j: neither",
		"u: undo  e: end early",
	}
}

func (cs *ComparisonScreen) handleInput(event *tcell.EventKey) *tcell.EventKey {
	cmd := CommandForKey(event)
	if cmd.Action == ActionNone {
		return event
	}
	cs.execute(cmd)
	return nil
}

func (cs *ComparisonScreen) execute(cmd KeyCommand) {
	switch cmd.Action {
	case ActionVote:
		match, _ := cs.ctrl.CurrentMatch()
		switch {
		case cs.ctrl.Vote(cs.ctx, cmd.Outcome):
			cs.status = voteStatus(match, cmd.Outcome)
		case cs.ctrl.State() != data.StatusInProgress:
			cs.status = "[red]No match is waiting for a vote[-]"
		case cs.ctrl.Locked():
			cs.status = "[gray]Too fast, vote ignored[-]"
		}
	case ActionUndo:
		if cs.ctrl.Undo(cs.ctx) {
			cs.status = "Last vote undone"
		} else {
			cs.status = "[gray]Nothing to undo[-]"
		}
	case ActionEndEarly:
		if cs.ctrl.EndEarly(cs.ctx) {
			cs.status = "Tournament ended early"
		}
	}

	cs.refresh()
	if cs.ctrl.State() == data.StatusComplete {
		if nav, ok := cs.app.(interface{ ShowRanking() error }); ok {
			_ = nav.ShowRanking()
		}
	}
}

func voteStatus(match tournament.Match, outcome elo.Outcome) string {
	switch outcome {
	case elo.AWins:
		return fmt.Sprintf("[green]%s[-] over %s", match.Left.Name, match.Right.Name)
	case elo.BWins:
		return fmt.Sprintf("[green]%s[-] over %s", match.Right.Name, match.Left.Name)
	case elo.BothWin:
		return fmt.Sprintf("Liked both %s and %s", match.Left.Name, match.Right.Name)
	}
	return fmt.Sprintf("Liked neither %s nor %s", match.Left.Name, match.Right.Name)
}

// refresh redraws the cards and progress from the controller
func (cs *ComparisonScreen) refresh() {
	cs.progress.Update(cs.ctrl.Progress())

	if match, ok := cs.ctrl.CurrentMatch(); ok {
		cs.leftCard.SetText(formatCandidate(match.Left))
		cs.rightCard.SetText(formatCandidate(match.Right))
	} else {
		text := "[gray]No match[-]"
		if cs.ctrl.State() == data.StatusComplete {
			text = "[green]Tournament complete[-]"
		}
		cs.leftCard.SetText(text)
		cs.rightCard.SetText(text)
	}

	status := cs.status
	if cs.ctrl.IsError() {
		status = "[red]" + tview.Escape(cs.ctrl.LastError().Error()) + "[-]"
	} else if cs.ctrl.CanUndo() {
		status += "  [gray](u to undo)[-]"
	}
	cs.statusBar.SetText(status)
}

func formatCandidate(c data.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n[yellow::b]%s[-::-]\n\n", tview.Escape(c.Name))
	if c.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", tview.Escape(c.Description))
	}
	fmt.Fprintf(&b, "[gray]%.0f  %dW %dL[-]", c.Rating, c.Wins, c.Losses)
	return b.String()
}
