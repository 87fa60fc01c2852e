package tui

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// HelpScreen shows the keyboard shortcuts and how a tournament works
type HelpScreen struct {
	root     *tview.Flex
	textView *tview.TextView
	app      *App
}

// NewHelpScreen creates a new help screen
func NewHelpScreen() *HelpScreen {
	hs := &HelpScreen{
		root:     tview.NewFlex(),
		textView: tview.NewTextView(),
	}

	hs.setupLayout()
	return hs
}

// GetPrimitive returns the root primitive for this screen
func (hs *HelpScreen) GetPrimitive() tview.Primitive {
	return hs.root
}

// OnEnter is called when the help screen becomes active
func (hs *HelpScreen) OnEnter(app any) error {
	hs.app, _ = app.(*App)
	hs.textView.SetText(helpContent())
	hs.textView.ScrollToBeginning()
	return nil
}

// OnExit is called when leaving the help screen
func (hs *HelpScreen) OnExit(any) error {
	return nil
}

// GetTitle returns the screen title
func (hs *HelpScreen) GetTitle() string {
	return "Help"
}

// GetHelpText returns help text for this screen
func (hs *HelpScreen) GetHelpText() []string {
	return []string{
		"Press ESC or q to go back",
		"Use arrow keys to scroll",
	}
}

func (hs *HelpScreen) setupLayout() {
	hs.textView.
		SetBorder(true).
		SetTitle("Help - Cat Name Tournament").
		SetTitleAlign(tview.AlignCenter)

	hs.textView.SetWrap(true).
		SetDynamicColors(true).
		SetScrollable(true)

	hs.textView.SetInputCapture(hs.handleInput)
	hs.root.AddItem(hs.textView, 0, 1, true)
}

func (hs *HelpScreen) handleInput(event *tcell.EventKey) *tcell.EventKey {
	back := event.Key() == tcell.KeyEsc ||
		(event.Key() == tcell.KeyRune && (event.Rune() == 'q' || event.Rune() == 'Q'))
	if !back {
		return event
	}
	if hs.app != nil {
		_ = hs.app.GoBack()
	}
	return nil
}

func helpContent() string {
	var content strings.Builder

	content.WriteString("[yellow]Cat Name Tournament[-]\n\n")
	content.WriteString("Two names are shown at a time. Pick the one you like more and the\n")
	content.WriteString("ratings adjust. Names that are close in rating or rarely seen are\n")
	content.WriteString("shown first, so a full ranking needs far fewer votes than every pair.\n\n")

	content.WriteString("[green]Voting[-]\n")
	content.WriteString("══════\n")
	content.WriteString("[white]← or h[-]  - left name wins\n")
	content.WriteString("[white]→ or l[-]  - right name wins\n")
	content.WriteString("[white]↑ or k[-]  - like both\n")
	content.WriteString("[white]↓ or j[-]  - like neither\n")
	content.WriteString("[white]u[-]       - undo the last vote, shortly after casting it\n")
	content.WriteString("[white]e[-]       - end the tournament now and rank what is known\n")

	content.WriteString("\n[green]Global Keyboard Shortcuts[-]\n")
	content.WriteString("═════════════════════════\n")
	for _, binding := range globalKeyBindings {
		content.WriteString("[white]")
		content.WriteString(keyLabel(binding))
		content.WriteString("[-]  - ")
		content.WriteString(binding.Description)
		content.WriteString("\n")
	}

	content.WriteString("\n[green]Rankings[-]\n")
	content.WriteString("════════\n")
	content.WriteString("[white]s[-] sort field  [white]o[-] sort order  [white]c[-] clear filter  [white]x[-] export  [white]q[-] back\n")

	content.WriteString("\n[green]Tips[-]\n")
	content.WriteString("════\n")
	content.WriteString("• Votes typed too quickly are ignored, so a double press counts once\n")
	content.WriteString("• Progress is saved after every vote; start again with the same names to resume\n")
	content.WriteString("• Final ratings carry over to your next tournament with these names\n")
	content.WriteString("• Every vote is written to the audit journal\n")

	return content.String()
}
