// Package tui provides the terminal user interface of the cat name tournament.
// It implements the main application structure with screen management,
// global keyboard shortcuts and the help system.
package tui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rivo/tview"

	"github.com/pashagolub/catelo/pkg/journal"
	"github.com/pashagolub/catelo/pkg/tournament"
	"github.com/pashagolub/catelo/pkg/tui/screens"
)

// ScreenType represents different screens in the TUI application
type ScreenType int

const (
	ScreenComparison ScreenType = iota
	ScreenRanking
	ScreenHelp
)

// String returns the string representation of ScreenType
func (s ScreenType) String() string {
	switch s {
	case ScreenComparison:
		return "comparison"
	case ScreenRanking:
		return "ranking"
	case ScreenHelp:
		return "help"
	default:
		return "unknown"
	}
}

// Screen interface defines the contract for all TUI screens
type Screen interface {
	// GetPrimitive returns the tview.Primitive for this screen
	GetPrimitive() tview.Primitive

	// OnEnter is called when the screen becomes active
	OnEnter(app any) error

	// OnExit is called when leaving the screen
	OnExit(app any) error

	// GetTitle returns the screen title for display
	GetTitle() string
}

// Options configures an App
type Options struct {
	ExportDir    string               // Directory for ranking exports, "." when empty
	ExportFormat journal.ExportFormat // csv when empty
	Clock        clockwork.Clock      // nil means the real clock
}

// AppState represents the current application state
type AppState struct {
	mu             sync.RWMutex
	currentScreen  ScreenType
	previousScreen ScreenType
	isRunning      bool
	lastExportTime *time.Time
	lastExportPath string
}

// App represents the main TUI application
type App struct {
	tviewApp *tview.Application
	pages    *tview.Pages
	header   *tview.TextView
	footer   *tview.TextView
	ctrl     *tournament.Controller
	exporter *journal.Exporter
	options  Options
	state    *AppState
	screens  map[ScreenType]Screen
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.RWMutex
}

// KeyBinding represents a keyboard shortcut
type KeyBinding struct {
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func(app *App) error
}

// Global key bindings available across all screens. Arrows and the u, e, h,
// j, k and l keys belong to the match screen.
var globalKeyBindings = []KeyBinding{
	{Key: tcell.KeyCtrlC, Description: "Exit", Handler: (*App).Exit},
	{Key: tcell.KeyRune, Rune: 'r', Description: "Rankings", Handler: (*App).ShowRanking},
	{Key: tcell.KeyRune, Rune: 'm', Description: "Match", Handler: (*App).ShowComparison},
	{Key: tcell.KeyRune, Rune: '?', Description: "Help", Handler: (*App).ShowHelp},
}

// NewApp creates the application for ctrl and registers the match, ranking
// and help screens.
func NewApp(ctx context.Context, ctrl *tournament.Controller, opts Options) (*App, error) {
	if ctrl == nil {
		return nil, errors.New("controller cannot be nil")
	}
	if opts.ExportDir == "" {
		opts.ExportDir = "."
	}
	if opts.ExportFormat == "" {
		opts.ExportFormat = journal.FormatCSV
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	ctx, cancel := context.WithCancel(ctx)
	app := &App{
		tviewApp: tview.NewApplication(),
		pages:    tview.NewPages(),
		header:   tview.NewTextView(),
		footer:   tview.NewTextView(),
		ctrl:     ctrl,
		exporter: journal.NewExporter(),
		options:  opts,
		state:    &AppState{currentScreen: ScreenComparison},
		screens:  make(map[ScreenType]Screen),
		ctx:      ctx,
		cancel:   cancel,
	}

	app.setupUI()

	for screenType, screen := range map[ScreenType]Screen{
		ScreenComparison: screens.NewComparisonScreen(ctx, ctrl),
		ScreenRanking:    screens.NewRankingScreen(ctrl),
		ScreenHelp:       NewHelpScreen(),
	} {
		if err := app.RegisterScreen(screenType, screen); err != nil {
			cancel()
			return nil, err
		}
	}
	return app, nil
}

func (a *App) setupUI() {
	a.header.SetBorder(true).
		SetTitle("Cat Name Tournament").
		SetTitleAlign(tview.AlignCenter).
		SetBackgroundColor(tcell.ColorDarkBlue)
	a.header.SetTextColor(tcell.ColorWhite)

	a.footer.SetBorder(true).
		SetTitle("Keyboard Shortcuts").
		SetTitleAlign(tview.AlignCenter).
		SetBackgroundColor(tcell.ColorDarkGreen)
	a.footer.SetTextColor(tcell.ColorWhite)
	a.footer.SetText(footerText())

	mainLayout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.header, 3, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.footer, 3, 0, false)

	// application level capture sees Ctrl-C before tview stops on it
	a.tviewApp.SetInputCapture(a.handleGlobalInput)
	a.tviewApp.SetRoot(mainLayout, true)
	a.tviewApp.SetBeforeDrawFunc(func(tcell.Screen) bool {
		a.updateHeader()
		return false
	})
}

// RegisterScreen registers a screen with the application
func (a *App) RegisterScreen(screenType ScreenType, screen Screen) error {
	if screen == nil {
		return fmt.Errorf("screen cannot be nil")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.screens[screenType] = screen
	a.pages.AddPage(screenType.String(), screen.GetPrimitive(), true, false)
	return nil
}

// NavigateTo switches to the specified screen
func (a *App) NavigateTo(screenType ScreenType) error {
	a.mu.RLock()
	screen, exists := a.screens[screenType]
	a.mu.RUnlock()
	if !exists {
		return fmt.Errorf("screen %s not registered", screenType)
	}

	a.state.mu.RLock()
	from := a.state.currentScreen
	a.state.mu.RUnlock()

	a.mu.RLock()
	current, hasCurrent := a.screens[from]
	a.mu.RUnlock()

	// screens call back into the app, so no lock is held around OnExit/OnEnter
	if hasCurrent && from != screenType {
		if err := current.OnExit(a); err != nil {
			return fmt.Errorf("failed to exit screen %s: %w", from, err)
		}
	}
	if err := screen.OnEnter(a); err != nil {
		return fmt.Errorf("failed to enter screen %s: %w", screenType, err)
	}

	a.state.mu.Lock()
	if from != screenType {
		a.state.previousScreen = from
	}
	a.state.currentScreen = screenType
	a.state.mu.Unlock()

	a.pages.SwitchToPage(screenType.String())
	return nil
}

// GoBack returns to the previous screen
func (a *App) GoBack() error {
	a.state.mu.RLock()
	previous := a.state.previousScreen
	a.state.mu.RUnlock()
	return a.NavigateTo(previous)
}

// ShowRanking displays the ranking screen
func (a *App) ShowRanking() error {
	return a.NavigateTo(ScreenRanking)
}

// ShowComparison displays the match screen
func (a *App) ShowComparison() error {
	return a.NavigateTo(ScreenComparison)
}

// ShowHelp displays the help screen
func (a *App) ShowHelp() error {
	return a.NavigateTo(ScreenHelp)
}

// ExportRankings writes the current ranking to the export directory and
// returns the file path. Before completion the live ratings are exported.
func (a *App) ExportRankings() (string, error) {
	snapshot := a.ctrl.Snapshot()
	if len(snapshot.Candidates) == 0 {
		return "", journal.ErrNothingToExport
	}

	now := a.options.Clock.Now()
	report := journal.NewReport(snapshot, now)
	path := filepath.Join(a.options.ExportDir, exportFileName(a.ctrl.Key(), a.options.ExportFormat))
	opts := journal.ExportOptions{Format: a.options.ExportFormat, IncludeStats: true}
	if err := a.exporter.ExportToFile(report, path, opts); err != nil {
		return "", err
	}

	a.state.mu.Lock()
	a.state.lastExportTime = &now
	a.state.lastExportPath = path
	a.state.mu.Unlock()
	return path, nil
}

func exportFileName(key string, format journal.ExportFormat) string {
	ext := "txt"
	switch format {
	case journal.FormatCSV:
		ext = "csv"
	case journal.FormatJSON:
		ext = "json"
	}
	if len(key) > 8 {
		key = key[:8]
	}
	return fmt.Sprintf("rankings-%s.%s", key, ext)
}

// Exit stops the application
func (a *App) Exit() error {
	a.state.mu.Lock()
	defer a.state.mu.Unlock()

	a.state.isRunning = false
	a.cancel()
	a.tviewApp.Stop()
	return nil
}

// Run starts on the match screen, or the ranking when the tournament is
// already decided, and blocks until the application stops.
func (a *App) Run() error {
	a.state.mu.Lock()
	a.state.isRunning = true
	a.state.mu.Unlock()

	first := ScreenComparison
	if len(a.ctrl.FinalRatings()) > 0 {
		first = ScreenRanking
	}
	if err := a.NavigateTo(first); err != nil {
		return fmt.Errorf("failed to open %s screen: %w", first, err)
	}
	return a.tviewApp.Run()
}

// Stop gracefully stops the application
func (a *App) Stop() {
	if a.IsRunning() {
		_ = a.Exit()
	}
}

// IsRunning returns whether the application is currently running
func (a *App) IsRunning() bool {
	a.state.mu.RLock()
	defer a.state.mu.RUnlock()
	return a.state.isRunning
}

// GetCurrentScreen returns the current screen type
func (a *App) GetCurrentScreen() ScreenType {
	a.state.mu.RLock()
	defer a.state.mu.RUnlock()
	return a.state.currentScreen
}

// GetController returns the tournament shown by the application
func (a *App) GetController() *tournament.Controller {
	return a.ctrl
}

// GetTViewApp returns the underlying tview application for advanced usage
func (a *App) GetTViewApp() *tview.Application {
	return a.tviewApp
}

// handleGlobalInput runs global shortcuts. Keys typed into an input field
// are left alone.
func (a *App) handleGlobalInput(event *tcell.EventKey) *tcell.EventKey {
	if _, typing := a.tviewApp.GetFocus().(*tview.InputField); typing && event.Key() == tcell.KeyRune {
		return event
	}

	for _, binding := range globalKeyBindings {
		if (binding.Key != tcell.KeyRune && event.Key() == binding.Key) ||
			(binding.Key == tcell.KeyRune && event.Key() == tcell.KeyRune && event.Rune() == binding.Rune) {
			if err := binding.Handler(a); err != nil {
				a.showErrorDialog("Error", err.Error())
			}
			return nil
		}
	}
	return event
}

// updateHeader shows the screen, session and export state
func (a *App) updateHeader() {
	a.header.SetText(a.headerText())
}

func (a *App) headerText() string {
	a.state.mu.RLock()
	current := a.state.currentScreen
	lastExport := a.state.lastExportTime
	a.state.mu.RUnlock()

	a.mu.RLock()
	screen, exists := a.screens[current]
	a.mu.RUnlock()

	title := current.String()
	if exists {
		title = screen.GetTitle()
	}

	session := fmt.Sprintf("Session: %s (%s)", shortKey(a.ctrl.Key()), a.ctrl.State())
	progress := a.ctrl.Progress()
	if progress.Total > 0 {
		session += fmt.Sprintf(" | %d of %d votes", progress.Completed, progress.Total)
	}

	exportStatus := "Not exported yet"
	if lastExport != nil {
		exportStatus = "Last exported " + humanize.RelTime(*lastExport, a.options.Clock.Now(), "ago", "from now")
	}
	return fmt.Sprintf("Screen: %s | %s | %s", title, session, exportStatus)
}

func shortKey(key string) string {
	if key == "" {
		return "none"
	}
	if len(key) > 8 {
		return key[:8]
	}
	return key
}

// showErrorDialog displays an error message in a modal dialog
func (a *App) showErrorDialog(title, message string) {
	modal := tview.NewModal().
		SetText(message).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(int, string) {
			a.pages.RemovePage("error-dialog")
		})

	modal.SetTitle(title).
		SetBorder(true).
		SetBackgroundColor(tcell.ColorDarkRed)

	a.pages.AddPage("error-dialog", modal, true, true)
}

// keyLabel is the display form of a binding's key
func keyLabel(binding KeyBinding) string {
	if binding.Key != tcell.KeyRune {
		return tcell.KeyNames[binding.Key]
	}
	return string(binding.Rune)
}

func footerText() string {
	text := ""
	for i, binding := range globalKeyBindings {
		if i > 0 {
			text += " | "
		}
		text += fmt.Sprintf("%s: %s", keyLabel(binding), binding.Description)
	}
	return text
}
