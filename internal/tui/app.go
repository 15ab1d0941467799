// Package tui provides the interactive terminal monitor for the feeder daemon.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/petfeeder/internal/models"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")
	cyanColor      = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

type mode int

const (
	modeList mode = iota
	modeDetail
	modeScheduler
)

// listLimit caps how many commands one refresh pulls.
const listLimit = 200

// Options configures the monitor.
type Options struct {
	// DeviceID limits the list to one device.
	DeviceID string
	// Account is shown in the header when set.
	Account string
	// Refresh is the poll interval. Zero means DefaultRefresh.
	Refresh time.Duration
}

// App is the main TUI application model.
type App struct {
	api         API
	opts        Options
	list        *CommandListModel
	detail      *CommandDetailModel
	cmdbar      *CmdBarModel
	suggestions *Suggestions
	mode        mode
	width       int
	height      int
	message     string
	online      bool
	stats       map[string]any
}

// New creates a new TUI application.
func New(api API, opts Options) *App {
	if opts.Refresh <= 0 {
		opts.Refresh = DefaultRefresh
	}
	return &App{
		api:         api,
		opts:        opts,
		list:        NewCommandListModel(opts.DeviceID),
		detail:      NewCommandDetailModel(),
		cmdbar:      NewCmdBarModel(),
		suggestions: NewSuggestions(),
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		a.fetchCommands(),
		a.checkDaemon(),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if a.cmdbar.Focused() {
			return a, a.updateCmdBar(msg)
		}
		return a, a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		content := max(msg.Height-6, 5)
		a.list.SetSize(msg.Width, content)
		a.detail.SetSize(msg.Width, content)
		a.cmdbar.SetWidth(msg.Width - 6)
		return a, nil

	case commandsLoadedMsg:
		a.suggestions.SetDevices(deviceIDs(msg.commands))
		return a, a.list.SetCommands(msg.commands)

	case detailLoadedMsg:
		a.detail.SetCommand(msg.command, msg.decisions)
		return a, nil

	case statsLoadedMsg:
		a.stats = msg.stats
		return a, nil

	case daemonStatusMsg:
		a.online = msg.online
		return a, nil

	case tickMsg:
		cmds := []tea.Cmd{a.checkDaemon(), a.tickCmd()}
		switch a.mode {
		case modeList:
			cmds = append(cmds, a.fetchCommands())
		case modeDetail:
			cmds = append(cmds, a.fetchDetail(a.detail.CommandID()))
		case modeScheduler:
			cmds = append(cmds, a.fetchStats())
		}
		return a, tea.Batch(cmds...)

	case cmdResultMsg:
		a.message = msg.message
		return a, a.refresh()

	case errMsg:
		a.message = "Error: " + msg.err.Error()
		return a, nil
	}

	return a, a.forward(msg)
}

func (a *App) handleKey(msg tea.KeyMsg) tea.Cmd {
	if a.mode == modeList && a.list.Filtering() {
		return a.list.Update(msg)
	}

	switch msg.String() {
	case "ctrl+c", "q":
		return tea.Quit

	case ":":
		a.message = ""
		return a.cmdbar.Focus()

	case "esc":
		if a.mode != modeList {
			a.mode = modeList
			a.detail.Clear()
			return a.fetchCommands()
		}

	case "r":
		return a.refresh()

	case "s":
		a.mode = modeScheduler
		return a.fetchStats()

	case "tab":
		if a.mode == modeList {
			a.list.CycleFilter()
			return a.fetchCommands()
		}

	case "enter":
		if a.mode == modeList {
			if sel := a.list.Selected(); sel != nil {
				a.mode = modeDetail
				a.detail.Clear()
				return a.fetchDetail(sel.ID)
			}
			return nil
		}

	case "c":
		if id := a.selectedID(); id != "" {
			api := a.api
			return func() tea.Msg {
				ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
				defer cancel()
				return cancelCommand(ctx, api, id)
			}
		}
		return nil
	}

	return a.forward(msg)
}

func (a *App) updateCmdBar(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c":
		return tea.Quit
	case "esc":
		a.cmdbar.Blur()
		a.suggestions.Update("")
		return nil
	case "up":
		a.suggestions.Prev()
		return nil
	case "down":
		a.suggestions.Next()
		return nil
	case "tab":
		if v, ok := a.suggestions.Complete(); ok {
			a.cmdbar.SetValue(v)
			a.suggestions.Update(v)
		}
		return nil
	case "enter":
		input := a.cmdbar.Submit()
		a.suggestions.Update("")
		return a.cmdbar.Execute(a.api, input, a.selectedID)
	}

	cmd := a.cmdbar.Update(msg)
	a.suggestions.Update(a.cmdbar.Value())
	return cmd
}

func (a *App) forward(msg tea.Msg) tea.Cmd {
	switch a.mode {
	case modeList:
		return a.list.Update(msg)
	case modeDetail:
		return a.detail.Update(msg)
	}
	return nil
}

func (a *App) selectedID() string {
	if a.mode == modeDetail {
		return a.detail.CommandID()
	}
	if sel := a.list.Selected(); sel != nil {
		return sel.ID
	}
	return ""
}

func (a *App) refresh() tea.Cmd {
	switch a.mode {
	case modeDetail:
		return a.fetchDetail(a.detail.CommandID())
	case modeScheduler:
		return a.fetchStats()
	}
	return a.fetchCommands()
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemon := onlineStyle.Render("● DAEMON")
	if !a.online {
		daemon = offlineStyle.Render("○ DAEMON")
	}
	header := titleStyle.Render("Pet Feeder") + "  " + daemon
	if a.opts.Account != "" {
		header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(a.opts.Account)
	}
	b.WriteString(header + "\n")

	switch a.mode {
	case modeList:
		b.WriteString(a.list.View())
	case modeDetail:
		b.WriteString(a.detail.View())
	case modeScheduler:
		b.WriteString(a.renderScheduler())
	}
	b.WriteString("\n")

	if a.message != "" {
		style := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			style = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString(style.Render(a.message) + "\n")
	}

	b.WriteString(a.cmdbar.View())
	if a.suggestions.IsVisible() {
		b.WriteString("\n" + a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	var status string
	switch a.mode {
	case modeList:
		status = fmt.Sprintf(" Commands: %d | Enter:detail | Tab:filter | c:cancel | s:scheduler | r:refresh | q:quit", a.list.Len())
	case modeDetail:
		status = " ↑↓:scroll | c:cancel | r:refresh | Esc:back"
	default:
		status = " r:refresh | Esc:back"
	}
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}

func (a *App) renderScheduler() string {
	var b strings.Builder

	b.WriteString("\n  Scheduler\n")
	b.WriteString("  " + strings.Repeat("─", 40) + "\n\n")

	if a.stats == nil {
		b.WriteString("  Loading...\n")
		return b.String()
	}

	keys := make([]string, 0, len(a.stats))
	for k := range a.stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("  %s %v\n", labelStyle.Render(fmt.Sprintf("%-12s", k)), a.stats[k]))
	}

	b.WriteString("\n  " + helpStyle.Render("Press Esc to go back") + "\n")
	return b.String()
}

func (a *App) fetchCommands() tea.Cmd {
	api, device, status := a.api, a.opts.DeviceID, a.list.Filter()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		cmds, err := api.ListCommands(ctx, device, status, listLimit)
		if err != nil {
			return errMsg{err}
		}
		return commandsLoadedMsg{cmds}
	}
}

func (a *App) fetchDetail(id string) tea.Cmd {
	if id == "" {
		return nil
	}
	api := a.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		cmd, err := api.GetCommand(ctx, id, 0)
		if err != nil {
			return errMsg{err}
		}
		decisions, err := api.Decisions(ctx, id)
		if err != nil {
			return errMsg{err}
		}
		return detailLoadedMsg{*cmd, decisions}
	}
}

func (a *App) fetchStats() tea.Cmd {
	api := a.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		stats, err := api.SchedulerStats(ctx)
		if err != nil {
			return errMsg{err}
		}
		return statsLoadedMsg{stats}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	api := a.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		_, err := api.Health(ctx)
		return daemonStatusMsg{online: err == nil}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(a.opts.Refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func deviceIDs(cmds []models.Command) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, c := range cmds {
		if !seen[c.DeviceID] {
			seen[c.DeviceID] = true
			ids = append(ids, c.DeviceID)
		}
	}
	return ids
}

type errMsg struct {
	err error
}

type commandsLoadedMsg struct {
	commands []models.Command
}

type detailLoadedMsg struct {
	command   models.Command
	decisions []models.PDREntry
}

type statsLoadedMsg struct {
	stats map[string]any
}

type daemonStatusMsg struct {
	online bool
}

type tickMsg time.Time
