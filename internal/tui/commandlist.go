package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/petfeeder/internal/models"
)

var (
	listTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	statusPending   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // Yellow
	statusDelivered = lipgloss.NewStyle().Foreground(lipgloss.Color("6")) // Cyan
	statusExecuted  = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // Green
	statusCancelled = lipgloss.NewStyle().Foreground(lipgloss.Color("8")) // Grey
	statusFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // Red
)

// CommandItem implements list.Item for the command list
type CommandItem struct {
	models.Command
}

func (i CommandItem) FilterValue() string { return i.DeviceID + " " + string(i.Kind) }

func (i CommandItem) Title() string {
	label := string(i.Kind)
	if i.Kind == models.CommandFeed {
		if p, err := i.FeedPayload(); err == nil && p.TargetGrams > 0 {
			label = fmt.Sprintf("FEED %dg", p.TargetGrams)
		}
	}
	return fmt.Sprintf("%s → %s", label, i.DeviceID)
}

func (i CommandItem) Description() string {
	desc := fmt.Sprintf("%s • %s • %s", formatStatus(i.Status), shortID(i.ID), i.CreatedAt.Local().Format(time.DateTime))
	if i.ErrorMessage != "" {
		desc += " • " + i.ErrorMessage
	}
	return desc
}

func formatStatus(status models.CommandStatus) string {
	switch status {
	case models.StatusPending:
		return statusPending.Render("● pending")
	case models.StatusDelivered:
		return statusDelivered.Render("● delivered")
	case models.StatusExecuted:
		return statusExecuted.Render("● executed")
	case models.StatusCancelled:
		return statusCancelled.Render("● cancelled")
	case models.StatusFailed:
		return statusFailed.Render("● failed")
	default:
		return string(status)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var filters = []models.CommandStatus{"", models.StatusPending, models.StatusDelivered, models.StatusExecuted, models.StatusFailed, models.StatusCancelled}
var filterLabels = []string{"all", "pending", "delivered", "executed", "failed", "cancelled"}

// CommandListModel manages the command list screen
type CommandListModel struct {
	list        list.Model
	commands    []models.Command
	deviceID    string
	filterIndex int
	loaded      bool
}

// NewCommandListModel creates a list, optionally limited to one device.
func NewCommandListModel(deviceID string) *CommandListModel {
	l := list.New([]list.Item{}, list.NewDefaultDelegate(), 80, 20)
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.DisableQuitKeybindings()
	l.Styles.Title = listTitleStyle
	m := &CommandListModel{list: l, deviceID: deviceID}
	m.setTitle()
	return m
}

func (m *CommandListModel) setTitle() {
	title := fmt.Sprintf("Commands [%s]", filterLabels[m.filterIndex])
	if m.deviceID != "" {
		title += " " + m.deviceID
	}
	m.list.Title = title
}

// SetSize sets the list dimensions
func (m *CommandListModel) SetSize(w, h int) {
	m.list.SetSize(w, h)
}

// Filter returns the status the list is narrowed to.
func (m *CommandListModel) Filter() models.CommandStatus {
	return filters[m.filterIndex]
}

// CycleFilter cycles through status filters
func (m *CommandListModel) CycleFilter() {
	m.filterIndex = (m.filterIndex + 1) % len(filters)
	m.setTitle()
}

// Filtering reports whether the list's own filter input has focus.
func (m *CommandListModel) Filtering() bool {
	return m.list.FilterState() == list.Filtering
}

// Selected returns the highlighted command.
func (m *CommandListModel) Selected() *models.Command {
	if item, ok := m.list.SelectedItem().(CommandItem); ok {
		cmd := item.Command
		return &cmd
	}
	return nil
}

// SetCommands replaces the list content, keeping the cursor where possible.
func (m *CommandListModel) SetCommands(cmds []models.Command) tea.Cmd {
	m.loaded = true
	m.commands = cmds
	items := make([]list.Item, len(cmds))
	for i, c := range cmds {
		items[i] = CommandItem{c}
	}
	return m.list.SetItems(items)
}

// Len returns the number of commands shown.
func (m *CommandListModel) Len() int { return len(m.commands) }

// Update handles messages
func (m *CommandListModel) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return cmd
}

// View renders the command list
func (m *CommandListModel) View() string {
	if !m.loaded {
		return "Loading commands..."
	}
	return m.list.View()
}
