package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// commandTimeout bounds a single command bar request.
const commandTimeout = 10 * time.Second

var (
	cmdBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)
)

// CmdBarModel manages the command input bar
type CmdBarModel struct {
	input   textinput.Model
	focused bool
}

// NewCmdBarModel creates a new command bar
func NewCmdBarModel() *CmdBarModel {
	ti := textinput.New()
	ti.Placeholder = "feed <device> <grams> [pet] | pause <device> | resume <device> | cancel [id]"
	ti.CharLimit = 256
	return &CmdBarModel{
		input: ti,
	}
}

// Focused reports whether the bar has keyboard focus.
func (m *CmdBarModel) Focused() bool {
	return m.focused
}

// Focus focuses the command bar
func (m *CmdBarModel) Focus() tea.Cmd {
	m.focused = true
	return m.input.Focus()
}

// Blur unfocuses the command bar
func (m *CmdBarModel) Blur() {
	m.focused = false
	m.input.Blur()
	m.input.SetValue("")
}

// Value returns the current input.
func (m *CmdBarModel) Value() string {
	return m.input.Value()
}

// SetValue replaces the input and moves the cursor to the end.
func (m *CmdBarModel) SetValue(v string) {
	m.input.SetValue(v)
	m.input.CursorEnd()
}

// SetWidth sets the input width.
func (m *CmdBarModel) SetWidth(w int) {
	m.input.Width = w
}

// Submit returns the current input and blurs
func (m *CmdBarModel) Submit() string {
	val := strings.TrimSpace(m.input.Value())
	m.Blur()
	return val
}

// Update handles messages
func (m *CmdBarModel) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

// View renders the command bar
func (m *CmdBarModel) View() string {
	if m.focused {
		prompt := promptStyle.Render(": ")
		return cmdBarStyle.Render(prompt + m.input.View())
	}
	return cmdBarStyle.Render("Press : to enter command (feed, pause, resume, cancel)")
}

// Execute processes a command. selected supplies the highlighted command id
// for commands that default to it.
func (m *CmdBarModel) Execute(api API, input string, selected func() string) tea.Cmd {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	name := parts[0]
	args := parts[1:]

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		switch name {
		case "feed":
			if len(args) < 2 {
				return cmdResultMsg{"Usage: feed <device> <grams> [pet]"}
			}
			grams, err := strconv.Atoi(args[1])
			if err != nil {
				return cmdResultMsg{"Usage: feed <device> <grams> [pet]"}
			}
			pet := ""
			if len(args) > 2 {
				pet = args[2]
			}
			cmd, err := api.Feed(ctx, args[0], grams, pet, 0)
			if err != nil {
				return cmdResultMsg{fmt.Sprintf("Error: %v", err)}
			}
			return cmdResultMsg{fmt.Sprintf("Queued feed %s (%dg → %s)", shortID(cmd.ID), grams, args[0])}

		case "pause", "resume":
			if len(args) < 1 {
				return cmdResultMsg{fmt.Sprintf("Usage: %s <device>", name)}
			}
			call := api.Pause
			if name == "resume" {
				call = api.Resume
			}
			cmd, err := call(ctx, args[0])
			if err != nil {
				return cmdResultMsg{fmt.Sprintf("Error: %v", err)}
			}
			return cmdResultMsg{fmt.Sprintf("Queued %s %s → %s", name, shortID(cmd.ID), args[0])}

		case "cancel":
			id := selected()
			if len(args) > 0 {
				id = args[0]
			}
			if id == "" {
				return cmdResultMsg{"No command selected"}
			}
			return cancelCommand(ctx, api, id)

		default:
			return cmdResultMsg{fmt.Sprintf("Unknown command: %s", name)}
		}
	}
}

func cancelCommand(ctx context.Context, api API, id string) tea.Msg {
	if _, err := api.CancelCommand(ctx, id); err != nil {
		return cmdResultMsg{fmt.Sprintf("Error: %v", err)}
	}
	return cmdResultMsg{fmt.Sprintf("Cancelled %s", shortID(id))}
}

type cmdResultMsg struct {
	message string
}
