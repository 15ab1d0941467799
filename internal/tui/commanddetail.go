package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/petfeeder/internal/models"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("240"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginTop(1)
)

// CommandDetailModel shows one command and its decision records.
type CommandDetailModel struct {
	viewport  viewport.Model
	command   *models.Command
	decisions []models.PDREntry
}

// NewCommandDetailModel creates a new command detail model
func NewCommandDetailModel() *CommandDetailModel {
	return &CommandDetailModel{viewport: viewport.New(80, 20)}
}

// SetSize sets the dimensions
func (m *CommandDetailModel) SetSize(w, h int) {
	m.viewport.Width = w
	m.viewport.Height = h
}

// CommandID returns the id of the shown command.
func (m *CommandDetailModel) CommandID() string {
	if m.command == nil {
		return ""
	}
	return m.command.ID
}

// SetCommand shows cmd and its decisions.
func (m *CommandDetailModel) SetCommand(cmd models.Command, decisions []models.PDREntry) {
	m.command = &cmd
	m.decisions = decisions
	m.viewport.SetContent(m.render())
	m.viewport.GotoTop()
}

// Clear drops the shown command.
func (m *CommandDetailModel) Clear() {
	m.command = nil
	m.decisions = nil
}

// Update handles messages
func (m *CommandDetailModel) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return cmd
}

// View renders the command detail
func (m *CommandDetailModel) View() string {
	if m.command == nil {
		return "Loading command..."
	}
	return m.viewport.View()
}

func (m *CommandDetailModel) render() string {
	c := m.command
	var b strings.Builder

	b.WriteString(headerStyle.Render(CommandItem{*c}.Title()))
	b.WriteString("\n\n")

	b.WriteString(renderField("ID", c.ID))
	b.WriteString(renderField("Status", formatStatus(c.Status)))
	b.WriteString(renderField("Kind", string(c.Kind)))
	b.WriteString(renderField("Device", c.DeviceID))
	if c.Kind == models.CommandFeed {
		if p, err := c.FeedPayload(); err == nil {
			b.WriteString(renderField("Portion", fmt.Sprintf("%dg", p.TargetGrams)))
			if p.PetID != "" {
				b.WriteString(renderField("Pet", p.PetID))
			}
		}
	}
	b.WriteString(renderField("Priority", fmt.Sprintf("%d", c.Priority)))
	b.WriteString(renderField("Token", c.IdempotencyToken))
	b.WriteString(renderField("Created", formatTime(&c.CreatedAt)))
	b.WriteString(renderField("Updated", formatTime(&c.UpdatedAt)))
	if c.DeliveredAt != nil {
		b.WriteString(renderField("Delivered", formatTime(c.DeliveredAt)))
	}
	if c.ExecutedAt != nil {
		b.WriteString(renderField("Executed", formatTime(c.ExecutedAt)))
	}
	if c.ErrorMessage != "" {
		b.WriteString(renderField("Error", statusFailed.Render(c.ErrorMessage)))
	}

	if len(m.decisions) > 0 {
		b.WriteString(sectionStyle.Render("Decisions"))
		b.WriteString("\n")
		for _, d := range m.decisions {
			line := fmt.Sprintf("  %s  %s  %s", d.Timestamp.Local().Format(time.TimeOnly), d.Action, d.Outcome)
			if d.Details != "" {
				line += "  " + truncate(d.Details, 60)
			}
			b.WriteString(line + "\n")
		}
	}

	return b.String()
}

func renderField(label, value string) string {
	return fmt.Sprintf("%s %s\n", labelStyle.Render(label+":"), valueStyle.Render(value))
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
