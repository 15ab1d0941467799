package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Suggestions provides autocomplete for the command bar
type Suggestions struct {
	filtered    []SuggestionItem
	devices     []string
	selectedIdx int
	visible     bool
	header      string
	// prefix is the part of the input kept when a suggestion is accepted
	prefix string
}

// SuggestionItem represents a single autocomplete suggestion
type SuggestionItem struct {
	Text        string
	Description string
}

var commandSuggestions = []SuggestionItem{
	{Text: "feed", Description: "feed <device> <grams> [pet]"},
	{Text: "pause", Description: "pause <device>"},
	{Text: "resume", Description: "resume <device>"},
	{Text: "cancel", Description: "cancel [command-id]"},
}

// NewSuggestions creates a new suggestions handler
func NewSuggestions() *Suggestions {
	return &Suggestions{}
}

// SetDevices records the device ids offered after a device command.
func (s *Suggestions) SetDevices(devices []string) {
	sorted := append([]string(nil), devices...)
	sort.Strings(sorted)
	s.devices = sorted
}

// Update updates suggestions based on current input
func (s *Suggestions) Update(input string) {
	s.visible = false
	s.filtered = nil
	s.selectedIdx = 0
	if strings.TrimSpace(input) == "" {
		return
	}

	fields := strings.Fields(input)
	trailing := strings.HasSuffix(input, " ")

	switch {
	case len(fields) == 1 && !trailing:
		s.header = "Commands"
		s.prefix = ""
		s.filter(commandSuggestions, fields[0])
	case takesDevice(fields[0]) && (len(fields) == 1 && trailing || len(fields) == 2 && !trailing):
		query := ""
		if len(fields) == 2 {
			query = fields[1]
		}
		items := make([]SuggestionItem, len(s.devices))
		for i, d := range s.devices {
			items[i] = SuggestionItem{Text: d, Description: "device"}
		}
		s.header = "Devices"
		s.prefix = fields[0] + " "
		s.filter(items, query)
	}
}

func takesDevice(cmd string) bool {
	return cmd == "feed" || cmd == "pause" || cmd == "resume"
}

func (s *Suggestions) filter(items []SuggestionItem, query string) {
	query = strings.ToLower(query)
	for _, item := range items {
		if strings.HasPrefix(strings.ToLower(item.Text), query) {
			s.filtered = append(s.filtered, item)
		}
	}
	s.visible = len(s.filtered) > 0
}

// Next moves to the next suggestion
func (s *Suggestions) Next() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx = (s.selectedIdx + 1) % len(s.filtered)
}

// Prev moves to the previous suggestion
func (s *Suggestions) Prev() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx--
	if s.selectedIdx < 0 {
		s.selectedIdx = len(s.filtered) - 1
	}
}

// Selected returns the currently selected suggestion
func (s *Suggestions) Selected() *SuggestionItem {
	if !s.visible || s.selectedIdx >= len(s.filtered) {
		return nil
	}
	return &s.filtered[s.selectedIdx]
}

// Complete returns the input with the selected suggestion applied.
func (s *Suggestions) Complete() (string, bool) {
	sel := s.Selected()
	if sel == nil {
		return "", false
	}
	return s.prefix + sel.Text + " ", true
}

// IsVisible returns whether suggestions are currently visible
func (s *Suggestions) IsVisible() bool {
	return s.visible
}

// Render renders the suggestions dropdown
func (s *Suggestions) Render(width int) string {
	if !s.IsVisible() {
		return ""
	}

	var b strings.Builder

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(secondaryColor).
		Padding(0, 1)
	if width > 4 {
		boxStyle = boxStyle.Width(width - 4)
	}

	itemStyle := lipgloss.NewStyle().Foreground(fgColor)
	descStyle := lipgloss.NewStyle().Foreground(mutedColor).Italic(true)
	selStyle := lipgloss.NewStyle().Background(primaryColor).Foreground(fgColor).Bold(true)

	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(primaryColor).Render(s.header))
	b.WriteString("\n")

	const maxVisible = 5
	for i, item := range s.filtered {
		if i >= maxVisible {
			b.WriteString(descStyle.Render(fmt.Sprintf("  ... and %d more", len(s.filtered)-maxVisible)))
			break
		}
		if i == s.selectedIdx {
			b.WriteString(selStyle.Render("▶ " + item.Text))
		} else {
			b.WriteString(itemStyle.Render("  " + item.Text))
		}
		b.WriteString(" " + descStyle.Render(item.Description) + "\n")
	}

	return boxStyle.Render(b.String())
}
