package internal

import (
	"fmt"
	"path"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// pre styled colors, all lipgloss
var (
	appTitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle  = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("178")).Italic(true)
	errorStyle      = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	slotBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).Width(34)
	slotLabelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	slotNameStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	emptySlotStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Italic(true)
	highlightStyle  = lipgloss.NewStyle().BorderStyle(lipgloss.DoubleBorder()).BorderForeground(lipgloss.Color("213")).Padding(0, 2).MarginTop(1)
	commentStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	hintStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
)

func (model *ViewerModel) View() string {
	sections := []string{
		appTitleStyle.Render("Slideshow"),
		model.renderStatus(),
		model.renderGrid(),
	}
	if model.highlight != nil {
		sections = append(sections, model.renderHighlight())
	}
	sections = append(sections, hintStyle.Render("q) Quit"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *ViewerModel) renderStatus() string {
	if model.connected {
		return connectedStyle.Render(fmt.Sprintf("● live  %d refreshes", model.refreshes))
	}
	status := connectingStyle.Render(model.spinner.View() + " connecting to " + model.liveURL)
	if model.connErr != nil {
		status = lipgloss.JoinVertical(lipgloss.Left, status, errorStyle.Render("last error: "+model.connErr.Error()))
	}
	return status
}

func (model *ViewerModel) renderGrid() string {
	top := lipgloss.JoinHorizontal(lipgloss.Top,
		renderSlot("top left", model.slots.TopLeft),
		renderSlot("top right", model.slots.TopRight),
	)
	bottom := lipgloss.JoinHorizontal(lipgloss.Top,
		renderSlot("bottom left", model.slots.BottomLeft),
		renderSlot("bottom right", model.slots.BottomRight),
	)
	return lipgloss.JoinVertical(lipgloss.Left, top, bottom)
}

func renderSlot(label, imageURL string) string {
	name := emptySlotStyle.Render("empty")
	if imageURL != "" {
		name = slotNameStyle.Render(imageName(imageURL))
	}
	return slotBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, slotLabelStyle.Render(label), name))
}

func (model *ViewerModel) renderHighlight() string {
	lines := []string{
		appTitleStyle.Render("New photo " + model.seenAt.Format("15:04:05")),
		slotNameStyle.Render(imageName(model.highlight.Filename)),
	}
	if comment := strings.TrimSpace(model.highlight.Comment); comment != "" {
		lines = append(lines, commentStyle.Render("“"+comment+"”"))
	}
	return highlightStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func imageName(imageURL string) string {
	return path.Base(imageURL)
}
