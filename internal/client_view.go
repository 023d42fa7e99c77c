package internal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// pre styled colors, all from lipgloss
var (
	appTitleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	subtitleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).MarginTop(1)
	menuBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).MarginTop(1)
	menuItemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).PaddingLeft(1)
	menuHotkeyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	menuHintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	noticeBoxStyle   = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("95")).Padding(1, 2).MarginTop(1)
	headerStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	syncedStyle      = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	joiningStyle     = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	editorBoxStyle   = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(0, 1).MarginTop(1)
	inputBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	usernameStyle    = lipgloss.NewStyle().Bold(true)
	selfStyle        = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	systemNoteStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	errorStyle       = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	typingStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("178")).Italic(true)
	participantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dividerStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	userColorPalette = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

func (model TUIModel) View() string {
	switch model.mode {
	case modeMenu:
		return model.renderMenuView()
	case modeNamePrompt:
		return model.renderPrompt("Display name", "How should collaborators see you?")
	case modeJoinPrompt:
		return model.renderPrompt("Join a snippet", "Enter a share code or room key and press Enter.")
	case modeTitlePrompt:
		return model.renderPrompt("New snippet", "Give the snippet a title.")
	default:
		return model.renderEditorView()
	}
}

func (model TUIModel) renderMenuView() string {
	title := appTitleStyle.Render("Codeshare")
	subtitle := subtitleStyle.Render("Edit code snippets together from your terminal")

	options := []string{
		renderMenuOption("1", "Join a snippet"),
		renderMenuOption("2", "Create a snippet"),
		renderMenuOption("q", "Quit"),
	}

	viewSections := []string{
		lipgloss.JoinVertical(lipgloss.Left, title, subtitle),
		menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, options...)),
	}

	if model.loading {
		viewSections = append(viewSections, joiningStyle.Render("Working…"))
	}
	if notices := model.renderNotices(); notices != "" {
		viewSections = append(viewSections, notices)
	}
	viewSections = append(viewSections, menuHintStyle.Render("1) Join  •  2) Create  •  q) Quit"))

	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model TUIModel) renderPrompt(title, hint string) string {
	header := appTitleStyle.Render(title)
	hintText := menuHintStyle.Render(hint)

	viewSections := []string{header, hintText}
	if model.loading {
		viewSections = append(viewSections, joiningStyle.Render("Working…"))
	}
	if notices := model.renderNotices(); notices != "" {
		viewSections = append(viewSections, notices)
	}
	viewSections = append(viewSections, inputBoxStyle.Render(model.textInput.View()))

	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model TUIModel) renderEditorView() string {
	headerSegments := []string{"Codeshare"}
	if model.meta.Title != "" {
		headerSegments = append(headerSegments, model.meta.Title)
	}
	if model.meta.Language != "" {
		headerSegments = append(headerSegments, model.meta.Language)
	}
	if model.shareCode != "" {
		headerSegments = append(headerSegments, fmt.Sprintf("Code %s", model.shareCode))
	}
	header := headerStyle.Render(strings.Join(headerSegments, dividerStyle))

	var statusLine string
	state := SyncIdle
	if model.session != nil {
		state = model.session.SyncState()
	}
	switch {
	case model.connectionError != nil:
		statusLine = errorStyle.Render("Connection error: " + model.connectionError.Error())
	case state == SyncJoining:
		statusLine = joiningStyle.Render("Syncing…")
	case state == SyncEditing:
		statusLine = syncedStyle.Render("Editing")
	default:
		statusLine = syncedStyle.Render("Synced")
	}

	sections := []string{header, statusLine}

	if participants := model.renderParticipants(); participants != "" {
		sections = append(sections, participants)
	}
	if typing := model.renderTyping(); typing != "" {
		sections = append(sections, typing)
	}
	if notices := model.renderNotices(); notices != "" {
		sections = append(sections, notices)
	}

	sections = append(sections, editorBoxStyle.Render(model.editor.View()))
	sections = append(sections, menuHintStyle.Render("Esc to leave the room  •  Ctrl+C to quit"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model TUIModel) renderParticipants() string {
	if len(model.participants) == 0 {
		return ""
	}
	parts := make([]string, 0, len(model.participants))
	for _, user := range model.participants {
		label := user.Username
		if user.Owner {
			label = "★ " + label
		}
		var style lipgloss.Style
		if user.UserID == model.identity.UserID {
			style = selfStyle
		} else {
			style = participantStyle.Copy().Foreground(colorForUser(user.Username))
		}
		parts = append(parts, style.Render(label))
	}
	return statusStyle.Render(fmt.Sprintf("%d here: ", len(model.participants))) + strings.Join(parts, participantStyle.Render(", "))
}

func (model TUIModel) renderTyping() string {
	if len(model.typingUsers) == 0 {
		return ""
	}
	names := make([]string, 0, len(model.typingUsers))
	for _, user := range model.typingUsers {
		names = append(names, user.Username)
	}
	verb := "is"
	if len(names) > 1 {
		verb = "are"
	}
	return typingStyle.Render(fmt.Sprintf("%s %s typing…", strings.Join(names, ", "), verb))
}

func renderMenuOption(hotkey string, label string) string {
	key := menuHotkeyStyle.Render(hotkey)
	return lipgloss.JoinHorizontal(lipgloss.Left, key, menuItemStyle.Render(label))
}

func (model TUIModel) renderNotices() string {
	if len(model.notices) == 0 {
		return ""
	}
	lines := make([]string, 0, len(model.notices))
	for _, note := range model.notices {
		lines = append(lines, systemNoteStyle.Render(note.body))
	}
	return noticeBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// color for users
func colorForUser(name string) lipgloss.Color {
	if len(userColorPalette) == 0 {
		return lipgloss.Color("249")
	}
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
