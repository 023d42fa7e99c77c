package internal

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// session events, bridged from the collab callbacks
type (
	presenceEventMsg struct {
		users []Participant
		msg   PresenceMessage
	}
	userJoinedEventMsg Participant
	codeEventMsg       CodeChangeMessage
	typingEventMsg     []TypingUser
	metadataEventMsg   Metadata
	syncedEventMsg     struct {
		code CodeState
		meta Metadata
	}
	joinedMsg struct {
		info    RoomInfo
		snippet *SnippetDTO
	}
	joinFailedMsg struct{ err error }
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		// Ctrl+C bails out from anywhere.
		if typedMessage.Type == tea.KeyCtrlC {
			if model.session != nil {
				model.session.Close()
			}
			return model, tea.Quit
		}
		switch model.mode {
		case modeMenu:
			return model.updateMenu(typedMessage)
		case modeNamePrompt:
			return model.updateNamePrompt(typedMessage)
		case modeJoinPrompt:
			return model.updateJoinPrompt(typedMessage)
		case modeTitlePrompt:
			return model.updateTitlePrompt(typedMessage)
		case modeEditor:
			return model.updateEditor(typedMessage)
		}

	case joinedMsg:
		model.loading = false
		model.connectionError = nil
		model.mode = modeEditor
		model.roomKey = typedMessage.info.RoomID
		model.shareCode = typedMessage.info.ShareCode
		if typedMessage.snippet != nil {
			model.meta = Metadata{
				Title:       typedMessage.snippet.Title,
				Description: typedMessage.snippet.Description,
				Language:    typedMessage.snippet.Language,
				Tags:        typedMessage.snippet.Tags,
			}
			// Stored content fills the editor right away; a sync response
			// from a live collaborator overwrites it shortly after.
			model.setEditorContent(typedMessage.snippet.Code)
		} else {
			model.setEditorContent("")
		}
		if model.shareCode != "" {
			model.addNotice("Share code: " + model.shareCode)
		}
		model.textInput.Blur()
		return model, tea.Batch(model.editor.Focus(), model.waitForEventCmd())

	case joinFailedMsg:
		model.loading = false
		model.connectionError = typedMessage.err
		model.addNotice(fmt.Sprintf("Could not join: %v", typedMessage.err))
		if model.mode != modeEditor {
			model.mode = modeMenu
		}
		return model, nil

	case presenceEventMsg:
		model.participants = typedMessage.users
		if typedMessage.msg.SnippetTitle != "" {
			model.meta.Title = typedMessage.msg.SnippetTitle
		}
		return model, model.waitForEventCmd()

	case userJoinedEventMsg:
		model.addNotice(typedMessage.Username + " joined")
		return model, model.waitForEventCmd()

	case codeEventMsg:
		model.setEditorContent(typedMessage.Code)
		if typedMessage.Language != "" {
			model.meta.Language = typedMessage.Language
		}
		return model, model.waitForEventCmd()

	case typingEventMsg:
		model.typingUsers = typedMessage
		return model, model.waitForEventCmd()

	case metadataEventMsg:
		model.meta = Metadata(typedMessage)
		return model, model.waitForEventCmd()

	case syncedEventMsg:
		model.setEditorContent(typedMessage.code.Code)
		model.meta = typedMessage.meta
		return model, model.waitForEventCmd()
	}
	return model, nil
}

func (model *TUIModel) updateMenu(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "1", "j", "J":
		model.pendingAction = actionJoin
		return model, model.promptName()
	case "2", "c", "C":
		model.pendingAction = actionCreate
		return model, model.promptName()
	case "q", "Q", "3":
		return model, tea.Quit
	}
	return model, nil
}

func (model *TUIModel) promptName() tea.Cmd {
	model.mode = modeNamePrompt
	model.textInput.SetValue(model.username)
	model.textInput.Placeholder = "Enter display name…"
	model.textInput.Prompt = "name> "
	return model.textInput.Focus()
}

func (model *TUIModel) updateNamePrompt(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEnter:
		trimmed := strings.TrimSpace(model.textInput.Value())
		if trimmed == "" {
			model.addNotice("Display name cannot be empty.")
			return model, nil
		}
		model.username = trimmed
		model.textInput.SetValue("")
		switch model.pendingAction {
		case actionJoin:
			model.mode = modeJoinPrompt
			model.textInput.Placeholder = "Enter share code or room key…"
			model.textInput.Prompt = "room> "
			return model, model.textInput.Focus()
		case actionCreate:
			model.mode = modeTitlePrompt
			model.textInput.Placeholder = "Snippet title…"
			model.textInput.Prompt = "title> "
			return model, model.textInput.Focus()
		}
		return model, model.backToMenu()
	case tea.KeyEsc:
		return model, model.backToMenu()
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) updateJoinPrompt(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		return model, model.backToMenu()
	case tea.KeyEnter:
		trimmed := strings.TrimSpace(model.textInput.Value())
		if trimmed == "" {
			return model, nil
		}
		model.loading = true
		model.textInput.SetValue("")
		return model, model.resolveAndJoinCmd(trimmed)
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) updateTitlePrompt(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		return model, model.backToMenu()
	case tea.KeyEnter:
		title := strings.TrimSpace(model.textInput.Value())
		if title == "" {
			title = "Untitled snippet"
		}
		model.loading = true
		model.textInput.SetValue("")
		return model, model.createCmd(title)
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) updateEditor(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Type == tea.KeyEsc {
		if model.session != nil {
			model.session.Leave()
		}
		model.participants = nil
		model.typingUsers = nil
		model.editor.Blur()
		model.editor.SetValue("")
		model.lastEditorValue = ""
		return model, model.backToMenu()
	}
	var cmd tea.Cmd
	model.editor, cmd = model.editor.Update(key)
	// Only actual content changes count as edits; cursor movement does not
	// broadcast or flag typing.
	if value := model.editor.Value(); value != model.lastEditorValue {
		model.lastEditorValue = value
		if model.session != nil {
			model.session.EditCode(value, model.meta.Language)
		}
	}
	return model, cmd
}

func (model *TUIModel) backToMenu() tea.Cmd {
	model.pendingAction = actionNone
	model.mode = modeMenu
	model.textInput.SetValue("")
	model.textInput.Blur()
	model.textInput.Placeholder = ""
	model.textInput.Prompt = ""
	return nil
}

// setEditorContent applies remote content without counting it as a local
// edit, so it neither rebroadcasts nor trips the typing indicator.
func (model *TUIModel) setEditorContent(code string) {
	model.editor.SetValue(code)
	model.lastEditorValue = model.editor.Value()
}
