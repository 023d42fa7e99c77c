package internal

import (
	"os"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// tui model struct for all the components and modes
type TUIModel struct {
	textInput textinput.Model
	editor    textarea.Model

	serverURL string
	username  string
	roomKey   string

	identityStore KVStore
	identity      SessionContext
	transport     Transport
	session       *CollabSession
	api           *SnippetAPI

	// session callbacks land here; the update loop drains it one message
	// at a time through waitForEventCmd.
	events chan tea.Msg

	mode          appMode
	pendingAction actionType

	participants    []Participant
	typingUsers     []TypingUser
	meta            Metadata
	shareCode       string
	lastEditorValue string

	notices         []notice
	loading         bool
	connectionError error
}

type notice struct {
	body string
	ts   time.Time
}

type appMode int

const (
	modeMenu appMode = iota
	modeNamePrompt
	modeJoinPrompt
	modeTitlePrompt
	modeEditor
)

type actionType int

const (
	actionNone actionType = iota
	actionJoin
	actionCreate
)

func NewTUIModel(serverURL, roomKey, username, identityPath string) (*TUIModel, error) {
	input := textinput.New()
	input.CharLimit = 0

	editor := textarea.New()
	editor.Placeholder = "Start typing code…"
	editor.CharLimit = 0
	editor.SetWidth(72)
	editor.SetHeight(16)

	if username == "" {
		username = defaultUsername()
	}

	httpBase, err := httpBaseFromJoinURL(serverURL)
	if err != nil {
		return nil, err
	}

	model := &TUIModel{
		textInput:     input,
		editor:        editor,
		serverURL:     serverURL,
		roomKey:       roomKey,
		username:      username,
		identityStore: NewFileStore(identityPath),
		transport:     NewChannelTransport(serverURL, DefaultTransportConfig()),
		api:           NewSnippetAPI(httpBase),
		events:        make(chan tea.Msg, 64),
		mode:          modeMenu,
	}
	if roomKey != "" {
		// Room key given on the command line skips the menu.
		model.pendingAction = actionJoin
	}
	return model, nil
}

// init user
func defaultUsername() string {
	if user := os.Getenv("CODESHARE_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "anon"
}

func (model *TUIModel) Init() tea.Cmd {
	if model.pendingAction == actionJoin && model.roomKey != "" {
		return model.resolveAndJoinCmd(model.roomKey)
	}
	return nil
}

func (model *TUIModel) addNotice(body string) {
	model.notices = append(model.notices, notice{body: body, ts: time.Now()})
	if len(model.notices) > 5 {
		model.notices = model.notices[len(model.notices)-5:]
	}
}
