package internal

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const joinDialTimeout = 15 * time.Second

// ensureSession builds the identity and the collab session lazily, once the
// display name is final. The user id is stable across runs; the display name
// follows whatever the user typed last.
func (model *TUIModel) ensureSession() error {
	identity, err := NewSessionContext(model.identityStore, model.username)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	if model.session != nil && model.identity == identity {
		return nil
	}
	if model.session != nil {
		model.session.Leave()
	}
	model.identity = identity
	model.session = NewCollabSession(model.transport, identity, SessionConfig{Saver: model.api}, SessionHooks{
		OnPresence: func(users []Participant, msg PresenceMessage) {
			model.pushEvent(presenceEventMsg{users: users, msg: msg})
		},
		OnUserJoined: func(user Participant) {
			model.pushEvent(userJoinedEventMsg(user))
		},
		OnCode: func(msg CodeChangeMessage) {
			model.pushEvent(codeEventMsg(msg))
		},
		OnTyping: func(users []TypingUser) {
			model.pushEvent(typingEventMsg(users))
		},
		OnMetadata: func(meta Metadata) {
			model.pushEvent(metadataEventMsg(meta))
		},
		OnSynced: func(code CodeState, meta Metadata) {
			model.pushEvent(syncedEventMsg{code: code, meta: meta})
		},
	})
	return nil
}

// pushEvent hands a session callback to the update loop. Dropping on a full
// buffer is safe: every event type is a snapshot, not a delta.
func (model *TUIModel) pushEvent(msg tea.Msg) {
	select {
	case model.events <- msg:
	default:
	}
}

// waitForEventCmd blocks on the event channel; each handled event re-issues
// it so exactly one reader is pending at a time.
func (model *TUIModel) waitForEventCmd() tea.Cmd {
	return func() tea.Msg {
		return <-model.events
	}
}

// resolveAndJoinCmd treats the input as a share code first and falls back to
// a raw room key for ad hoc rooms that never touched the store.
func (model *TUIModel) resolveAndJoinCmd(key string) tea.Cmd {
	return func() tea.Msg {
		if err := model.ensureSession(); err != nil {
			return joinFailedMsg{err: err}
		}
		var info RoomInfo
		snippet, err := model.api.ResolveShareCode(key)
		switch {
		case err == nil:
			info = RoomInfo{
				RoomID:         snippet.ID,
				SnippetID:      snippet.ID,
				ShareCode:      key,
				SnippetOwnerID: snippet.AuthorID,
				Persisted:      true,
			}
		case errors.Is(err, ErrAPINotFound):
			info = RoomInfo{RoomID: key}
		default:
			return joinFailedMsg{err: err}
		}

		ctx, cancel := context.WithTimeout(context.Background(), joinDialTimeout)
		defer cancel()
		if err := model.session.Join(ctx, info); err != nil {
			return joinFailedMsg{err: err}
		}
		return joinedMsg{info: info, snippet: snippet}
	}
}

// createCmd makes the snippet through the REST api, then joins its room as
// the owner.
func (model *TUIModel) createCmd(title string) tea.Cmd {
	return func() tea.Msg {
		if err := model.ensureSession(); err != nil {
			return joinFailedMsg{err: err}
		}
		snippet, err := model.api.CreateSnippet(createSnippetRequest{
			Title:    title,
			Language: "plaintext",
			AuthorID: model.identity.UserID,
		})
		if err != nil {
			return joinFailedMsg{err: err}
		}
		info := RoomInfo{
			RoomID:         snippet.ID,
			SnippetID:      snippet.ID,
			ShareCode:      snippet.ShareCode,
			SnippetOwnerID: model.identity.UserID,
			IsNew:          true,
			OwnerFlow:      true,
			Persisted:      true,
			InitialMeta: Metadata{
				Title:    snippet.Title,
				Language: snippet.Language,
			},
		}
		ctx, cancel := context.WithTimeout(context.Background(), joinDialTimeout)
		defer cancel()
		if err := model.session.Join(ctx, info); err != nil {
			return joinFailedMsg{err: err}
		}
		return joinedMsg{info: info, snippet: snippet}
	}
}

// entry for bubbletea
func RunClient(serverURL, roomKey, username, identityPath string) error {
	model, err := NewTUIModel(serverURL, roomKey, username, identityPath)
	if err != nil {
		return err
	}
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err = program.Run()
	model.transport.Disconnect()
	return err
}
