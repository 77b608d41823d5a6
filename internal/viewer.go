package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

const viewerRetryDelay = 2 * time.Second

// ViewerModel is a terminal display of the live channel: the four corner
// slots plus the most recent upload.
type ViewerModel struct {
	liveURL   string
	conn      *websocket.Conn
	spinner   spinner.Model
	slots     UpdatePayload
	highlight *NewImagePayload
	seenAt    time.Time
	refreshes int
	connected bool
	connErr   error
	width     int
}

type (
	viewerConnectedMsg    struct{ conn *websocket.Conn }
	viewerEventMsg        Envelope
	viewerDisconnectedMsg struct{ err error }
	viewerReconnectMsg    struct{}
)

func NewViewerModel(liveURL string) *ViewerModel {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = connectingStyle
	return &ViewerModel{liveURL: liveURL, spinner: spin}
}

func (model *ViewerModel) Init() tea.Cmd {
	return tea.Batch(model.spinner.Tick, model.connectCmd())
}

func (model *ViewerModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		switch typedMessage.String() {
		case "q", "ctrl+c", "esc":
			model.closeConn()
			return model, tea.Quit
		}
		return model, nil

	case tea.WindowSizeMsg:
		model.width = typedMessage.Width
		return model, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		model.spinner, cmd = model.spinner.Update(typedMessage)
		return model, cmd

	case viewerConnectedMsg:
		model.conn = typedMessage.conn
		model.connected = true
		model.connErr = nil
		return model, readEventCmd(model.conn)

	case viewerEventMsg:
		model.apply(Envelope(typedMessage))
		return model, readEventCmd(model.conn)

	case viewerDisconnectedMsg:
		model.closeConn()
		model.connected = false
		model.connErr = typedMessage.err
		return model, tea.Tick(viewerRetryDelay, func(time.Time) tea.Msg {
			return viewerReconnectMsg{}
		})

	case viewerReconnectMsg:
		if !model.connected {
			return model, model.connectCmd()
		}
	}
	return model, nil
}

// apply folds one live event into the display state. Updates replace every
// slot; new images only set the highlight.
func (model *ViewerModel) apply(event Envelope) {
	switch event.Event {
	case EventUpdate:
		var frame UpdatePayload
		if err := json.Unmarshal(event.Data, &frame); err != nil {
			return
		}
		model.slots = frame
		model.refreshes++
	case EventNewImage:
		var added NewImagePayload
		if err := json.Unmarshal(event.Data, &added); err != nil {
			return
		}
		model.highlight = &added
		model.seenAt = time.Now()
	}
}

func (model *ViewerModel) closeConn() {
	if model.conn == nil {
		return
	}
	_ = model.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = model.conn.Close()
	model.conn = nil
}

// websocket dial
func (model *ViewerModel) connectCmd() tea.Cmd {
	liveURL := model.liveURL
	return func() tea.Msg {
		conn, _, err := websocket.DefaultDialer.Dial(liveURL, http.Header{})
		if err != nil {
			return viewerDisconnectedMsg{err: err}
		}
		return viewerConnectedMsg{conn: conn}
	}
}

// blocks until the next event we can decode, skips anything else
func readEventCmd(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		if conn == nil {
			return viewerDisconnectedMsg{err: fmt.Errorf("websocket not connected")}
		}
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return viewerDisconnectedMsg{err: err}
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var event Envelope
			if err := json.Unmarshal(payload, &event); err != nil {
				continue
			}
			return viewerEventMsg(event)
		}
	}
}

// LiveURL turns a server address such as "wedding.local:8000",
// "http://host:8000" or "ws://host:8000/live" into the websocket endpoint.
func LiveURL(base string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("server address is required")
	}
	if !strings.Contains(base, "://") {
		base = "ws://" + base
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server address: %w", err)
	}
	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("server address %q has no host", base)
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = "/live"
	}
	return parsed.String(), nil
}

//entry for the display
func RunViewer(serverURL string) error {
	liveURL, err := LiveURL(serverURL)
	if err != nil {
		return err
	}
	program := tea.NewProgram(NewViewerModel(liveURL), tea.WithAltScreen())
	_, err = program.Run()
	return err
}
