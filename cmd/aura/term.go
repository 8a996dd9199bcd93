package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/antonkrylov/aura/internal/console"
	"github.com/antonkrylov/aura/internal/shell"
)

func newTermCmd(root *rootOptions) *cobra.Command {
	var logFile string
	var noRecord bool
	cmd := &cobra.Command{
		Use:   "term",
		Short: "Open the interactive console",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var w io.Writer = io.Discard
			if strings.TrimSpace(logFile) != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
				if err != nil {
					return fmt.Errorf("open log file: %w", err)
				}
				defer f.Close()
				w = f
			}
			logger := newLogger(w, root.logLevel, root.logFormat).With("console", "interactive")

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			sess, err := root.newSession(logger)
			if err != nil {
				return err
			}
			var opts []console.Option
			if noRecord {
				opts = root.consoleOptions(logger, nil, root.profile.Prompt)
			} else {
				rec, closeRec := root.recorder(ctx, logger)
				defer closeRec()
				opts = root.consoleOptions(logger, rec, root.profile.Prompt)
			}
			buf := console.NewBuffer(root.profile.Scrollback())
			con := console.NewInteractive(sess, buf, opts...)
			if err := con.Open(ctx); err != nil {
				logger.Error("open interactive console", "err", err)
			}
			defer func() {
				if err := con.Close(); err != nil {
					logger.Debug("terminate shell", "err", err)
				}
			}()

			m := newTermModel(con, buf, sess.Events(), root.profileName)
			_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
			return err
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", "", "write logs to this file (default: discard)")
	cmd.Flags().BoolVar(&noRecord, "no-record", false, "do not record commands to the timeline")
	return cmd
}

type termKeyMap struct {
	Quit      key.Binding
	Submit    key.Binding
	Prev      key.Binding
	Next      key.Binding
	Left      key.Binding
	Right     key.Binding
	Home      key.Binding
	End       key.Binding
	Backspace key.Binding
	Delete    key.Binding
	PageUp    key.Binding
	PageDown  key.Binding
}

func defaultTermKeys() termKeyMap {
	return termKeyMap{
		Quit:      key.NewBinding(key.WithKeys("ctrl+c", "ctrl+d"), key.WithHelp("ctrl+c", "quit")),
		Submit:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "run")),
		Prev:      key.NewBinding(key.WithKeys("up"), key.WithHelp("↑", "previous command")),
		Next:      key.NewBinding(key.WithKeys("down"), key.WithHelp("↓", "next command")),
		Left:      key.NewBinding(key.WithKeys("left", "ctrl+b")),
		Right:     key.NewBinding(key.WithKeys("right", "ctrl+f")),
		Home:      key.NewBinding(key.WithKeys("home", "ctrl+a")),
		End:       key.NewBinding(key.WithKeys("end", "ctrl+e")),
		Backspace: key.NewBinding(key.WithKeys("backspace", "ctrl+h")),
		Delete:    key.NewBinding(key.WithKeys("delete")),
		PageUp:    key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "scroll up")),
		PageDown:  key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdown", "scroll down")),
	}
}

// keyEvent translates a terminal key press into a console key.
func (k termKeyMap) keyEvent(msg tea.KeyMsg) (console.KeyEvent, bool) {
	switch {
	case key.Matches(msg, k.Submit):
		return console.KeyEvent{Key: console.KeySubmit}, true
	case key.Matches(msg, k.Prev):
		return console.KeyEvent{Key: console.KeyPrev}, true
	case key.Matches(msg, k.Next):
		return console.KeyEvent{Key: console.KeyNext}, true
	case key.Matches(msg, k.Left):
		return console.KeyEvent{Key: console.KeyLeft}, true
	case key.Matches(msg, k.Right):
		return console.KeyEvent{Key: console.KeyRight}, true
	case key.Matches(msg, k.Home):
		return console.KeyEvent{Key: console.KeyHome}, true
	case key.Matches(msg, k.End):
		return console.KeyEvent{Key: console.KeyEnd}, true
	case key.Matches(msg, k.Backspace):
		return console.KeyEvent{Key: console.KeyBackspace}, true
	case key.Matches(msg, k.Delete):
		return console.KeyEvent{Key: console.KeyDelete}, true
	case key.Matches(msg, k.PageUp):
		return console.KeyEvent{Key: console.KeyPageUp}, true
	case key.Matches(msg, k.PageDown):
		return console.KeyEvent{Key: console.KeyPageDown}, true
	}
	switch msg.Type {
	case tea.KeyRunes, tea.KeySpace:
		if len(msg.Runes) == 0 {
			return console.KeyEvent{}, false
		}
		return console.KeyEvent{Key: console.KeyRune, Text: string(msg.Runes)}, true
	case tea.KeyTab:
		return console.KeyEvent{Key: console.KeyRune, Text: "\t"}, true
	}
	return console.KeyEvent{}, false
}

type termStyles struct {
	header lipgloss.Style
	prompt lipgloss.Style
	cmd    lipgloss.Style
	err    lipgloss.Style
	cursor lipgloss.Style
}

func defaultTermStyles() termStyles {
	return termStyles{
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Padding(0, 1),
		prompt: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		cmd:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		err:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		cursor: lipgloss.NewStyle().Reverse(true),
	}
}

func (s termStyles) span(style console.Style, text string) string {
	switch style {
	case console.StylePrompt:
		return s.prompt.Render(text)
	case console.StyleCommand:
		return s.cmd.Render(text)
	case console.StyleError:
		return s.err.Render(text)
	default:
		return text
	}
}

type shellEventMsg struct{ ev shell.Event }

type eventsClosedMsg struct{}

// termModel renders an Interactive console. All console state is touched
// from Update only.
type termModel struct {
	console *console.Interactive
	buf     *console.Buffer
	events  <-chan shell.Event
	profile string

	viewport viewport.Model
	keys     termKeyMap
	styles   termStyles
	width    int
	exit     string
}

func newTermModel(con *console.Interactive, buf *console.Buffer, events <-chan shell.Event, profile string) *termModel {
	m := &termModel{
		console:  con,
		buf:      buf,
		events:   events,
		profile:  profile,
		viewport: viewport.New(80, 23),
		keys:     defaultTermKeys(),
		styles:   defaultTermStyles(),
		width:    80,
	}
	m.refresh()
	return m
}

func waitEvent(ch <-chan shell.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return shellEventMsg{ev: ev}
	}
}

func (m *termModel) Init() tea.Cmd {
	if m.events == nil {
		return nil
	}
	return waitEvent(m.events)
}

func (m *termModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 1
		if m.viewport.Height < 1 {
			m.viewport.Height = 1
		}
		m.refresh()
	case shellEventMsg:
		m.console.HandleEvent(msg.ev)
		if e, ok := msg.ev.(shell.ExitEvent); ok && !e.Requested {
			m.exit = e.Status.String()
		}
		m.refresh()
		return m, waitEvent(m.events)
	case eventsClosedMsg:
		m.events = nil
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		if k, ok := m.keys.keyEvent(msg); ok && m.console.HandleKey(k) {
			m.refresh()
		}
	}
	return m, nil
}

// refresh re-renders the transcript into the viewport, drawing the cursor
// when it sits in the command line and honouring the buffer's scroll.
func (m *termModel) refresh() {
	content := m.buf.Render(m.styles.span)
	cur, boundary, end := m.buf.Cursor(), m.console.Boundary(), m.buf.Len()
	if cur >= boundary && boundary <= end {
		line := m.buf.Slice(boundary, end)
		head := strings.TrimSuffix(content, line)
		off := cur - boundary
		under, size := " ", 0
		if off < len(line) {
			r, n := utf8.DecodeRuneInString(line[off:])
			under, size = string(r), n
		}
		content = head + line[:off] + m.styles.cursor.Render(under) + line[off+size:]
	}
	m.viewport.SetContent(content)
	m.viewport.GotoBottom()
	if back := m.buf.ScrollBack(); back > 0 {
		m.viewport.SetYOffset(m.viewport.YOffset - back)
	}
}

func (m *termModel) header() string {
	state := m.console.State().String()
	if m.console.Busy() {
		state = "busy"
	}
	if m.exit != "" {
		state = "exited: " + m.exit
	}
	text := fmt.Sprintf("aura · %s · %s · %s", m.profile, m.console.Dir(), state)
	return m.styles.header.Width(m.width).Render(text)
}

func (m *termModel) View() string {
	return m.header() + "\n" + m.viewport.View()
}
