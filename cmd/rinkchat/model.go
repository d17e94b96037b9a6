package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sunmoonron/rinkchat/internal/chat"
	"github.com/sunmoonron/rinkchat/internal/wire"
)

const (
	minSidebarWidth = 18
	statusHeight    = 1
	titleHeight     = 1
	inputHeight     = 1
)

var (
	colorPrimary = lipgloss.Color("205")
	colorDim     = lipgloss.Color("241")
	colorOK      = lipgloss.Color("78")

	sidebarStyle         = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderRight(true).BorderForeground(colorDim).PaddingRight(1)
	sidebarSectionStyle  = lipgloss.NewStyle().Foreground(colorDim).Bold(true)
	sidebarItemStyle     = lipgloss.NewStyle().PaddingLeft(1)
	sidebarSelectedStyle = lipgloss.NewStyle().PaddingLeft(1).Foreground(colorPrimary).Bold(true)
	titleStyle           = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary).Padding(0, 1)
	systemStyle          = lipgloss.NewStyle().Foreground(colorDim).Italic(true)
	timestampStyle       = lipgloss.NewStyle().Foreground(colorDim)
	ownAuthorStyle       = lipgloss.NewStyle().Foreground(colorOK).Bold(true)
	authorStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("111")).Bold(true)
	statusBarStyle       = lipgloss.NewStyle().Foreground(colorDim)
	connectedDotStyle    = lipgloss.NewStyle().Foreground(colorOK)
	offlineDotStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// stateMsg carries a change notification from the engine.
type stateMsg string

func waitForState(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return stateMsg(ev)
	}
}

type model struct {
	mgr    *chat.Manager
	events <-chan string
	stop   func()

	width  int
	height int

	// Sidebar selection: groups first, DM threads after.
	activeItem int
	focusDM    string // peer pubkey when a thread has focus

	viewport viewport.Model
	input    textarea.Model
	notice   string
}

func newModel(mgr *chat.Manager) *model {
	ta := textarea.New()
	ta.Placeholder = "message... (/help for commands)"
	ta.Prompt = "> "
	ta.CharLimit = 2000
	ta.SetHeight(inputHeight)
	ta.ShowLineNumbers = false
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter"))
	ta.Focus()

	events, stop := mgr.SubscribeEvents()
	return &model{
		mgr:      mgr,
		events:   events,
		stop:     stop,
		width:    80,
		height:   24,
		viewport: viewport.New(80, 20),
	}
}

func (m *model) Init() tea.Cmd {
	m.refresh()
	return tea.Batch(textarea.Blink, waitForState(m.events))
}

func (m *model) groups() []chat.GroupSummary   { return m.mgr.Groups() }
func (m *model) threads() []chat.ThreadSummary { return m.mgr.Threads() }

func (m *model) sidebarTotal() int { return len(m.groups()) + len(m.threads()) }

// syncSelection maps the sidebar index onto engine focus.
func (m *model) syncSelection() {
	groups := m.groups()
	threads := m.threads()
	if m.activeItem < len(groups) {
		m.focusDM = ""
		m.mgr.OpenDM("")
		_ = m.mgr.SwitchGroup(groups[m.activeItem].ID)
		return
	}
	idx := m.activeItem - len(groups)
	if idx < len(threads) {
		m.focusDM = threads[idx].PeerPubKey
		m.mgr.OpenDM(m.focusDM)
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case stateMsg:
		m.refresh()
		return m, waitForState(m.events)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.stop()
			return m, tea.Quit

		case "ctrl+up":
			if total := m.sidebarTotal(); total > 1 {
				m.activeItem--
				if m.activeItem < 0 {
					m.activeItem = total - 1
				}
				m.syncSelection()
				m.refresh()
			}
			return m, nil

		case "ctrl+down":
			if total := m.sidebarTotal(); total > 1 {
				m.activeItem++
				if m.activeItem >= total {
					m.activeItem = 0
				}
				m.syncSelection()
				m.refresh()
			}
			return m, nil

		case "pgup":
			m.viewport.LineUp(10)
			return m, nil

		case "pgdown":
			m.viewport.LineDown(10)
			return m, nil

		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			if strings.HasPrefix(text, "/") {
				m.handleCommand(text)
				m.refresh()
				return m, nil
			}
			var err error
			if m.focusDM != "" {
				err = m.mgr.SendDirect(m.focusDM, "", text)
			} else {
				err = m.mgr.SendMessage(text)
			}
			if err != nil {
				m.notice = err.Error()
			} else {
				m.notice = ""
			}
			m.refresh()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) handleCommand(text string) {
	parts := strings.Fields(text)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	fail := func(err error) {
		if err != nil {
			m.notice = err.Error()
		} else {
			m.notice = ""
		}
	}

	switch cmd {
	case "/create":
		if len(args) == 0 {
			m.notice = "usage: /create <name> [password]"
			return
		}
		password := ""
		name := strings.Join(args, " ")
		if len(args) > 1 {
			password = args[len(args)-1]
			name = strings.Join(args[:len(args)-1], " ")
		}
		_, shareURL, err := m.mgr.CreateGroup(name, password)
		if err != nil {
			fail(err)
			return
		}
		m.focusTail()
		m.notice = "invite: " + shareURL

	case "/join":
		if len(args) == 0 {
			m.notice = "usage: /join <secret-or-passphrase> [name]"
			return
		}
		name := ""
		if len(args) > 1 {
			name = strings.Join(args[1:], " ")
		}
		_, already, err := m.mgr.JoinGroup(args[0], "", name)
		if err != nil {
			fail(err)
			return
		}
		m.focusTail()
		if already {
			m.notice = "already a member, switched"
		} else {
			m.notice = ""
		}

	case "/room":
		if len(args) != 1 {
			m.notice = "usage: /room <" + strings.Join(chat.PublicRoomKeys(), "|") + ">"
			return
		}
		_, _, err := m.mgr.JoinPublicRoom(args[0])
		if err != nil {
			fail(err)
			return
		}
		m.focusTail()
		m.notice = ""

	case "/leave":
		if m.focusDM != "" {
			m.notice = "switch to a group first"
			return
		}
		fail(m.mgr.LeaveGroup(m.mgr.ActiveGroupID()))
		m.focusTail()

	case "/vote":
		if len(args) != 1 {
			m.notice = "usage: /vote <option>"
			return
		}
		opt, err := strconv.Atoi(args[0])
		if err != nil {
			m.notice = "option must be a number"
			return
		}
		fail(m.mgr.VoteTime(opt))

	case "/votes":
		gid := m.mgr.ActiveGroupID()
		tally := m.mgr.Votes(gid)
		if len(tally) == 0 {
			m.notice = "no votes yet"
			return
		}
		var b strings.Builder
		for opt, names := range tally {
			fmt.Fprintf(&b, "[%d] %s  ", opt, strings.Join(names, ","))
		}
		m.notice = strings.TrimSpace(b.String())

	case "/share":
		if len(args) == 0 {
			m.notice = "usage: /share <title>"
			return
		}
		fail(m.mgr.ShareProgram(wire.Program{Title: strings.Join(args, " ")}))

	case "/dm":
		if len(args) < 2 {
			m.notice = "usage: /dm <pubkey> <message>"
			return
		}
		if err := m.mgr.SendDirect(args[0], "", strings.Join(args[1:], " ")); err != nil {
			fail(err)
			return
		}
		m.focusDM = args[0]
		m.mgr.OpenDM(args[0])
		m.activeItem = m.threadIndex(args[0])
		m.notice = ""

	case "/help":
		m.notice = "/create /join /room /leave /vote /votes /share /dm — ctrl+↑/↓ switches"

	default:
		m.notice = "unknown command: " + cmd
	}
}

// focusTail selects the engine's active group in the sidebar.
func (m *model) focusTail() {
	m.focusDM = ""
	active := m.mgr.ActiveGroupID()
	for i, g := range m.groups() {
		if g.ID == active {
			m.activeItem = i
			return
		}
	}
	m.activeItem = 0
}

func (m *model) threadIndex(peer string) int {
	groups := m.groups()
	for i, th := range m.threads() {
		if th.PeerPubKey == peer {
			return len(groups) + i
		}
	}
	return 0
}

func (m *model) layout() {
	contentWidth := m.width - m.sidebarWidth() - 2
	contentHeight := m.height - titleHeight - statusHeight - inputHeight - 1
	if contentWidth < 10 {
		contentWidth = 10
	}
	if contentHeight < 1 {
		contentHeight = 1
	}
	m.viewport.Width = contentWidth
	m.viewport.Height = contentHeight
	m.input.SetWidth(contentWidth)
	m.refresh()
}

func (m *model) refresh() {
	var msgs []chat.Message
	if m.focusDM != "" {
		msgs = m.mgr.ThreadMessages(m.focusDM)
	} else {
		msgs = m.mgr.GroupMessages(m.mgr.ActiveGroupID())
	}

	me := m.mgr.Identity()
	var lines []string
	for _, msg := range msgs {
		ts := timestampStyle.Render(time.UnixMilli(msg.TimestampMs).Format("15:04"))
		switch msg.Kind {
		case chat.MsgSystem:
			lines = append(lines, systemStyle.Render("  "+msg.Text))
		case chat.MsgShare:
			author := m.renderAuthor(msg, me.DisplayName)
			lines = append(lines, fmt.Sprintf("%s %s shared: %s", ts, author, m.mgr.Clean(msg.Text)))
		default:
			author := m.renderAuthor(msg, me.DisplayName)
			lines = append(lines, fmt.Sprintf("%s %s: %s", ts, author, m.mgr.Clean(msg.Text)))
		}
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	m.viewport.GotoBottom()
}

func (m *model) renderAuthor(msg chat.Message, ownName string) string {
	if msg.IsMine {
		return ownAuthorStyle.Render(ownName)
	}
	return authorStyle.Render(msg.SenderName)
}

func (m *model) sidebarWidth() int {
	longest := 0
	for _, g := range m.groups() {
		if n := len(g.DisplayName) + 2; n > longest {
			longest = n
		}
	}
	for _, th := range m.threads() {
		if n := len(th.PeerName) + 2; n > longest {
			longest = n
		}
	}
	if longest+3 < minSidebarWidth {
		return minSidebarWidth
	}
	return longest + 3
}

func (m *model) viewSidebar() string {
	groups := m.groups()
	threads := m.threads()
	sw := m.sidebarWidth()
	var items []string

	items = append(items, sidebarSectionStyle.Render("GROUPS"))
	for i, g := range groups {
		prefix := "~"
		if g.Public {
			prefix = "#"
		}
		name := prefix + g.DisplayName
		if g.Unread > 0 {
			name = fmt.Sprintf("%s (%d)", name, g.Unread)
		}
		if len(name) > sw-2 {
			name = name[:sw-2]
		}
		if i == m.activeItem && m.focusDM == "" {
			items = append(items, sidebarSelectedStyle.Render(name))
		} else {
			items = append(items, sidebarItemStyle.Render(name))
		}
	}

	if len(threads) > 0 {
		items = append(items, sidebarSectionStyle.Render("DMS"))
	}
	for i, th := range threads {
		name := "@" + th.PeerName
		if th.PeerName == "" {
			name = "@" + shortKey(th.PeerPubKey)
		}
		if th.Unread > 0 {
			name = fmt.Sprintf("%s (%d)", name, th.Unread)
		}
		if len(name) > sw-2 {
			name = name[:sw-2]
		}
		if len(groups)+i == m.activeItem {
			items = append(items, sidebarSelectedStyle.Render(name))
		} else {
			items = append(items, sidebarItemStyle.Render(name))
		}
	}

	h := m.height - statusHeight
	return sidebarStyle.Width(sw).Height(h).MaxHeight(h).Render(strings.Join(items, "\n"))
}

func (m *model) View() string {
	if m.width == 0 {
		return "loading..."
	}

	title := m.viewTitle()
	content := lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), m.viewport.View(), m.input.View())
	main := lipgloss.JoinHorizontal(lipgloss.Top, m.viewSidebar(), content)
	return lipgloss.JoinVertical(lipgloss.Left, main, m.viewStatusBar())
}

func (m *model) viewTitle() string {
	if m.focusDM != "" {
		for _, th := range m.threads() {
			if th.PeerPubKey == m.focusDM {
				if th.PeerName != "" {
					return "@" + th.PeerName
				}
				return "@" + shortKey(th.PeerPubKey)
			}
		}
		return "@" + shortKey(m.focusDM)
	}
	active := m.mgr.ActiveGroupID()
	for _, g := range m.groups() {
		if g.ID == active {
			dot := offlineDotStyle.Render("●")
			if g.Connected {
				dot = connectedDotStyle.Render("●")
			}
			return fmt.Sprintf("~%s %s %d members", g.DisplayName, dot, g.Members)
		}
	}
	return "rinkchat — /create or /room to get started"
}

func (m *model) viewStatusBar() string {
	me := m.mgr.Identity()
	left := fmt.Sprintf("%s · %d groups", me.DisplayName, len(m.groups()))
	right := m.notice
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 0 {
		gap = 0
	}
	return statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func shortKey(pk string) string {
	if len(pk) > 8 {
		return pk[:8]
	}
	return pk
}
