package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/dbusapi"
	"github.com/yllada/wg-manager/vpn"
)

type dashboardKeyMap struct {
	Up         key.Binding
	Down       key.Binding
	Connect    key.Binding
	Disconnect key.Binding
	Quit       key.Binding
}

func defaultDashboardKeyMap() dashboardKeyMap {
	return dashboardKeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("up/k", "move up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("down/j", "move down"),
		),
		Connect: key.NewBinding(
			key.WithKeys("enter", "c"),
			key.WithHelp("enter", "connect"),
		),
		Disconnect: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "disconnect"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

func (k dashboardKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Connect, k.Disconnect, k.Quit}
}

func (k dashboardKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).MarginBottom(1)
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)

	stateStyles = map[vpn.SessionState]lipgloss.Style{
		vpn.StateIdle:          lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		vpn.StateConnecting:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		vpn.StateConnected:     lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		vpn.StateDisconnecting: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		vpn.StateFailed:        lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
)

type dashboardStatusMsg struct {
	seq      uint64
	status   dbusapi.Status
	profiles []dbusapi.ProfileInfo
	err      error
	at       time.Time
}

type dashboardTickMsg struct {
	seq uint64
}

type dashboardActionMsg struct {
	action string
	err    error
}

// Dashboard is a terminal view of the session with connect and disconnect
// actions. Status is polled every common.DashboardRefresh.
type Dashboard struct {
	ctx      context.Context
	frontend dbusapi.Frontend
	keys     dashboardKeyMap
	help     help.Model
	spinner  spinner.Model

	seq      uint64
	status   dbusapi.Status
	profiles []dbusapi.ProfileInfo
	cursor   int
	busy     string
	err      error
	width    int

	lastSample time.Time
	lastRx     uint64
	lastTx     uint64
	rxRate     float64
	txRate     float64
}

// NewDashboard creates a dashboard driving f.
func NewDashboard(ctx context.Context, f dbusapi.Frontend) Dashboard {
	if ctx == nil {
		ctx = context.Background()
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Dashboard{
		ctx:      ctx,
		frontend: f,
		keys:     defaultDashboardKeyMap(),
		help:     help.New(),
		spinner:  sp,
		seq:      1,
	}
}

// RunDashboard runs the dashboard until the user quits or ctx is done.
func RunDashboard(ctx context.Context, f dbusapi.Frontend) error {
	program := tea.NewProgram(NewDashboard(ctx, f), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Dashboard) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), m.spinner.Tick)
}

func (m Dashboard) refreshCmd() tea.Cmd {
	seq, ctx, f := m.seq, m.ctx, m.frontend
	return func() tea.Msg {
		st, err := f.Status(ctx)
		if err != nil {
			return dashboardStatusMsg{seq: seq, err: err, at: time.Now()}
		}
		profiles, err := f.Profiles(ctx)
		return dashboardStatusMsg{seq: seq, status: st, profiles: profiles, err: err, at: time.Now()}
	}
}

func tickCmd(seq uint64) tea.Cmd {
	return tea.Tick(common.DashboardRefresh, func(time.Time) tea.Msg {
		return dashboardTickMsg{seq: seq}
	})
}

func (m Dashboard) actionCmd(action string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return dashboardActionMsg{action: action, err: fn(ctx)}
	}
}

func (m Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case dashboardStatusMsg:
		m.apply(msg)
		if msg.seq != m.seq {
			return m, nil
		}
		return m, tickCmd(m.seq)

	case dashboardTickMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		return m, m.refreshCmd()

	case dashboardActionMsg:
		m.busy = ""
		m.err = msg.err
		m.seq++
		return m, m.refreshCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.profiles)-1 {
				m.cursor++
			}
		case key.Matches(msg, m.keys.Connect):
			if m.busy != "" || len(m.profiles) == 0 {
				return m, nil
			}
			name := m.profiles[m.cursor].Name
			m.busy = "Connecting to " + name
			m.err = nil
			return m, m.actionCmd("connect", func(ctx context.Context) error {
				return m.frontend.Connect(ctx, name)
			})
		case key.Matches(msg, m.keys.Disconnect):
			if m.busy != "" {
				return m, nil
			}
			m.busy = "Disconnecting"
			m.err = nil
			return m, m.actionCmd("disconnect", m.frontend.Disconnect)
		}
	}
	return m, nil
}

func (m *Dashboard) apply(msg dashboardStatusMsg) {
	if msg.err != nil {
		m.err = msg.err
		return
	}

	st := msg.status
	if st.SessionState() == vpn.StateConnected && st.SessionID == m.status.SessionID && !m.lastSample.IsZero() {
		if secs := msg.at.Sub(m.lastSample).Seconds(); secs > 0 {
			m.rxRate = float64(st.RxBytes-min(st.RxBytes, m.lastRx)) / secs
			m.txRate = float64(st.TxBytes-min(st.TxBytes, m.lastTx)) / secs
		}
	} else {
		m.rxRate, m.txRate = 0, 0
	}
	m.lastSample, m.lastRx, m.lastTx = msg.at, st.RxBytes, st.TxBytes

	m.status = st
	m.profiles = msg.profiles
	if m.cursor >= len(m.profiles) {
		m.cursor = max(0, len(m.profiles)-1)
	}
}

func (m Dashboard) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(common.AppName))
	b.WriteString("\n")

	b.WriteString(boxStyle.Render(m.sessionView(time.Now())))
	b.WriteString("\n\n")

	b.WriteString(labelStyle.Render("Profiles"))
	b.WriteString("\n")
	if len(m.profiles) == 0 {
		b.WriteString("  No profiles. Import one with: wg-manager profile import NAME FILE\n")
	}
	for i, p := range m.profiles {
		line := fmt.Sprintf("  %s  %s", p.Name, p.Endpoint)
		if p.Name == m.status.Name && m.status.SessionState().IsLive() {
			line += "  (" + m.status.State + ")"
		}
		if i == m.cursor {
			line = selectedStyle.Render("> " + strings.TrimPrefix(line, "  "))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.busy != "" {
		b.WriteString(m.spinner.View() + " " + m.busy + "...\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render("Error: "+m.err.Error()) + "\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Dashboard) sessionView(now time.Time) string {
	st := m.status
	state := st.SessionState()
	style, ok := stateStyles[state]
	if !ok {
		style = stateStyles[vpn.StateIdle]
	}

	rows := [][2]string{{"State", style.Render(state.String())}}
	if state.IsLive() {
		rows = append(rows,
			[2]string{"Profile", st.Name},
			[2]string{"Endpoint", st.Endpoint},
			[2]string{"Interface", st.Interface},
		)
	}
	if state == vpn.StateConnected {
		handshake := "never"
		if age := st.HandshakeAge(now); st.LastHandshake != 0 {
			handshake = common.FormatDuration(age) + " ago"
		}
		rows = append(rows,
			[2]string{"Uptime", common.FormatDuration(st.Uptime(now))},
			[2]string{"Health", st.Health},
			[2]string{"Handshake", handshake},
			[2]string{"Received", fmt.Sprintf("%s (%s/s)", common.FormatBytes(st.RxBytes), common.FormatBytes(uint64(m.rxRate)))},
			[2]string{"Sent", fmt.Sprintf("%s (%s/s)", common.FormatBytes(st.TxBytes), common.FormatBytes(uint64(m.txRate)))},
		)
	}
	if st.LastError != "" && state != vpn.StateConnected {
		rows = append(rows, [2]string{"Last error", errorStyle.Render(st.LastError)})
	}

	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(r[0]), r[1])
	}
	return strings.Join(lines, "\n")
}
