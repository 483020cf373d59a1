// Package tui provides the interactive terminal monitor for the cfagents
// daemon: agent pools, skills and the message log.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/cfagents/internal/agents"
	"github.com/fentz26/cfagents/internal/models"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	itemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(cyanColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

// View modes, cycled with Tab.
const (
	modeAgents   = "agents"
	modeMessages = "messages"
	modeStatus   = "status"
	modeDetail   = "detail"
)

var tabOrder = []string{modeAgents, modeMessages, modeStatus}

const refreshInterval = 2 * time.Second

// App is the main TUI application model.
type App struct {
	client       *Client
	agents       []agents.Info
	skillNames   []string
	selectedIdx  int
	messages     []models.Message
	status       *StatusSummary
	detail       *AgentDetail
	input        textinput.Model
	viewport     viewport.Model
	width        int
	height       int
	mode         string
	message      string
	daemonOnline bool
	suggestions  *Suggestions
}

// New creates a new TUI application.
func New(apiAddr string) *App {
	ti := textinput.New()
	ti.Placeholder = "Type: /attach <agent> <skill> | /reset <agent> | /delegate <from> <to> <action> | /run"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 80

	return &App{
		client:      NewClient(apiAddr),
		input:       ti,
		viewport:    viewport.New(80, 20),
		mode:        modeAgents,
		suggestions: NewSuggestions(),
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.checkDaemon(),
		a.fetchAgents(),
		a.fetchSkills(),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "esc":
			if a.mode == modeDetail {
				a.mode = modeAgents
				a.detail = nil
				return a, nil
			}

		case "up":
			if a.suggestions.IsVisible() {
				a.suggestions.Prev()
			} else if a.mode == modeAgents && a.selectedIdx > 0 {
				a.selectedIdx--
			} else if a.mode == modeMessages {
				a.viewport.LineUp(1)
			}
			return a, nil

		case "down":
			if a.suggestions.IsVisible() {
				a.suggestions.Next()
			} else if a.mode == modeAgents && a.selectedIdx < len(a.agents)-1 {
				a.selectedIdx++
			} else if a.mode == modeMessages {
				a.viewport.LineDown(1)
			}
			return a, nil

		case "tab":
			if a.suggestions.IsVisible() {
				a.acceptSuggestion()
				return a, nil
			}
			a.mode = nextMode(a.mode)
			return a, a.refresh()

		case "enter":
			if a.suggestions.IsVisible() {
				a.acceptSuggestion()
				return a, nil
			}
			input := strings.TrimSpace(a.input.Value())
			if input != "" {
				a.input.SetValue("")
				return a, a.executeCommand(input)
			}
			if a.mode == modeAgents && len(a.agents) > 0 {
				a.mode = modeDetail
				return a, a.fetchDetail(a.agents[a.selectedIdx].Name)
			}
			return a, nil
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 4
		a.viewport.Width = msg.Width
		a.viewport.Height = max(5, msg.Height-10)
		a.viewport.SetContent(a.renderMessages())

	case agentsLoadedMsg:
		a.agents = msg.agents
		if a.selectedIdx >= len(a.agents) {
			a.selectedIdx = max(0, len(a.agents)-1)
		}

	case skillsLoadedMsg:
		a.skillNames = msg.names

	case messagesLoadedMsg:
		a.messages = msg.messages
		a.viewport.SetContent(a.renderMessages())
		a.viewport.GotoBottom()

	case statusLoadedMsg:
		a.status = msg.status

	case detailLoadedMsg:
		a.detail = msg.detail

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case tickMsg:
		cmds = append(cmds, a.refresh(), a.checkDaemon(), a.tickCmd())

	case commandResultMsg:
		a.message = msg.message
		cmds = append(cmds, a.refresh())

	case errMsg:
		a.message = "Error: " + msg.err.Error()
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	a.suggestions.Update(a.input.Value())
	if strings.HasPrefix(a.input.Value(), "@") {
		names := make([]string, len(a.agents))
		for i, ag := range a.agents {
			names[i] = ag.Name
		}
		a.suggestions.SetAgents(names)
		a.suggestions.AddSkills(a.skillNames)
	}

	return a, tea.Batch(cmds...)
}

func (a *App) acceptSuggestion() {
	if selected := a.suggestions.Selected(); selected != nil {
		a.input.SetValue(selected.Text + " ")
		a.input.CursorEnd()
		a.suggestions.Update("")
	}
}

func nextMode(mode string) string {
	for i, m := range tabOrder {
		if m == mode {
			return tabOrder[(i+1)%len(tabOrder)]
		}
	}
	return modeAgents
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemon := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemon = offlineStyle.Render("○ DAEMON")
	}
	header := titleStyle.Render("cfagents") + "  " + daemon
	header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(fmt.Sprintf("[%d agents]", len(a.agents)))
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 1)) + "\n")

	contentHeight := max(5, a.height-8)

	switch a.mode {
	case modeAgents:
		b.WriteString(a.renderAgents(contentHeight))
	case modeDetail:
		b.WriteString(a.renderDetail())
	case modeMessages:
		b.WriteString(a.viewport.View())
	case modeStatus:
		b.WriteString(a.renderStatus())
	}

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	} else {
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))
	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	var status string
	switch a.mode {
	case modeAgents:
		status = fmt.Sprintf(" Agents: %d | ↑↓:nav | Enter:detail | Tab:messages | Ctrl+C:quit", len(a.agents))
	case modeDetail:
		status = " Esc:back | /attach /detach /reset | Ctrl+C:quit"
	case modeMessages:
		status = fmt.Sprintf(" Messages: %d | ↑↓:scroll | Tab:status | Ctrl+C:quit", len(a.messages))
	case modeStatus:
		status = " Tab:agents | Ctrl+C:quit"
	}
	b.WriteString(statusBarStyle.Width(max(a.width, 1)).Render(status))

	return b.String()
}

func (a *App) renderAgents(height int) string {
	if len(a.agents) == 0 {
		return "\n  No agents loaded. Is the daemon running?\n"
	}

	var lines []string
	for i, ag := range a.agents {
		slots := fmt.Sprintf("%d/%d slots", len(ag.Skills), ag.SkillSlots)
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render(fmt.Sprintf("▶ %-22s %-10s %-10s %s", ag.Name, ag.Status, slots, ag.Role)))
			continue
		}
		lines = append(lines, itemStyle.Render(fmt.Sprintf("  %-22s %s %-10s %s", ag.Name, formatStatus(ag.Status), slots, mutedStyle.Render(ag.Role))))
	}

	// Keep the selection visible.
	start := 0
	if len(lines) > height {
		start = min(max(0, a.selectedIdx-height/2), len(lines)-height)
		lines = lines[start : start+height]
	}
	return strings.Join(lines, "\n") + "\n"
}

func (a *App) renderDetail() string {
	if a.detail == nil {
		return "\n  Loading agent...\n"
	}
	var ag *agents.Info
	for i := range a.agents {
		if a.agents[i].Name == a.detail.Name {
			ag = &a.agents[i]
		}
	}
	if ag == nil {
		return "\n  Agent not found.\n"
	}

	var b strings.Builder
	b.WriteString(sectionStyle.Render(ag.Name) + "  " + formatStatus(ag.Status) + "\n")
	if ag.Description != "" {
		b.WriteString(mutedStyle.Render(ag.Description) + "\n")
	}
	b.WriteString(fmt.Sprintf("\n%s (%d/%d)\n", sectionStyle.Render("Skills"), len(ag.Skills), ag.SkillSlots))
	if len(ag.Skills) == 0 {
		b.WriteString(mutedStyle.Render("  none attached") + "\n")
	}
	for _, s := range ag.Skills {
		b.WriteString("  • " + s + "\n")
	}
	b.WriteString(fmt.Sprintf("\n%s\n", sectionStyle.Render("Recommended")))
	if len(a.detail.Recommendations) == 0 {
		b.WriteString(mutedStyle.Render("  no skills list this agent") + "\n")
	}
	for _, s := range a.detail.Recommendations {
		b.WriteString(fmt.Sprintf("  • %s [%s] %s\n", s.Name, s.SkillLevel, mutedStyle.Render(s.Description)))
	}
	b.WriteString(fmt.Sprintf("\n%s %d\n", sectionStyle.Render("Completed tasks:"), ag.Completed))
	return b.String()
}

func (a *App) renderMessages() string {
	if len(a.messages) == 0 {
		return "\n  No messages yet.\n"
	}
	var b strings.Builder
	for _, m := range a.messages {
		line := fmt.Sprintf("%s  %-8s %s → %s  %s",
			m.Timestamp.Local().Format("15:04:05"),
			m.Priority,
			m.Sender, m.Recipient,
			string(m.Type),
		)
		if action, ok := m.Payload["action"].(string); ok {
			line += " " + mutedStyle.Render(action)
		}
		if status, ok := m.Payload["status"].(string); ok {
			line += " " + formatStatus(models.AgentStatus(statusWord(status)))
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// statusWord maps result statuses onto the agent status palette.
func statusWord(s string) string {
	if s == string(models.ResultSuccess) {
		return string(models.AgentStatusCompleted)
	}
	return s
}

func (a *App) renderStatus() string {
	st := a.status
	if st == nil {
		return "\n  Loading status...\n"
	}

	var b strings.Builder
	b.WriteString(sectionStyle.Render("Orchestrator") + "\n")
	b.WriteString(fmt.Sprintf("  queued tasks: %d   completed: %d\n", st.QueueSize, st.Completed))
	b.WriteString(fmt.Sprintf("  core agents: %d   specialized: %d\n", len(st.Core), len(st.Specialized)))
	b.WriteString("\n" + sectionStyle.Render("Bus") + "\n")
	b.WriteString(fmt.Sprintf("  queued messages: %d   awaiting response: %d\n", st.BusQueue, st.Pending))
	b.WriteString("\n" + sectionStyle.Render("Dispatcher") + "\n")
	if st.Dispatcher == nil {
		b.WriteString(mutedStyle.Render("  disabled") + "\n")
		return b.String()
	}
	d := st.Dispatcher
	b.WriteString(fmt.Sprintf("  workers: %d/%d   dispatched: %d   answered: %d\n", d.ActiveWorkers, d.GlobalMax, d.Dispatched, d.Answered))
	for agent, n := range d.Inbox {
		b.WriteString(fmt.Sprintf("  inbox %-20s %d\n", agent, n))
	}
	return b.String()
}

func formatStatus(status models.AgentStatus) string {
	style := lipgloss.NewStyle()
	switch status {
	case models.AgentStatusIdle:
		style = style.Foreground(mutedColor)
	case models.AgentStatusRunning:
		style = style.Foreground(cyanColor)
	case models.AgentStatusCompleted:
		style = style.Foreground(successColor)
	case models.AgentStatusFailed:
		style = style.Foreground(errorColor)
	case models.AgentStatusWaiting:
		style = style.Foreground(warningColor)
	}
	return style.Render(fmt.Sprintf("● %-9s", status))
}

// --- Commands ---

func (a *App) refresh() tea.Cmd {
	switch a.mode {
	case modeMessages:
		return a.fetchMessages()
	case modeStatus:
		return a.fetchStatus()
	case modeDetail:
		if a.detail != nil {
			return tea.Batch(a.fetchAgents(), a.fetchDetail(a.detail.Name))
		}
	}
	return a.fetchAgents()
}

func (a *App) fetchAgents() tea.Cmd {
	return func() tea.Msg {
		list, err := a.client.ListAgents()
		if err != nil {
			return errMsg{err}
		}
		return agentsLoadedMsg{list}
	}
}

func (a *App) fetchSkills() tea.Cmd {
	return func() tea.Msg {
		list, err := a.client.ListSkills()
		if err != nil {
			return errMsg{err}
		}
		names := make([]string, len(list))
		for i, s := range list {
			names[i] = s.Name
		}
		return skillsLoadedMsg{names}
	}
}

func (a *App) fetchMessages() tea.Cmd {
	return func() tea.Msg {
		list, err := a.client.ListMessages("", 200)
		if err != nil {
			return errMsg{err}
		}
		return messagesLoadedMsg{list}
	}
}

func (a *App) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		st, err := a.client.Status()
		if err != nil {
			return errMsg{err}
		}
		return statusLoadedMsg{st}
	}
}

func (a *App) fetchDetail(agent string) tea.Cmd {
	return func() tea.Msg {
		recs, err := a.client.Recommendations(agent, 5)
		if err != nil {
			return errMsg{err}
		}
		return detailLoadedMsg{&AgentDetail{Name: agent, Recommendations: recs}}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		return daemonStatusMsg{online: a.client.Healthy()}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (a *App) executeCommand(input string) tea.Cmd {
	cmd, err := parseCommand(input)
	if err != nil {
		return func() tea.Msg { return errMsg{err} }
	}

	return func() tea.Msg {
		switch cmd.name {
		case "attach":
			if err := a.client.AttachSkill(cmd.args[0], cmd.args[1]); err != nil {
				return errMsg{err}
			}
			return commandResultMsg{fmt.Sprintf("✓ Attached %s to %s", cmd.args[1], cmd.args[0])}
		case "detach":
			if err := a.client.DetachSkill(cmd.args[0], cmd.args[1]); err != nil {
				return errMsg{err}
			}
			return commandResultMsg{fmt.Sprintf("✓ Detached %s from %s", cmd.args[1], cmd.args[0])}
		case "reset":
			if err := a.client.ResetAgent(cmd.args[0]); err != nil {
				return errMsg{err}
			}
			return commandResultMsg{fmt.Sprintf("✓ %s is idle", cmd.args[0])}
		case "delegate":
			id, err := a.client.Delegate(cmd.args[0], cmd.args[1], cmd.args[2])
			if err != nil {
				return errMsg{err}
			}
			return commandResultMsg{fmt.Sprintf("✓ Delegated %s to %s (%s)", cmd.args[2], cmd.args[1], shortID(id))}
		case "run":
			results, err := a.client.RunQueued()
			if err != nil {
				return errMsg{err}
			}
			ok := 0
			for _, r := range results {
				if r.Succeeded() {
					ok++
				}
			}
			return commandResultMsg{fmt.Sprintf("✓ Ran %d queued task(s), %d succeeded", len(results), ok)}
		default:
			return commandResultMsg{"✓ Refreshed"}
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- Messages ---

type agentsLoadedMsg struct{ agents []agents.Info }
type skillsLoadedMsg struct{ names []string }
type messagesLoadedMsg struct{ messages []models.Message }
type statusLoadedMsg struct{ status *StatusSummary }
type detailLoadedMsg struct{ detail *AgentDetail }
type daemonStatusMsg struct{ online bool }
type commandResultMsg struct{ message string }
type tickMsg struct{}
type errMsg struct{ err error }
