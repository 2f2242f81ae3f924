// Command portal-admin is an operator terminal dashboard: it polls a
// running portal's status endpoint and renders the live session table.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

const pollInterval = 2 * time.Second

// sessionInfo mirrors hub.SessionInfo; kept as a local copy so this
// binary depends only on net/http and encoding/json to reach a running
// portal, not on the portal's internal packages.
type sessionInfo struct {
	ID     uint64
	Addr   string
	TLS    bool
	Width  uint16
	Height uint16
	Colour string
}

type status struct {
	LinkUp   bool
	Sessions []sessionInfo
}

func main() {
	addr := flag.String("addr", "http://127.0.0.1:7778", "base URL of a running portal's admin status endpoint")
	flag.Parse()

	p := tea.NewProgram(newModel(*addr), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type tickMsg time.Time

type statusMsg struct {
	status status
	err    error
}

type model struct {
	url   string
	table table.Model
	link  bool
	err   error
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	upStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	downStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func newModel(url string) model {
	columns := []table.Column{
		{Title: "ID", Width: 10},
		{Title: "Address", Width: 22},
		{Title: "TLS", Width: 5},
		{Title: "Size", Width: 10},
		{Title: "Colour", Width: 10},
	}
	t := table.New(table.WithColumns(columns), table.WithFocused(true), table.WithHeight(20))
	return model{url: url, table: t}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(pollCmd(m.url), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func pollCmd(url string) tea.Cmd {
	return func() tea.Msg {
		s, err := fetchStatus(url)
		return statusMsg{status: s, err: err}
	}
}

func fetchStatus(url string) (status, error) {
	client := http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url + "/status")
	if err != nil {
		return status{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return status{}, fmt.Errorf("status endpoint returned %s", resp.Status)
	}

	var s status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return status{}, err
	}
	return s, nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(pollCmd(m.url), tickCmd())
	case statusMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.link = msg.status.LinkUp
		m.table.SetRows(rowsFor(msg.status.Sessions))
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func rowsFor(sessions []sessionInfo) []table.Row {
	rows := make([]table.Row, 0, len(sessions))
	for _, s := range sessions {
		tls := "no"
		if s.TLS {
			tls = "yes"
		}
		rows = append(rows, table.Row{
			fmt.Sprint(s.ID),
			s.Addr,
			tls,
			fmt.Sprintf("%dx%d", s.Width, s.Height),
			s.Colour,
		})
	}
	return rows
}

func (m model) View() string {
	linkState := downStyle.Render("link down")
	if m.link {
		linkState = upStyle.Render("link up")
	}

	out := titleStyle.Render("portal admin") + "  " + linkState + "\n\n"
	if m.err != nil {
		out += errStyle.Render(fmt.Sprintf("poll error: %v", m.err)) + "\n\n"
	}
	out += m.table.View() + "\n\nq to quit\n"
	return out
}
