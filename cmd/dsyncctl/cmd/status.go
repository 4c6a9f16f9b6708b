package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var watch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon's current replication state",
	RunE: func(cmd *cobra.Command, args []string) error {
		if watch {
			return runStatusTUI()
		}
		return printStatusOnce()
	},
}

func init() {
	statusCmd.Flags().BoolVar(&watch, "watch", false, "keep polling and render a live view")
	rootCmd.AddCommand(statusCmd)
}

func printStatusOnce() error {
	st, err := fetchStatus(addr)
	if err != nil {
		return err
	}

	fmt.Printf("State:       %s\n", orDash(st.State))
	fmt.Printf("Done:        %v\n", st.Done)
	fmt.Printf("Failed:      %v\n", st.Failed)
	fmt.Printf("Sync Type:   %s\n", orDash(st.SyncType))
	if st.Scheduled {
		fmt.Printf("Scheduled:   true (running=%v, next=%s)\n", st.Running, orDash(st.NextRun))
		if st.LastError != "" {
			fmt.Printf("Last Error:  %s\n", st.LastError)
		}
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// statusTickMsg triggers a re-poll of the status endpoint.
type statusTickMsg time.Time

type statusModel struct {
	spinner spinner.Model
	last    *statusResponse
	err     error
}

func newStatusModel() statusModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return statusModel{spinner: s}
}

func (m statusModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, pollStatus(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return statusTickMsg(t) })
}

func pollStatus() tea.Cmd {
	return func() tea.Msg {
		st, err := fetchStatus(addr)
		if err != nil {
			return statusErrMsg{err}
		}
		return statusOkMsg{st}
	}
}

type statusOkMsg struct{ st *statusResponse }
type statusErrMsg struct{ err error }

func (m statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case statusTickMsg:
		return m, tea.Batch(m.spinner.Tick, pollStatus(), tick())
	case statusOkMsg:
		m.last = msg.st
		m.err = nil
	case statusErrMsg:
		m.err = msg.err
	}
	return m, nil
}

func (m statusModel) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Render("dsyncd status")
	s := title + "\n\nPress q to quit\n\n"

	if m.err != nil {
		s += lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("error: "+m.err.Error()) + "\n"
		return s
	}

	if m.last == nil {
		s += m.spinner.View() + " waiting for first response...\n"
		return s
	}

	doneStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	if m.last.Failed {
		doneStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	} else if m.last.Done {
		doneStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	}

	s += fmt.Sprintf("%s state=%s done=%v failed=%v\n", m.spinner.View(), orDash(m.last.State), m.last.Done, m.last.Failed)
	s += doneStyle.Render(fmt.Sprintf("sync_type=%s", orDash(m.last.SyncType))) + "\n"

	if m.last.Scheduled {
		s += fmt.Sprintf("scheduled: running=%v next=%s\n", m.last.Running, orDash(m.last.NextRun))
		if m.last.LastError != "" {
			s += lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("last error: "+m.last.LastError) + "\n"
		}
	}

	return s
}

func runStatusTUI() error {
	p := tea.NewProgram(newStatusModel())
	_, err := p.Run()
	return err
}
