// Package tui renders the volume surface: a percentage, a
// proportional bar, a transient direction indicator and, when present,
// the last error message.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/voltray/voltray/internal/syncer"
)

const defaultBarWidth = 40

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	percentStyle = lipgloss.NewStyle().Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	pulseStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
)

// stateMsg carries a synchronizer update into the Bubble Tea loop.
type stateMsg syncer.Update

// pulseExpiredMsg reverts the direction indicator. The sequence number
// keeps a stale timer from clearing a newer pulse.
type pulseExpiredMsg struct {
	seq int
}

// NewUpdateChannel returns a channel and a notify function suitable
// for syncer.New. The notify never blocks the synchronizer: when the
// channel is full the oldest update is dropped, so the latest state
// always gets through.
func NewUpdateChannel() (chan syncer.Update, func(syncer.Update)) {
	ch := make(chan syncer.Update, 64)
	notify := func(u syncer.Update) {
		for {
			select {
			case ch <- u:
				return
			default:
				select {
				case <-ch:
				default:
				}
			}
		}
	}
	return ch, notify
}

// Model is the Bubble Tea model for the volume surface.
type Model struct {
	sync    *syncer.Synchronizer
	updates <-chan syncer.Update

	bar      progress.Model
	state    syncer.RenderState
	pulse    syncer.Direction
	pulseSeq int
}

// New creates the model. updates is the channel fed by the
// synchronizer's notify function.
func New(s *syncer.Synchronizer, updates <-chan syncer.Update) Model {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = defaultBarWidth
	bar.ShowPercentage = false

	return Model{
		sync:    s,
		updates: updates,
		bar:     bar,
		state:   s.State(),
	}
}

func (m Model) Init() tea.Cmd {
	return waitForUpdate(m.updates)
}

func waitForUpdate(updates <-chan syncer.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return nil
		}
		return stateMsg(u)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			return m, increaseCmd(m.sync)
		case "down", "j":
			return m, decreaseCmd(m.sync)
		}

	case tea.WindowSizeMsg:
		width := msg.Width - 10
		if width < 10 {
			width = 10
		}
		if width > defaultBarWidth {
			width = defaultBarWidth
		}
		m.bar.Width = width

	case stateMsg:
		m.state = msg.State
		cmds := []tea.Cmd{waitForUpdate(m.updates)}
		if msg.Pulse != syncer.DirectionNone {
			m.pulse = msg.Pulse
			m.pulseSeq++
			seq := m.pulseSeq
			cmds = append(cmds, tea.Tick(syncer.PulseDuration, func(time.Time) tea.Msg {
				return pulseExpiredMsg{seq: seq}
			}))
		}
		return m, tea.Batch(cmds...)

	case pulseExpiredMsg:
		if msg.seq == m.pulseSeq {
			m.pulse = syncer.DirectionNone
		}
	}

	return m, nil
}

func increaseCmd(s *syncer.Synchronizer) tea.Cmd {
	return func() tea.Msg {
		s.Increase(context.Background())
		return nil
	}
}

func decreaseCmd(s *syncer.Synchronizer) tea.Cmd {
	return func() tea.Msg {
		s.Decrease(context.Background())
		return nil
	}
}

func (m Model) View() string {
	pulse := "  "
	switch m.pulse {
	case syncer.DirectionUp:
		pulse = pulseStyle.Render("▲ ")
	case syncer.DirectionDown:
		pulse = pulseStyle.Render("▼ ")
	}

	status := dimStyle.Render("↑/↓ adjust · q quit")
	if m.state.ErrMessage != "" {
		status = errorStyle.Render(m.state.ErrMessage)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Volume"),
		"",
		pulse+m.bar.ViewAs(float64(m.state.Percent)/100)+" "+percentStyle.Render(fmt.Sprintf("%d%%", m.state.Percent)),
		"",
		status,
	) + "\n"
}
