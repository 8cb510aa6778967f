package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/rkflash/internal/eventserver"
	"github.com/muurk/rkflash/internal/ui"
)

// SubscribeFunc follows an event stream until ctx ends or it closes
type SubscribeFunc func(ctx context.Context, url string, fn func(eventserver.Message)) error

type streamMsg eventserver.Message
type streamClosedMsg struct{ err error }

// stream pumps messages from a subscription into the program one at a time
type stream struct {
	msgs chan eventserver.Message
	done chan error
}

func startStream(ctx context.Context, url string, subscribe SubscribeFunc) *stream {
	s := &stream{
		msgs: make(chan eventserver.Message),
		done: make(chan error, 1),
	}
	go func() {
		s.done <- subscribe(ctx, url, func(m eventserver.Message) {
			select {
			case s.msgs <- m:
			case <-ctx.Done():
			}
		})
	}()
	return s
}

// next waits for the next message. Messages are unbuffered, so every one is
// delivered before the close.
func (s *stream) next() tea.Cmd {
	return func() tea.Msg {
		select {
		case m := <-s.msgs:
			return streamMsg(m)
		case err := <-s.done:
			return streamClosedMsg{err: err}
		}
	}
}

// dashboardKeyMap defines key bindings for the live view
type dashboardKeyMap struct {
	Back key.Binding
	Help key.Binding
	Quit key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k dashboardKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Back, k.Help, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k dashboardKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Back, k.Help, k.Quit}}
}

// Row is the latest state of one workflow in the stream
type Row struct {
	Operation string
	Partition string
	Total     int64
	Done      int64
	Finished  bool
	Outcome   string
	Err       string
	Partial   bool
	Mismatch  *int64
	Started   time.Time
	Updated   time.Time
}

// Percent returns progress as a fraction in 0..1
func (r *Row) Percent() float64 {
	if r.Total <= 0 {
		if r.Finished {
			return 1
		}
		return 0
	}
	return min(1, float64(r.Done)/float64(r.Total))
}

// DashboardModel shows live progress of a remote rkflash run
type DashboardModel struct {
	URL       string
	Rows      []*Row
	Connected bool
	Closed    bool
	Err       error

	Width   int
	Height  int
	Spinner spinner.Model
	Bar     progress.Model
	Help    help.Model
	Keys    dashboardKeyMap

	// CanGoBack enables the key that returns to the stream list
	CanGoBack bool

	backRequested bool
	stream        *stream
	cancel        context.CancelFunc
}

// NewDashboardModel creates the live view for url. The subscription starts
// on Init.
func NewDashboardModel(url string) DashboardModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40

	return DashboardModel{
		URL:     url,
		Spinner: s,
		Bar:     bar,
		Help:    help.New(),
		Keys: dashboardKeyMap{
			Back: key.NewBinding(key.WithKeys("b", "esc"), key.WithHelp("b", "streams")),
			Help: key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
			Quit: key.NewBinding(key.WithKeys("q"), key.WithHelp("q", "quit")),
		},
	}
}

// Connect starts the subscription. It must be called once before Init.
func (m *DashboardModel) Connect(ctx context.Context, subscribe SubscribeFunc) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.stream = startStream(ctx, m.URL, subscribe)
	m.Connected = true
}

// Stop ends the subscription
func (m *DashboardModel) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Init waits for the first message
func (m DashboardModel) Init() tea.Cmd {
	if m.stream == nil {
		return nil
	}
	return tea.Batch(m.stream.next(), m.Spinner.Tick)
}

// Update handles messages and updates the model
func (m DashboardModel) Update(msg tea.Msg) (DashboardModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.Keys.Back):
			if m.CanGoBack {
				m.Stop()
				m.backRequested = true
			}
		case key.Matches(msg, m.Keys.Help):
			m.Help.ShowAll = !m.Help.ShowAll
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Bar.Width = max(20, min(60, contentWidth(msg.Width)-36))

	case streamMsg:
		m.apply(eventserver.Message(msg))
		return m, m.stream.next()

	case streamClosedMsg:
		m.Closed = true
		m.Err = msg.err
		return m, nil

	case spinner.TickMsg:
		if m.Closed {
			return m, nil
		}
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// apply folds a message into the rows. A started message always opens a
// new row so repeated runs of the same partition stay separate.
func (m *DashboardModel) apply(msg eventserver.Message) {
	now := msg.Time
	if now.IsZero() {
		now = time.Now()
	}

	row := m.find(msg.Operation, msg.Partition)
	if row == nil || (msg.Type == "started" && row.Finished) {
		row = &Row{Operation: msg.Operation, Partition: msg.Partition, Started: now}
		m.Rows = append(m.Rows, row)
	}

	row.Total = msg.TotalBytes
	row.Done = msg.BytesDone
	row.Updated = now
	if msg.Type == "finished" {
		row.Finished = true
		row.Outcome = msg.Outcome
		row.Err = msg.Error
		row.Partial = msg.Partial
		row.Mismatch = msg.MismatchOffset
	}
}

// find returns the latest row for operation and partition
func (m *DashboardModel) find(operation, partition string) *Row {
	for i := len(m.Rows) - 1; i >= 0; i-- {
		if r := m.Rows[i]; r.Operation == operation && r.Partition == partition {
			return r
		}
	}
	return nil
}

// IsBackRequested reports whether the user asked for the stream list
func (m DashboardModel) IsBackRequested() bool {
	return m.backRequested
}

// View renders the dashboard
func (m DashboardModel) View() string {
	width := m.Width
	if width == 0 {
		width = MinTerminalWidth
	}

	var b strings.Builder
	b.WriteString("\n")

	status := m.Spinner.View() + " following"
	switch {
	case m.Closed && m.Err != nil:
		status = ErrorTextStyle.Render("✗ stream failed: " + m.Err.Error())
	case m.Closed:
		status = NoteStyle.Render("stream closed")
	}
	b.WriteString(fmt.Sprintf("  %s %s\n\n", LabelStyle.Render(m.URL), status))

	if len(m.Rows) == 0 && !m.Closed {
		b.WriteString("  " + SubtitleStyle.Render("Waiting for the first operation...") + "\n")
	}
	for _, r := range m.Rows {
		b.WriteString(m.renderRow(r))
		b.WriteString("\n")
	}

	keys := m.Keys
	keys.Back.SetEnabled(m.CanGoBack)
	return RenderApplicationContainer(b.String(), m.Help.View(keys), width, m.Height)
}

// renderRow renders one workflow line and its status
func (m DashboardModel) renderRow(r *Row) string {
	label := fmt.Sprintf("%-8s %-12s", r.Operation, r.Partition)
	line := "  " + LabelStyle.Render(label) + " " + m.Bar.ViewAs(r.Percent())
	line += "  " + NoteStyle.Render(fmt.Sprintf("%s / %s", ui.FormatBytes(r.Done), ui.FormatBytes(r.Total)))

	if !r.Finished {
		return line + "\n"
	}

	var status string
	switch r.Outcome {
	case "success":
		status = SuccessTextStyle.Render("✓ done") + NoteStyle.Render(" in "+r.Updated.Sub(r.Started).Round(time.Millisecond).String())
	case "cancelled":
		status = WarningTextStyle.Render("⚠ cancelled")
	default:
		status = ErrorTextStyle.Render("✗ " + r.Outcome)
	}
	if r.Mismatch != nil {
		status += NoteStyle.Render(fmt.Sprintf(", first difference at byte %d", *r.Mismatch))
	}
	if r.Partial {
		status += WarningTextStyle.Render(", partially written")
	}
	line += "\n" + strings.Repeat(" ", 24) + status
	if r.Err != "" {
		line += "\n" + strings.Repeat(" ", 24) + NoteStyle.Render(r.Err)
	}
	return line + "\n"
}
