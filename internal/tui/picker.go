package tui

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/rkflash/internal/discovery"
)

// BrowseFunc finds advertised event streams
type BrowseFunc func(ctx context.Context) ([]*discovery.Peer, error)

// Messages for async operations
type browseStartMsg struct{}
type browseCompleteMsg struct {
	peers []*discovery.Peer
	err   error
}

// pickerKeyMap defines key bindings for the stream list
type pickerKeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Enter  key.Binding
	Rescan key.Binding
	Manual key.Binding
	Quit   key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k pickerKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Enter, k.Rescan, k.Manual, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k pickerKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Enter},
		{k.Rescan, k.Manual, k.Quit},
	}
}

// manualKeyMap defines key bindings for manual URL entry
type manualKeyMap struct {
	Confirm key.Binding
	Cancel  key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k manualKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Confirm, k.Cancel}
}

// FullHelp returns keybindings for the expanded help view
func (k manualKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Confirm, k.Cancel}}
}

// browsingKeyMap defines key bindings while the browse is running
type browsingKeyMap struct {
	Manual key.Binding
	Quit   key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k browsingKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Manual, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k browsingKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Manual, k.Quit}}
}

// peerItem wraps a Peer for use with bubbles/list
type peerItem struct {
	peer *discovery.Peer
	url  string
}

// FilterValue filters by instance, host and chip
func (p peerItem) FilterValue() string {
	if p.peer == nil {
		return p.url
	}
	return p.peer.Instance + " " + p.peer.Hostname + " " + p.peer.GetMetadata("chip")
}

// Title returns the list heading of the stream
func (p peerItem) Title() string {
	if p.peer == nil {
		return "Manual: " + p.url
	}
	return p.peer.Instance
}

// Description returns stream details for list display
func (p peerItem) Description() string {
	if p.peer == nil {
		return "entered by hand"
	}
	chip := p.peer.GetMetadata("chip")
	if chip == "" {
		chip = "unknown chip"
	}
	return fmt.Sprintf("%s • %s • %s", p.url, chip, p.peer.Hostname)
}

// PickerModel is the stream selection screen
type PickerModel struct {
	Browsing    bool
	Streams     list.Model
	Selected    bool
	Err         error
	BrowseStart time.Time
	Timeout     time.Duration

	ManualMode bool
	URLInput   textinput.Model
	InputErr   error

	Width        int
	Height       int
	Spinner      spinner.Model
	ProgressBar  progress.Model
	Help         help.Model
	Keys         pickerKeyMap
	ManualKeys   manualKeyMap
	BrowsingKeys browsingKeyMap

	browse BrowseFunc
}

// NewPickerModel creates the stream picker. browse runs once on Init and
// again on rescan; timeout only drives the progress bar.
func NewPickerModel(browse BrowseFunc, timeout time.Duration) PickerModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	input := textinput.New()
	input.Placeholder = "ws://192.168.1.20:8765/events"
	input.CharLimit = 256
	input.Width = 48

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.Foreground(HighlightColor).BorderForeground(HighlightColor)
	streams := list.New([]list.Item{}, delegate, MinTerminalWidth-4, 14)
	streams.Title = "Event Streams"
	streams.SetShowStatusBar(false)
	streams.SetFilteringEnabled(true)
	streams.Styles.Title = TitleStyle.UnsetPadding()

	return PickerModel{
		Streams:     streams,
		URLInput:    input,
		Spinner:     s,
		ProgressBar: bar,
		Help:        help.New(),
		Timeout:     timeout,
		browse:      browse,
		Keys: pickerKeyMap{
			Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "move up")),
			Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "move down")),
			Enter:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "follow")),
			Rescan: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "rescan")),
			Manual: key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "enter URL")),
			Quit:   key.NewBinding(key.WithKeys("q", "esc"), key.WithHelp("q", "quit")),
		},
		ManualKeys: manualKeyMap{
			Confirm: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "confirm")),
			Cancel:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
		},
		BrowsingKeys: browsingKeyMap{
			Manual: key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "enter URL")),
			Quit:   key.NewBinding(key.WithKeys("q"), key.WithHelp("q", "quit")),
		},
	}
}

// Init starts browsing immediately
func (m PickerModel) Init() tea.Cmd {
	return m.startBrowse()
}

func (m PickerModel) startBrowse() tea.Cmd {
	browse := m.browse
	return tea.Batch(
		func() tea.Msg { return browseStartMsg{} },
		func() tea.Msg {
			peers, err := browse(context.Background())
			return browseCompleteMsg{peers: peers, err: err}
		},
		m.Spinner.Tick,
	)
}

// Update handles messages and updates the model
func (m PickerModel) Update(msg tea.Msg) (PickerModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.ManualMode {
			return m.updateManualMode(msg)
		}
		if m.Browsing {
			if key.Matches(msg, m.BrowsingKeys.Manual) {
				m.enterManualMode()
			}
			return m, nil
		}
		return m.updateListMode(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Streams.SetSize(contentWidth(msg.Width), max(msg.Height-10, 6))

	case browseStartMsg:
		m.Browsing = true
		m.BrowseStart = time.Now()

	case browseCompleteMsg:
		m.Browsing = false
		m.Err = msg.err
		items := make([]list.Item, 0, len(msg.peers))
		for _, p := range msg.peers {
			items = append(items, peerItem{peer: p, url: p.EventsURL()})
		}
		m.Streams.SetItems(items)

	case spinner.TickMsg:
		if !m.Browsing {
			return m, nil
		}
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// updateListMode handles keyboard input in the stream list
func (m PickerModel) updateListMode(msg tea.KeyMsg) (PickerModel, tea.Cmd) {
	if m.Streams.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.Streams, cmd = m.Streams.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.Keys.Enter):
		if m.Streams.SelectedItem() != nil {
			m.Selected = true
		}
		return m, nil

	case key.Matches(msg, m.Keys.Rescan):
		m.Streams.SetItems([]list.Item{})
		m.Err = nil
		return m, m.startBrowse()

	case key.Matches(msg, m.Keys.Manual):
		m.enterManualMode()
		return m, nil
	}

	var cmd tea.Cmd
	m.Streams, cmd = m.Streams.Update(msg)
	return m, cmd
}

func (m *PickerModel) enterManualMode() {
	m.ManualMode = true
	m.InputErr = nil
	m.URLInput.SetValue("")
	m.URLInput.Focus()
}

// updateManualMode handles keyboard input in manual URL entry mode
func (m PickerModel) updateManualMode(msg tea.KeyMsg) (PickerModel, tea.Cmd) {
	switch {
	case key.Matches(msg, m.ManualKeys.Cancel):
		m.ManualMode = false
		m.URLInput.Blur()
		return m, nil

	case key.Matches(msg, m.ManualKeys.Confirm):
		u, err := NormalizeURL(m.URLInput.Value())
		if err != nil {
			m.InputErr = err
			return m, nil
		}
		items := append([]list.Item{peerItem{url: u}}, m.Streams.Items()...)
		m.Streams.SetItems(items)
		m.Streams.Select(0)
		m.ManualMode = false
		m.URLInput.Blur()
		m.Selected = true
		return m, nil
	}

	var cmd tea.Cmd
	m.URLInput, cmd = m.URLInput.Update(msg)
	return m, cmd
}

// SelectedURL returns the chosen stream URL, or "" before a choice
func (m PickerModel) SelectedURL() string {
	if !m.Selected {
		return ""
	}
	if item, ok := m.Streams.SelectedItem().(peerItem); ok {
		return item.url
	}
	return ""
}

// View renders the picker screen
func (m PickerModel) View() string {
	width := m.Width
	if width == 0 {
		width = MinTerminalWidth
	}

	var content, helpText string
	switch {
	case m.ManualMode:
		content = m.renderManualEntry()
		helpText = m.Help.View(m.ManualKeys)
	case m.Browsing:
		content = m.renderBrowsing(width)
		helpText = m.Help.View(m.BrowsingKeys)
	default:
		content = m.renderResults()
		helpText = m.Help.View(m.Keys)
	}

	return RenderApplicationContainer(content, helpText, width, m.Height)
}

// renderBrowsing renders the centred browse progress display
func (m PickerModel) renderBrowsing(width int) string {
	elapsed := time.Since(m.BrowseStart)
	pct := 1.0
	if m.Timeout > 0 {
		pct = min(1, float64(elapsed)/float64(m.Timeout))
	}

	content := lipgloss.JoinVertical(lipgloss.Center,
		"",
		TitleStyle.Render(m.Spinner.View()+" LOOKING FOR EVENT STREAMS"),
		SubtitleStyle.Render("Browsing the local network for "+discovery.ServiceType+"..."),
		"",
		m.ProgressBar.ViewAs(pct),
		"",
		SubtitleStyle.Render(fmt.Sprintf("Elapsed: %ds", int(elapsed.Seconds()))),
		"",
	)
	return lipgloss.Place(width-4, 0, lipgloss.Center, lipgloss.Top, content)
}

// renderResults renders the stream list or the empty state
func (m PickerModel) renderResults() string {
	var b strings.Builder
	b.WriteString("\n")

	switch {
	case m.Err != nil:
		b.WriteString("  " + ErrorTextStyle.Render(fmt.Sprintf("✗ Browse failed: %v", m.Err)))
		b.WriteString("\n\n")
		b.WriteString(troubleshooting())

	case len(m.Streams.Items()) == 0:
		b.WriteString("  " + WarningTextStyle.Render("⚠ No event streams found on your network"))
		b.WriteString("\n\n")
		b.WriteString(troubleshooting())

	default:
		b.WriteString(m.Streams.View())
	}
	return b.String()
}

func troubleshooting() string {
	return "  Troubleshooting:\n" +
		"    • Start the flashing side with --events-addr and --advertise\n" +
		"    • Check both machines are on the same network segment\n" +
		"    • Multicast DNS may be blocked; press m to enter the URL\n" +
		"    • Press r to browse again\n"
}

// renderManualEntry renders the manual URL dialog
func (m PickerModel) renderManualEntry() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(SubtitleStyle.Render("  Enter the event stream address (host:port or ws:// URL)"))
	b.WriteString("\n\n  URL: ")
	b.WriteString(m.URLInput.View())
	b.WriteString("\n")
	if m.InputErr != nil {
		b.WriteString("\n  " + ErrorTextStyle.Render(m.InputErr.Error()) + "\n")
	}
	return b.String()
}

// NormalizeURL turns "host:port" or a partial URL into a full ws:// URL
// with the default events path
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("address is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid address: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("unsupported scheme %q, use ws or wss", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("address has no host")
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = discovery.DefaultEventsPath
	}
	return u.String(), nil
}
