package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Screen represents the current active screen in the application
type Screen string

const (
	ScreenPicker    Screen = "picker"
	ScreenDashboard Screen = "dashboard"
)

// Options configures the monitor
type Options struct {
	URL           string        // Stream to follow; empty opens the picker
	BrowseTimeout time.Duration // How long one browse runs
	Browse        BrowseFunc
	Subscribe     SubscribeFunc
}

// AppModel is the top-level model that switches between the stream picker
// and the live dashboard
type AppModel struct {
	CurrentScreen Screen
	Picker        PickerModel
	Dashboard     DashboardModel

	Width  int
	Height int

	ctx  context.Context
	opts Options
}

// NewAppModel creates the monitor model. With opts.URL set it starts on
// the dashboard.
func NewAppModel(ctx context.Context, opts Options) AppModel {
	m := AppModel{
		CurrentScreen: ScreenPicker,
		Picker:        NewPickerModel(opts.Browse, opts.BrowseTimeout),
		ctx:           ctx,
		opts:          opts,
	}
	if opts.URL != "" {
		m.CurrentScreen = ScreenDashboard
		m.Dashboard = m.newDashboard(opts.URL)
	}
	return m
}

func (m AppModel) newDashboard(url string) DashboardModel {
	d := NewDashboardModel(url)
	d.Width = m.Width
	d.Height = m.Height
	d.CanGoBack = m.opts.URL == ""
	d.Connect(m.ctx, m.opts.Subscribe)
	return d
}

// Init initializes the application
func (m AppModel) Init() tea.Cmd {
	switch m.CurrentScreen {
	case ScreenPicker:
		return m.Picker.Init()
	case ScreenDashboard:
		return m.Dashboard.Init()
	default:
		return nil
	}
}

// Update handles all messages and routes them to the active screen
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		var c1, c2 tea.Cmd
		m.Picker, c1 = m.Picker.Update(msg)
		m.Dashboard, c2 = m.Dashboard.Update(msg)
		return m, tea.Batch(c1, c2)

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.Dashboard.Stop()
			return m, tea.Quit
		}
	}

	switch m.CurrentScreen {
	case ScreenPicker:
		return m.updatePicker(msg)
	case ScreenDashboard:
		return m.updateDashboard(msg)
	}
	return m, nil
}

func (m AppModel) updatePicker(msg tea.Msg) (tea.Model, tea.Cmd) {
	if _, ok := msg.(streamClosedMsg); ok {
		// Late close of a stream the user already left
		return m, nil
	}

	var cmd tea.Cmd
	m.Picker, cmd = m.Picker.Update(msg)

	if url := m.Picker.SelectedURL(); url != "" {
		m.CurrentScreen = ScreenDashboard
		m.Dashboard = m.newDashboard(url)
		return m, m.Dashboard.Init()
	}

	if keyMsg, ok := msg.(tea.KeyMsg); ok && !m.Picker.ManualMode && !m.Picker.Browsing {
		if keyMsg.String() == "q" || keyMsg.String() == "esc" {
			return m, tea.Quit
		}
	}
	return m, cmd
}

func (m AppModel) updateDashboard(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.String() == "q" {
		m.Dashboard.Stop()
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.Dashboard, cmd = m.Dashboard.Update(msg)

	if m.Dashboard.IsBackRequested() {
		m.CurrentScreen = ScreenPicker
		m.Picker = NewPickerModel(m.opts.Browse, m.opts.BrowseTimeout)
		m.Picker, _ = m.Picker.Update(tea.WindowSizeMsg{Width: m.Width, Height: m.Height})
		return m, m.Picker.Init()
	}
	return m, cmd
}

// View renders the current screen
func (m AppModel) View() string {
	switch m.CurrentScreen {
	case ScreenPicker:
		return m.Picker.View()
	case ScreenDashboard:
		return m.Dashboard.View()
	default:
		return "Unknown screen"
	}
}

// Run starts the monitor full screen and blocks until the user quits or
// ctx ends. It returns the error that closed the followed stream, if any.
func Run(ctx context.Context, opts Options) error {
	model := NewAppModel(ctx, opts)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	final, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return err
	}

	if app, ok := final.(AppModel); ok && app.CurrentScreen == ScreenDashboard {
		app.Dashboard.Stop()
		return app.Dashboard.Err
	}
	return nil
}
