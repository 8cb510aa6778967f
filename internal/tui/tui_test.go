package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/rkflash/internal/discovery"
	"github.com/muurk/rkflash/internal/eventserver"
)

func runeKey(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func testPeer() *discovery.Peer {
	return &discovery.Peer{
		Instance: "rkflash-1-4",
		Hostname: "bench.local.",
		IP:       "192.168.1.20",
		Port:     8765,
		Metadata: map[string]string{"chip": "RK3188", "path": "/events"},
	}
}

func noBrowse(context.Context) ([]*discovery.Peer, error) { return nil, nil }

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "192.168.1.20:8765", want: "ws://192.168.1.20:8765/events"},
		{in: "ws://bench:8765/", want: "ws://bench:8765/events"},
		{in: "wss://bench:8765/stream", want: "wss://bench:8765/stream"},
		{in: "  ws://bench:1/events  ", want: "ws://bench:1/events"},
		{in: "http://bench:8765", wantErr: true},
		{in: "", wantErr: true},
		{in: "ws://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeURL(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPicker_SelectDiscovered(t *testing.T) {
	m := NewPickerModel(noBrowse, time.Second)
	m, _ = m.Update(browseStartMsg{})
	if !m.Browsing {
		t.Fatal("Browsing = false after start")
	}

	m, _ = m.Update(browseCompleteMsg{peers: []*discovery.Peer{testPeer()}})
	if m.Browsing {
		t.Fatal("Browsing = true after completion")
	}
	if m.SelectedURL() != "" {
		t.Fatal("SelectedURL() set before enter")
	}

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if got, want := m.SelectedURL(), "ws://192.168.1.20:8765/events"; got != want {
		t.Errorf("SelectedURL() = %q, want %q", got, want)
	}
}

func TestPicker_EmptyAndError(t *testing.T) {
	m := NewPickerModel(noBrowse, time.Second)
	m, _ = m.Update(browseCompleteMsg{})
	if !strings.Contains(m.View(), "No event streams found") {
		t.Error("empty view missing notice")
	}

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if m.Selected {
		t.Error("enter on an empty list selected something")
	}

	m, _ = m.Update(browseCompleteMsg{err: errors.New("no multicast interface")})
	if !strings.Contains(m.View(), "no multicast interface") {
		t.Error("error view missing error text")
	}
}

func TestPicker_ManualEntry(t *testing.T) {
	m := NewPickerModel(noBrowse, time.Second)
	m, _ = m.Update(browseCompleteMsg{})

	m, _ = m.Update(runeKey("m"))
	if !m.ManualMode {
		t.Fatal("ManualMode = false after m")
	}

	m, _ = m.Update(runeKey("http://x"))
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if m.InputErr == nil || m.Selected {
		t.Fatalf("bad URL accepted: InputErr = %v, Selected = %v", m.InputErr, m.Selected)
	}

	m.URLInput.SetValue("10.0.0.5:9000")
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if got, want := m.SelectedURL(), "ws://10.0.0.5:9000/events"; got != want {
		t.Errorf("SelectedURL() = %q, want %q", got, want)
	}
	if m.ManualMode {
		t.Error("ManualMode still set after confirm")
	}
}

func TestPicker_ManualDuringBrowse(t *testing.T) {
	m := NewPickerModel(noBrowse, time.Second)
	m, _ = m.Update(browseStartMsg{})
	m, _ = m.Update(runeKey("m"))
	if !m.ManualMode {
		t.Error("m during browse did not open manual entry")
	}
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if m.ManualMode {
		t.Error("esc did not leave manual entry")
	}
}

func TestDashboard_Apply(t *testing.T) {
	d := NewDashboardModel("ws://bench:8765/events")
	d, _ = d.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	off := int64(1234)
	msgs := []eventserver.Message{
		{Type: "started", Operation: "flash", Partition: "boot", TotalBytes: 1000},
		{Type: "progress", Operation: "flash", Partition: "boot", TotalBytes: 1000, BytesDone: 500},
		{Type: "finished", Operation: "flash", Partition: "boot", TotalBytes: 1000, BytesDone: 1000, Outcome: "success"},
		{Type: "started", Operation: "verify", Partition: "boot", TotalBytes: 1000},
		{Type: "finished", Operation: "verify", Partition: "boot", TotalBytes: 1000, BytesDone: 1000, Outcome: "failure", MismatchOffset: &off},
		{Type: "started", Operation: "flash", Partition: "boot", TotalBytes: 1000},
	}
	for _, msg := range msgs {
		d.apply(msg)
	}

	if len(d.Rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(d.Rows))
	}
	if r := d.Rows[0]; !r.Finished || r.Outcome != "success" || r.Percent() != 1 {
		t.Errorf("flash row = %+v", r)
	}
	if r := d.Rows[1]; r.Mismatch == nil || *r.Mismatch != 1234 {
		t.Errorf("verify row mismatch = %v, want 1234", r.Mismatch)
	}
	if r := d.Rows[2]; r.Finished || r.Percent() != 0 {
		t.Errorf("second flash row = %+v, want fresh", r)
	}

	view := d.View()
	for _, want := range []string{"flash", "verify", "first difference at byte 1234"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestRow_Percent(t *testing.T) {
	tests := []struct {
		name string
		row  Row
		want float64
	}{
		{"half", Row{Total: 200, Done: 100}, 0.5},
		{"empty running", Row{}, 0},
		{"empty finished", Row{Finished: true}, 1},
		{"overshoot", Row{Total: 100, Done: 150}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.row.Percent(); got != tt.want {
				t.Errorf("Percent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDashboard_Stream(t *testing.T) {
	sent := []eventserver.Message{
		{Type: "started", Operation: "erase", Partition: "misc", TotalBytes: 512},
		{Type: "finished", Operation: "erase", Partition: "misc", TotalBytes: 512, BytesDone: 512, Outcome: "success"},
	}
	subscribe := func(ctx context.Context, url string, fn func(eventserver.Message)) error {
		for _, m := range sent {
			fn(m)
		}
		return nil
	}

	d := NewDashboardModel("ws://bench:8765/events")
	d.Connect(context.Background(), subscribe)
	defer d.Stop()

	for i := 0; i < len(sent)+1; i++ {
		msg := d.stream.next()()
		d, _ = d.Update(msg)
	}

	if !d.Closed || d.Err != nil {
		t.Fatalf("Closed = %v, Err = %v, want closed cleanly", d.Closed, d.Err)
	}
	if len(d.Rows) != 1 || d.Rows[0].Outcome != "success" {
		t.Errorf("rows = %+v", d.Rows)
	}
}

func TestApp_PickerToDashboardAndBack(t *testing.T) {
	subscribe := func(ctx context.Context, url string, fn func(eventserver.Message)) error {
		<-ctx.Done()
		return nil
	}
	app := NewAppModel(context.Background(), Options{Browse: noBrowse, Subscribe: subscribe, BrowseTimeout: time.Second})
	if app.CurrentScreen != ScreenPicker {
		t.Fatalf("CurrentScreen = %s, want picker", app.CurrentScreen)
	}

	var model tea.Model = app
	model, _ = model.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	model, _ = model.Update(browseCompleteMsg{peers: []*discovery.Peer{testPeer()}})
	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyEnter})

	app = model.(AppModel)
	if app.CurrentScreen != ScreenDashboard {
		t.Fatalf("CurrentScreen = %s, want dashboard", app.CurrentScreen)
	}
	if app.Dashboard.URL != "ws://192.168.1.20:8765/events" {
		t.Errorf("dashboard URL = %q", app.Dashboard.URL)
	}
	if !app.Dashboard.CanGoBack {
		t.Error("CanGoBack = false for a picked stream")
	}

	model, _ = model.Update(runeKey("b"))
	app = model.(AppModel)
	if app.CurrentScreen != ScreenPicker {
		t.Errorf("CurrentScreen = %s after back, want picker", app.CurrentScreen)
	}
	if app.Picker.Width != 100 {
		t.Errorf("picker width = %d, want 100", app.Picker.Width)
	}
}

func TestApp_DirectURL(t *testing.T) {
	subscribe := func(ctx context.Context, url string, fn func(eventserver.Message)) error {
		<-ctx.Done()
		return nil
	}
	app := NewAppModel(context.Background(), Options{URL: "ws://bench:8765/events", Subscribe: subscribe})
	defer app.Dashboard.Stop()

	if app.CurrentScreen != ScreenDashboard {
		t.Fatalf("CurrentScreen = %s, want dashboard", app.CurrentScreen)
	}
	if app.Dashboard.CanGoBack {
		t.Error("CanGoBack = true without a picker")
	}

	_, cmd := app.Update(runeKey("q"))
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}
