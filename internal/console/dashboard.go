// Package console renders live relay statistics in the terminal for the `top` command.
package console

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/webitel/change-relay/infra/client/swr"
	"github.com/webitel/change-relay/internal/domain/model"
)

const (
	StatsKey = "/stats"

	historySize = 60
)

// Source is the slice of the sync layer the dashboard needs.
type Source interface {
	Watch(key string) (<-chan swr.State[model.HubStats], func())
	Revalidate(ctx context.Context, key string) swr.State[model.HubStats]
	Refresh(ctx context.Context, key string) swr.State[model.HubStats]
	Focus(ctx context.Context) error
}

// Dashboard keeps the view model. Rendering is separate so the view model is testable
// without a terminal.
type Dashboard struct {
	mu        sync.Mutex
	state     swr.State[model.HubStats]
	connected bool
	lastPush  string
	pushes    int
	history   []float64 // broadcasts per refresh
	prevCount uint64
	sampled   bool
}

func NewDashboard() *Dashboard {
	return &Dashboard{}
}

func (d *Dashboard) SetState(st swr.State[model.HubStats]) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// one sample per successful refresh
	if st.HasData && st.Err == nil && !st.UpdatedAt.Equal(d.state.UpdatedAt) {
		var delta float64
		if d.sampled && st.Data.Broadcasts >= d.prevCount {
			delta = float64(st.Data.Broadcasts - d.prevCount)
		}
		d.history = append(d.history, delta)
		if len(d.history) > historySize {
			d.history = d.history[len(d.history)-historySize:]
		}
		d.prevCount = st.Data.Broadcasts
		d.sampled = true
	}
	d.state = st
}

func (d *Dashboard) SetConnected(ok bool) {
	d.mu.Lock()
	d.connected = ok
	d.mu.Unlock()
}

func (d *Dashboard) RecordPush(kind string) {
	d.mu.Lock()
	d.pushes++
	d.lastPush = kind
	d.mu.Unlock()
}

// Rows is the stats table. A failed refresh keeps the previous numbers and marks them stale.
func (d *Dashboard) Rows() [][]string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.state.HasData {
		return [][]string{{"stats", "loading"}}
	}
	s := d.state.Data
	last := "-"
	if s.LastEventKind != "" {
		last = fmt.Sprintf("%s at %s", s.LastEventKind, s.LastEventAt.Format(time.TimeOnly))
	}
	return [][]string{
		{"connections", fmt.Sprintf("%d (%d open)", s.Connections, s.OpenConnections)},
		{"broadcasts", strconv.FormatUint(s.Broadcasts, 10)},
		{"deliveries", strconv.FormatUint(s.Deliveries, 10)},
		{"send failures", strconv.FormatUint(s.SendFailures, 10)},
		{"last event", last},
		{"uptime", s.Uptime},
	}
}

// Status is the one-line health of the view: push link and freshness.
func (d *Dashboard) Status() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	push := "push: down"
	if d.connected {
		push = fmt.Sprintf("push: live (%d events, last %s)", d.pushes, orDash(d.lastPush))
	}

	fresh := "never loaded"
	if d.state.HasData {
		fresh = "updated " + d.state.UpdatedAt.Format(time.TimeOnly)
	}
	if d.state.IsValidating {
		fresh += " (refreshing)"
	}
	if d.state.Err != nil {
		fresh += " STALE: " + d.state.Err.Error()
	}
	return push + " | " + fresh
}

func (d *Dashboard) History() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float64(nil), d.history...)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// onKey starts the sync action bound to a key without blocking the event loop.
func onKey(ctx context.Context, id string, src Source) {
	switch id {
	case "r":
		go src.Refresh(ctx, StatsKey)
	case "f":
		go func() { _ = src.Focus(ctx) }()
	}
}

// Run takes over the terminal until ctx is done or the user presses q.
// r fetches even inside the dedupe window, f behaves like regaining focus.
func Run(ctx context.Context, d *Dashboard, src Source) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("init terminal: %w", err)
	}
	defer ui.Close()

	table := widgets.NewTable()
	table.Title = " relay "
	status := widgets.NewParagraph()
	status.Title = " sync "
	spark := widgets.NewSparkline()
	spark.Title = "broadcasts / refresh"
	sparkGroup := widgets.NewSparklineGroup(spark)

	grid := ui.NewGrid()
	layout := func() {
		w, h := ui.TerminalDimensions()
		grid.SetRect(0, 0, w, h)
	}
	grid.Set(
		ui.NewRow(0.55, ui.NewCol(1.0, table)),
		ui.NewRow(0.30, ui.NewCol(1.0, sparkGroup)),
		ui.NewRow(0.15, ui.NewCol(1.0, status)),
	)
	layout()

	draw := func() {
		table.Rows = d.Rows()
		status.Text = d.Status()
		spark.Data = d.History()
		ui.Render(grid)
	}

	updates, stop := src.Watch(StatsKey)
	defer stop()

	go src.Revalidate(ctx, StatsKey)

	redraw := time.NewTicker(time.Second)
	defer redraw.Stop()

	events := ui.PollEvents()
	draw()
	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-updates:
			d.SetState(st)
			draw()
		case <-redraw.C:
			draw()
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "r", "f":
				onKey(ctx, e.ID, src)
			case "<Resize>":
				layout()
				ui.Clear()
				draw()
			}
		}
	}
}
