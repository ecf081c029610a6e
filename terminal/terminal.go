// Package terminal is an interactive text user interface driving a comm.Machine.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fornellas/slogxt/log"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/mrbeam/mrb3-octoPrint/comm"
	"github.com/mrbeam/mrb3-octoPrint/events"
	"github.com/mrbeam/mrb3-octoPrint/grbl"
)

// Machine is the part of comm.Machine the terminal uses.
type Machine interface {
	SendCommand(ctx context.Context, command, cmdType string) error
	SetPause(ctx context.Context, pause bool) error
	CancelPrint(ctx context.Context) error
	State() comm.State
	StateString() string
	Position() (comm.Position, bool)
	Temperatures() comm.Temperatures
	Progress() (float64, error)
}

// Status is a snapshot of what the status panel shows.
type Status struct {
	State        comm.State
	StateString  string
	Position     *comm.Position
	Temperatures comm.Temperatures
	Progress     *float64
}

func getStatus(machine Machine) Status {
	status := Status{
		State:        machine.State(),
		StateString:  machine.StateString(),
		Temperatures: machine.Temperatures(),
	}
	if position, ok := machine.Position(); ok {
		status.Position = &position
	}
	if status.State == comm.StatePrinting || status.State == comm.StatePaused {
		if progress, err := machine.Progress(); err == nil {
			status.Progress = &progress
		}
	}
	return status
}

type Terminal struct {
	machine           Machine
	bus               *events.Bus
	App               *tview.Application
	LogsTextView      *tview.TextView
	EventsTextView    *tview.TextView
	StateTextView     *tview.TextView
	StatusTextView    *tview.TextView
	CommandInputField *tview.InputField
	RootFlex          *tview.Flex
}

// New creates the terminal. Events published to bus are displayed.
func New(machine Machine, bus *events.Bus) *Terminal {
	t := &Terminal{
		machine: machine,
		bus:     bus,
		App:     tview.NewApplication(),
	}
	t.App.EnableMouse(true)
	t.LogsTextView = t.newScrollingTextView("Logs")
	t.EventsTextView = t.newScrollingTextView("Events")
	t.StateTextView = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	t.StateTextView.SetBorder(true).SetTitle("State")
	t.StatusTextView = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true)
	t.StatusTextView.SetBorder(true).SetTitle("Status")
	t.CommandInputField = tview.NewInputField().
		SetLabel("Command: ")
	t.CommandInputField.SetBorder(true)
	return t
}

func (t *Terminal) newScrollingTextView(title string) *tview.TextView {
	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(true)
	textView.SetBorder(true).SetTitle(title)
	textView.SetChangedFunc(func() {
		textView.ScrollToEnd()
		t.App.Draw()
	})
	return textView
}

func (t *Terminal) sendCommand(ctx context.Context, command string) {
	go func() {
		if err := t.machine.SendCommand(ctx, command, ""); err != nil {
			log.MustLogger(ctx).Error("Send failed", "command", command, "err", err)
		}
	}()
}

func (t *Terminal) setup(ctx context.Context) {
	t.CommandInputField.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		command := t.CommandInputField.GetText()
		if command == "" {
			return
		}
		fmt.Fprintf(t.EventsTextView, "[%s]> %s[-]\n", tcell.ColorGreen, tview.Escape(command))
		t.CommandInputField.SetText("")
		t.sendCommand(ctx, command)
	})

	buttonsFlex := tview.NewFlex()
	for _, button := range []struct {
		label string
		fn    func()
	}{
		{"Home", func() { t.sendCommand(ctx, "$H") }},
		{"Unlock", func() { t.sendCommand(ctx, "$X") }},
		{"Pause", func() { t.pause(ctx, true) }},
		{"Resume", func() { t.pause(ctx, false) }},
		{"Cancel", func() { t.cancel(ctx) }},
	} {
		buttonsFlex.AddItem(tview.NewButton(button.label).SetSelectedFunc(button.fn), 0, 1, false)
		buttonsFlex.AddItem(nil, 1, 0, false)
	}

	statusFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(t.StateTextView, 3, 0, false).
		AddItem(t.StatusTextView, 0, 1, false)
	mainFlex := tview.NewFlex().
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(t.EventsTextView, 0, 1, false).
			AddItem(t.LogsTextView, 0, 1, false), 0, 3, false).
		AddItem(statusFlex, 0, 1, false)
	t.RootFlex = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainFlex, 0, 1, false).
		AddItem(buttonsFlex, 1, 0, false).
		AddItem(t.CommandInputField, 3, 0, true)

	t.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyCtrlX {
			t.sendCommand(ctx, grbl.RealTimeCommandSoftReset.Line())
			return nil
		}
		return event
	})
	t.App.SetRoot(t.RootFlex, true).SetFocus(t.CommandInputField)
}

func (t *Terminal) pause(ctx context.Context, pause bool) {
	if err := t.machine.SetPause(ctx, pause); err != nil {
		log.MustLogger(ctx).Warn("Pause failed", "pause", pause, "err", err)
	}
}

func (t *Terminal) cancel(ctx context.Context) {
	if err := t.machine.CancelPrint(ctx); err != nil {
		log.MustLogger(ctx).Warn("Cancel failed", "err", err)
	}
}

func (t *Terminal) eventsWorker(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.Type == events.Position || e.Type == events.Temperature {
				continue
			}
			fmt.Fprintln(t.EventsTextView, sprintEvent(e))
		}
	}
}

func (t *Terminal) statusWorker(ctx context.Context) {
	for {
		status := getStatus(t.machine)
		t.App.QueueUpdateDraw(func() {
			t.StateTextView.SetBackgroundColor(getStateColor(status.State))
			t.StateTextView.SetText(tview.Escape(status.StateString))
			t.StatusTextView.SetText(sprintStatus(status))
		})
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// WithLogger returns a context logging to the log view, for anything started while the terminal
// runs, the machine connection included.
func (t *Terminal) WithLogger(ctx context.Context) context.Context {
	logger := slog.New(NewViewLogHandler(log.MustLogger(ctx).Handler(), t.LogsTextView))
	return log.WithLogger(ctx, logger)
}

// Run displays the terminal until the user quits with Ctrl-C or ctx is done.
func (t *Terminal) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.setup(ctx)

	ch := t.bus.Subscribe("Terminal", 100)
	defer t.bus.Unsubscribe("Terminal")
	go t.eventsWorker(ctx, ch)
	go t.statusWorker(ctx)
	go func() {
		<-ctx.Done()
		t.App.Stop()
	}()

	if err := t.App.Run(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("terminal: %w", err)
	}
	return nil
}
