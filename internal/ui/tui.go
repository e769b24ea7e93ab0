// ABOUTME: Coordinator dashboard program control
// ABOUTME: Wraps the bubbletea program and feeds it status updates without blocking
package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// Dashboard runs the coordinator TUI
type Dashboard struct {
	program  *tea.Program
	updates  chan Status
	quitChan chan struct{}

	stopOnce sync.Once
	done     chan struct{}
}

// NewDashboard creates a dashboard with the given initial status.
// Without options the program takes over the screen.
func NewDashboard(initial Status, opts ...tea.ProgramOption) *Dashboard {
	d := &Dashboard{
		updates:  make(chan Status, 10),
		quitChan: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	d.program = tea.NewProgram(NewModel(initial, d.quitChan), opts...)
	return d
}

// Run blocks until the program exits
func (d *Dashboard) Run() error {
	go func() {
		for {
			select {
			case status := <-d.updates:
				d.program.Send(statusMsg(status))
			case <-d.done:
				return
			}
		}
	}()

	_, err := d.program.Run()
	return err
}

// Update queues a status refresh; it is dropped if the queue is full
func (d *Dashboard) Update(status Status) {
	select {
	case <-d.done:
		return
	default:
	}

	select {
	case d.updates <- status:
	default:
	}
}

// Stop quits the program
func (d *Dashboard) Stop() {
	d.stopOnce.Do(func() {
		close(d.done)
		d.program.Quit()
	})
}

// QuitChan is signalled when the user asks to quit
func (d *Dashboard) QuitChan() <-chan struct{} {
	return d.quitChan
}
