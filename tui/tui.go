package tui

import (
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gdamore/tcell/v2"
	"github.com/jrwynneiii/railtuner/config"
	"github.com/jrwynneiii/railtuner/sequencer"
	"github.com/navidys/tvxwidgets"
	"github.com/rivo/tview"
)

// Monitor is a live view of a running sweep. Events arrive through Observe
// from the sweep goroutine; Run owns the terminal.
type Monitor struct {
	Board  *Board
	conf   config.MonitorConf
	events chan sequencer.Event
	done   chan struct{}
	stop   sync.Once
	app    *tview.Application
}

func New(conf config.MonitorConf) *Monitor {
	if conf.RefreshMs <= 0 {
		conf.RefreshMs = 500
	}
	return &Monitor{
		Board:  &Board{},
		conf:   conf,
		events: make(chan sequencer.Event, 256),
		done:   make(chan struct{}),
		app:    tview.NewApplication(),
	}
}

// Observe never blocks; events are dropped when the view falls behind.
func (m *Monitor) Observe(e sequencer.Event) {
	select {
	case m.events <- e:
	default:
	}
}

var LogOut *tview.TextView

func (m *Monitor) Run() error {
	select {
	case <-m.done:
		return nil
	default:
	}
	app := m.app

	LogOut = tview.NewTextView().
		SetDynamicColors(true).
		SetRegions(true).
		SetWordWrap(true)

	runTable := tview.NewTable().SetContent(&RunTableData{board: m.Board})
	resultTable := tview.NewTable().SetContent(&ResultTableData{board: m.Board})

	tracePlot := tvxwidgets.NewPlot()
	tracePlot.SetLineColor([]tcell.Color{tcell.ColorLightSkyBlue})
	tracePlot.SetMarker(tvxwidgets.PlotMarkerBraille)
	tracePlot.SetBorder(true)
	tracePlot.SetTitle("Readings")

	errGauge := tvxwidgets.NewUtilModeGauge()
	errGauge.SetLabel("Error Rate: ")
	errGauge.SetLabelColor(tcell.ColorLightSkyBlue)
	errGauge.SetWarnPercentage(1)
	errGauge.SetCritPercentage(10)
	errGauge.SetEmptyColor(tcell.ColorBlack)
	errGauge.SetBorder(false)

	LogOut.SetChangedFunc(func() {
		LogOut.ScrollToEnd()
		app.Draw()
	})
	LogOut.SetBorder(true).SetTitle("Log Output")
	if m.conf.EnableLogOutput {
		log.SetOutput(LogOut)
	}

	runTable.SetSelectable(false, false).SetBorder(true).SetTitle("Current Run")
	resultTable.SetSelectable(false, false).SetBorder(true).SetTitle("Results")

	leftCol := tview.NewFlex().SetDirection(tview.FlexRow)
	leftCol.AddItem(runTable, 0, 1, false)
	leftCol.AddItem(resultTable, 0, 2, false)

	rightCol := tview.NewFlex().SetDirection(tview.FlexRow)
	rightCol.AddItem(errGauge, 1, 0, false)
	rightCol.AddItem(tracePlot, 0, 3, false)
	if m.conf.EnableLogOutput {
		rightCol.AddItem(LogOut, 0, 2, false)
	}

	page := tview.NewFlex().SetDirection(tview.FlexColumn)
	page.AddItem(leftCol, 0, 2, false)
	page.AddItem(rightCol, 0, 5, false)

	go func() {
		ticker := time.NewTicker(time.Duration(m.conf.RefreshMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case e := <-m.events:
				m.Board.Apply(e)
			case <-ticker.C:
				if trace := m.Board.Trace(); len(trace) > 1 {
					tracePlot.SetData([][]float64{trace})
				}
				errGauge.SetValue(m.Board.ErrorRate())
				app.Draw()
			case <-m.done:
				return
			}
		}
	}()

	return app.SetRoot(page, true).EnableMouse(true).Run()
}

// Stop ends Run and restores logging to stderr.
func (m *Monitor) Stop() {
	m.stop.Do(func() {
		close(m.done)
		m.app.Stop()
		log.SetOutput(os.Stderr)
	})
}
