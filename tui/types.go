package tui

import (
	"fmt"
	"math"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/jrwynneiii/railtuner/sequencer"
	"github.com/rivo/tview"
)

const maxTrace = 512

type Result struct {
	RunID     string
	Sweep     string
	Frequency float64
	Value     float64
}

// Board accumulates sequencer events for display.
type Board struct {
	mu        sync.Mutex
	runID     string
	sweep     string
	frequency float64
	points    int
	lastX     float64
	lastY     float64
	trace     []float64
	results   []Result
}

func (b *Board) Apply(e sequencer.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e.RunID != b.runID {
		b.runID, b.sweep = e.RunID, e.Sweep
		b.points = 0
		b.trace = nil
	}
	if e.Done {
		b.results = append(b.results, Result{RunID: e.RunID, Sweep: e.Sweep, Frequency: e.Frequency, Value: e.X})
		return
	}
	b.points++
	b.frequency, b.lastX, b.lastY = e.Frequency, e.X, e.Y
	b.trace = append(b.trace, e.Y)
	if len(b.trace) > maxTrace {
		b.trace = b.trace[len(b.trace)-maxTrace:]
	}
}

func (b *Board) Trace() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]float64(nil), b.trace...)
}

// ErrorRate is the last reading as a gauge percentage, 0 for sweeps that do
// not measure an error rate.
func (b *Board) ErrorRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.sweep {
	case "sensitivity", "blocking":
		return math.Min(100, math.Max(0, b.lastY))
	}
	return 0
}

func (b *Board) Results() []Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Result(nil), b.results...)
}

type RunTableData struct {
	tview.TableContentReadOnly
	board *Board
}

func (r *RunTableData) GetRowCount() int {
	return 6
}

func (r *RunTableData) GetColumnCount() int {
	return 2
}

func (r *RunTableData) GetCell(row, column int) *tview.TableCell {
	b := r.board
	b.mu.Lock()
	defer b.mu.Unlock()

	labels := []string{"Run:", "Sweep:", "Frequency:", "Points:", "Setting:", "Reading:"}
	if row < 0 || row >= len(labels) {
		return tview.NewTableCell("ERROR")
	}
	if column == 0 {
		return tview.NewTableCell(labels[row])
	}
	switch row {
	case 0:
		if b.runID == "" {
			return tview.NewTableCell("idle").SetTextColor(tcell.ColorRed)
		}
		return tview.NewTableCell(b.runID).SetTextColor(tcell.ColorGreen)
	case 1:
		return tview.NewTableCell(b.sweep)
	case 2:
		return tview.NewTableCell(fmt.Sprintf("%.3f MHz", b.frequency/1e6))
	case 3:
		return tview.NewTableCell(fmt.Sprintf("%d", b.points))
	case 4:
		return tview.NewTableCell(fmt.Sprintf("%.1f", b.lastX))
	default:
		return tview.NewTableCell(fmt.Sprintf("%.2f", b.lastY))
	}
}

type ResultTableData struct {
	tview.TableContentReadOnly
	board *Board
}

func (d *ResultTableData) GetRowCount() int {
	return len(d.board.Results()) + 1
}

func (d *ResultTableData) GetColumnCount() int {
	return 3
}

func (d *ResultTableData) GetCell(row, column int) *tview.TableCell {
	if row == 0 {
		switch column {
		case 0:
			return tview.NewTableCell("[lightskyblue]Sweep ")
		case 1:
			return tview.NewTableCell("[white]Frequency ")
		case 2:
			return tview.NewTableCell("[green]Result")
		}
		return tview.NewTableCell("ERROR")
	}
	results := d.board.Results()
	if row > len(results) {
		return tview.NewTableCell("ERROR")
	}
	res := results[row-1]
	switch column {
	case 0:
		return tview.NewTableCell(fmt.Sprintf("[lightskyblue]%s", res.Sweep))
	case 1:
		return tview.NewTableCell(fmt.Sprintf("[white]%.3f MHz", res.Frequency/1e6))
	case 2:
		if res.Sweep == "ctune" {
			return tview.NewTableCell(fmt.Sprintf("[green]%.0f", res.Value))
		}
		return tview.NewTableCell(fmt.Sprintf("[green]%.1f dBm", res.Value))
	}
	return tview.NewTableCell("ERROR")
}
