package main

import (
	"fmt"

	"github.com/jrwynneiii/railtuner/sequencer"
)

func ctuneReport(res sequencer.CtuneResult) []string {
	if res.Steps == 0 {
		return nil
	}
	line := fmt.Sprintf("ctune %d after %d steps", res.Trim, res.Steps)
	if res.Error != 0 {
		line += fmt.Sprintf(", carrier error %+.0f Hz", res.Error)
	}
	if !res.Converged {
		line += " (not converged)"
	}
	return []string{line}
}

func sensitivityReport(res sequencer.SensitivityResult) []string {
	var lines []string
	for _, th := range res.Thresholds {
		if !th.Found {
			lines = append(lines, fmt.Sprintf("%.3f MHz%+.0f Hz: no threshold", th.Frequency/1e6, th.Offset))
			continue
		}
		lines = append(lines, fmt.Sprintf("%.3f MHz%+.0f Hz: %.1f dBm", th.Frequency/1e6, th.Offset, th.Level))
	}
	return lines
}

func blockingReport(res sequencer.BlockingResult) []string {
	var lines []string
	for _, th := range res.Thresholds {
		if !th.Found {
			lines = append(lines, fmt.Sprintf("%.3f MHz blocker %+.0f kHz: link held", th.Frequency/1e6, th.Offset/1e3))
			continue
		}
		lines = append(lines, fmt.Sprintf("%.3f MHz blocker %+.0f kHz: %.1f dBm", th.Frequency/1e6, th.Offset/1e3, th.Level))
	}
	return lines
}

func txReport(points []sequencer.TxPoint) []string {
	lines := make([]string, 0, len(points))
	for _, p := range points {
		lines = append(lines, fmt.Sprintf("%.3f MHz %.2f V power %.1f H%d: %.2f dBm, %.4f A",
			p.Frequency/1e6, p.Voltage, p.Power, p.Harmonic, p.Level, p.Current))
	}
	return lines
}

func rssiReport(points []sequencer.RSSIPoint) []string {
	lines := make([]string, 0, len(points))
	for _, p := range points {
		lines = append(lines, fmt.Sprintf("%.3f MHz injected %.3f MHz at %.1f dBm: RSSI %.1f",
			p.Frequency/1e6, p.Injected/1e6, p.Level, p.RSSI))
	}
	return lines
}
