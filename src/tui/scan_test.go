// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/casjay-forks/vlabstools/src/netshare"
	"github.com/casjay-forks/vlabstools/src/portscan"
)

func fakeScan(ctx context.Context, host string, ports string, progress portscan.ProgressFunc) (portscan.Report, error) {
	list := portscan.ParsePorts(ports)
	for i := range list {
		progress(len(list), i+1)
	}
	return portscan.Report{Host: host, Total: len(list), Scanned: len(list), Open: []int{22, 443}}, nil
}

func TestProgressBar(t *testing.T) {
	testData := []struct {
		done, total, width int
		full               int
	}{
		{0, 10, 20, 0},
		{5, 10, 20, 10},
		{10, 10, 20, 20},
		{3, 0, 20, 0},
		{1, 1, 2, 10},
		{1, 2, 500, 25},
	}

	for _, test := range testData {
		bar := progressBar(test.done, test.total, test.width)
		if n := strings.Count(bar, "█"); n != test.full {
			t.Error("progressBar", test.done, test.total, test.width, "filled", n, "expected", test.full)
		}
	}
}

func TestScanModel(t *testing.T) {
	m := NewScanModel(context.Background(), fakeScan, "10.0.0.1", "20-25,443")

	// Drive the model by hand instead of starting a program
	msg := m.run()
	p := <-m.progress
	if p.total != 7 || p.done != 7 {
		t.Error("unexpected progress", p)
	}

	var model tea.Model = m
	model, _ = model.Update(p)
	if !strings.Contains(model.View(), "7/7") {
		t.Error("progress not shown", model.View())
	}

	model, cmd := model.Update(msg)
	if cmd == nil {
		t.Error("expected quit after the scan finished")
	}

	view := model.View()
	if !strings.Contains(view, "2 open of 7") {
		t.Error("summary not shown", view)
	}
	if !strings.Contains(view, "443") {
		t.Error("open port not listed", view)
	}

	report, err := model.(ScanModel).Result()
	if err != nil || len(report.Open) != 2 {
		t.Error("unexpected result", report, err)
	}
}

func TestScanModelError(t *testing.T) {
	failing := func(ctx context.Context, host string, ports string, progress portscan.ProgressFunc) (portscan.Report, error) {
		return portscan.Report{}, netshare.NewInputError("ports", "please enter a valid port list")
	}

	m := NewScanModel(context.Background(), failing, "10.0.0.1", "x")
	model, _ := m.Update(m.run())
	if !strings.Contains(model.View(), "please enter a valid port list") {
		t.Error("error not shown", model.View())
	}
}
