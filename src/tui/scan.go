// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/casjay-forks/vlabstools/src/netshare"
	"github.com/casjay-forks/vlabstools/src/portscan"
)

// ScanFunc runs one scan; toolbox.Toolbox.Scan satisfies it.
type ScanFunc func(ctx context.Context, host string, ports string, progress portscan.ProgressFunc) (portscan.Report, error)

type progressMsg struct {
	total int
	done  int
}

type scanDoneMsg struct {
	report portscan.Report
	err    error
}

// ScanModel shows a running port scan with a progress bar.
type ScanModel struct {
	host  string
	ports string

	scan     ScanFunc
	ctx      context.Context
	cancel   context.CancelFunc
	progress chan progressMsg

	total  int
	done   int
	width  int
	report portscan.Report
	err    error

	finished bool
}

func NewScanModel(ctx context.Context, scan ScanFunc, host, ports string) ScanModel {
	ctx, cancel := context.WithCancel(ctx)
	return ScanModel{
		host:     host,
		ports:    ports,
		scan:     scan,
		ctx:      ctx,
		cancel:   cancel,
		progress: make(chan progressMsg, 1),
		width:    40,
	}
}

// run starts the scan; progress updates replace each other so a slow
// terminal never holds up the probes.
func (m ScanModel) run() tea.Msg {
	report, err := m.scan(m.ctx, m.host, m.ports, func(total, done int) {
		select {
		case <-m.progress:
		default:
		}
		m.progress <- progressMsg{total: total, done: done}
	})
	return scanDoneMsg{report: report, err: err}
}

func (m ScanModel) waitProgress() tea.Msg {
	select {
	case p := <-m.progress:
		return p
	case <-m.ctx.Done():
		return nil
	}
}

func (m ScanModel) Init() tea.Cmd {
	return tea.Batch(m.run, m.waitProgress)
}

func (m ScanModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width - 20

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			// The scan stops at the next probe and reports what it has
			m.cancel()
		}

	case progressMsg:
		m.total = msg.total
		m.done = msg.done
		if !m.finished {
			return m, m.waitProgress
		}

	case scanDoneMsg:
		m.finished = true
		m.report = msg.report
		m.err = msg.err
		if msg.report.Total > 0 {
			m.total = msg.report.Total
			m.done = msg.report.Scanned
		}
		m.cancel()
		return m, tea.Quit
	}

	return m, nil
}

func (m ScanModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Port scan: "+m.host) + "\n")

	if m.err != nil && !m.report.Cancelled {
		b.WriteString(errorStyle.Render(netshare.Message(m.err)) + "\n")
		return boxStyle.Render(b.String())
	}

	b.WriteString(progressBar(m.done, m.total, m.width))
	b.WriteString(fmt.Sprintf(" %d/%d\n", m.done, m.total))

	if m.finished {
		style := successStyle
		if m.report.Cancelled {
			style = errorStyle
		}
		b.WriteString("\n" + style.Render(m.report.Summary()) + "\n")
		for _, p := range m.report.Open {
			b.WriteString(fmt.Sprintf("  %5d  %s\n", p, portscan.ServiceName(p)))
		}
		return boxStyle.Render(b.String())
	}

	b.WriteString(subtitleStyle.Render("Ports: "+m.ports) + "\n")
	b.WriteString(helpStyle.Render("q: cancel"))

	return boxStyle.Render(b.String())
}

// Result returns the finished report and error.
func (m ScanModel) Result() (portscan.Report, error) {
	return m.report, m.err
}

// RunScan runs a scan with a live progress view and returns its report.
func RunScan(ctx context.Context, scan ScanFunc, host, ports string) (portscan.Report, error) {
	model := NewScanModel(ctx, scan, host, ports)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		model.cancel()
		return portscan.Report{}, fmt.Errorf("TUI error: %w", err)
	}

	return finalModel.(ScanModel).Result()
}
