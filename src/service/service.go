// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

// Package service registers the dashboard with the host service manager
// (systemd, launchd or the Windows service control manager) and runs the
// server under it.
package service

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	kservice "github.com/kardianos/service"
)

// Actions accepted by Manager.Do, in help order.
var Actions = []string{"install", "uninstall", "start", "stop", "restart", "status"}

var ErrUnknownAction = errors.New("service: unknown action")

type Config struct {
	// systemd unit, launchd label or Windows service name
	Name        string
	DisplayName string
	Description string
	Executable  string
	Args        []string
	WorkingDir  string
	// Run as this account, empty keeps the manager default
	User string
}

func (cfg Config) managerConfig() *kservice.Config {
	display := cfg.DisplayName
	if display == "" {
		display = cfg.Name
	}
	return &kservice.Config{
		Name:             cfg.Name,
		DisplayName:      display,
		Description:      cfg.Description,
		Executable:       cfg.Executable,
		Arguments:        cfg.Args,
		WorkingDirectory: cfg.WorkingDir,
		UserName:         cfg.User,
		Dependencies: []string{
			"After=network-online.target",
			"Wants=network-online.target",
		},
		Option: kservice.KeyValue{
			"Restart":   "on-failure",
			"KeepAlive": true,
			"RunAtLoad": true,
		},
	}
}

// ServeFunc runs the server until stop is closed.
type ServeFunc func(stop <-chan struct{}) error

// program adapts a ServeFunc to the service manager callbacks.
type program struct {
	serve ServeFunc
	stop  chan struct{}
	done  chan error
}

func (p *program) Start(s kservice.Service) error {
	go func() {
		err := p.serve(p.stop)
		select {
		case <-p.stop:
			p.done <- err
		default:
			// The server quit on its own; let the manager restart it
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			os.Exit(0)
		}
	}()
	return nil
}

func (p *program) Stop(s kservice.Service) error {
	close(p.stop)
	return <-p.done
}

// Run calls serve directly when started from a terminal, stopping on
// SIGINT or SIGTERM, and through the service manager otherwise.
func Run(cfg Config, serve ServeFunc) error {
	if kservice.Interactive() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigs)
		return runInteractive(sigs, serve)
	}

	prg := &program{serve: serve, stop: make(chan struct{}), done: make(chan error, 1)}
	s, err := kservice.New(prg, cfg.managerConfig())
	if err != nil {
		return fmt.Errorf("service: %w", err)
	}
	return s.Run()
}

func runInteractive(sigs <-chan os.Signal, serve ServeFunc) error {
	stop := make(chan struct{})
	go func() {
		<-sigs
		close(stop)
	}()
	return serve(stop)
}

type Manager struct {
	cfg     Config
	service kservice.Service
}

func New(cfg Config) (*Manager, error) {
	s, err := kservice.New(&program{}, cfg.managerConfig())
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	return &Manager{cfg: cfg, service: s}, nil
}

// Do runs one of Actions. Status is returned as text.
func (m *Manager) Do(action string) (string, error) {
	action = strings.ToLower(strings.TrimSpace(action))

	switch action {
	case "status":
		status, err := m.service.Status()
		if errors.Is(err, kservice.ErrNotInstalled) {
			return "not installed", nil
		}
		if err != nil {
			return "", fmt.Errorf("service: %w", err)
		}
		return statusText(status), nil

	case "install", "uninstall", "start", "stop", "restart":
		if err := kservice.Control(m.service, action); err != nil {
			return "", fmt.Errorf("service: %w", err)
		}
		return action + " done", nil
	}

	return "", fmt.Errorf("%w %q, expected one of %s", ErrUnknownAction, action, strings.Join(Actions, ", "))
}

func statusText(s kservice.Status) string {
	switch s {
	case kservice.StatusRunning:
		return "running"
	case kservice.StatusStopped:
		return "stopped"
	}
	return "unknown"
}
