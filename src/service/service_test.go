// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package service

import (
	"errors"
	"os"
	"testing"
	"time"

	kservice "github.com/kardianos/service"
)

func TestConfig(t *testing.T) {
	cfg := Config{
		Name:       "vlabstools",
		Executable: "/usr/local/bin/vlabstools",
		Args:       []string{"--config", "/etc/vlabstools"},
		WorkingDir: "/var/lib/vlabstools",
		User:       "vlabs",
	}.managerConfig()

	if cfg.DisplayName != "vlabstools" {
		t.Error("display name should default to the name", cfg.DisplayName)
	}
	if len(cfg.Arguments) != 2 || cfg.WorkingDirectory != "/var/lib/vlabstools" || cfg.UserName != "vlabs" {
		t.Error("unexpected config", cfg)
	}
	if cfg.Option["Restart"] != "on-failure" {
		t.Error("systemd units should restart on failure")
	}
}

func TestRunInteractive(t *testing.T) {
	sigs := make(chan os.Signal, 1)
	started := make(chan struct{})
	result := make(chan error, 1)

	go func() {
		result <- runInteractive(sigs, func(stop <-chan struct{}) error {
			close(started)
			<-stop
			return errors.New("stopped")
		})
	}()

	<-started
	sigs <- os.Interrupt

	select {
	case err := <-result:
		if err == nil || err.Error() != "stopped" {
			t.Error("unexpected result", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestProgramStop(t *testing.T) {
	prg := &program{
		serve: func(stop <-chan struct{}) error {
			<-stop
			return nil
		},
		stop: make(chan struct{}),
		done: make(chan error, 1),
	}

	if err := prg.Start(nil); err != nil {
		t.Fatal(err)
	}
	if err := prg.Stop(nil); err != nil {
		t.Error(err)
	}
}

func TestStatusText(t *testing.T) {
	testData := map[kservice.Status]string{
		kservice.StatusRunning: "running",
		kservice.StatusStopped: "stopped",
		kservice.StatusUnknown: "unknown",
	}
	for status, exp := range testData {
		if got := statusText(status); got != exp {
			t.Error(status, "got", got, "expected", exp)
		}
	}
}
