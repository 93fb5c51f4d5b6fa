package exporter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// SnapClient manages a snap package and its services.
type SnapClient interface {
	Present(ctx context.Context, name string) (bool, error)
	Install(ctx context.Context, name, channel string) error
	InstallLocal(ctx context.Context, path string) error
	Remove(ctx context.Context, name string) error
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
}

// execSnap drives the snap command line.
type execSnap struct {
	binary string
}

// NewSnapClient returns a SnapClient running the snap command.
func NewSnapClient() SnapClient {
	return &execSnap{binary: "snap"}
}

func (s *execSnap) Present(ctx context.Context, name string) (bool, error) {
	_, err := s.run(ctx, "list", name)
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

// Install installs name from channel, or refreshes it to channel when it is
// already installed.
func (s *execSnap) Install(ctx context.Context, name, channel string) error {
	present, err := s.Present(ctx, name)
	if err != nil {
		return err
	}
	verb := "install"
	if present {
		verb = "refresh"
	}
	args := []string{verb, name}
	if channel != "" {
		args = append(args, "--channel", channel)
	}
	_, err = s.run(ctx, args...)
	return err
}

func (s *execSnap) InstallLocal(ctx context.Context, path string) error {
	_, err := s.run(ctx, "install", "--dangerous", path)
	return err
}

func (s *execSnap) Remove(ctx context.Context, name string) error {
	_, err := s.run(ctx, "remove", name)
	return err
}

func (s *execSnap) Start(ctx context.Context, name string) error {
	_, err := s.run(ctx, "start", name)
	return err
}

func (s *execSnap) Stop(ctx context.Context, name string) error {
	_, err := s.run(ctx, "stop", name)
	return err
}

func (s *execSnap) Restart(ctx context.Context, name string) error {
	_, err := s.run(ctx, "restart", name)
	return err
}

func (s *execSnap) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("snap %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
