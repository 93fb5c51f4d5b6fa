package juju

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kebairia/jujubackup/internal/logger"
)

// ErrTimeout is the cause attached to commands that run out of time.
var ErrTimeout = errors.New("juju command timed out")

// CommandRunner executes a command and returns its standard output.
type CommandRunner func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

// ClientOption lets you override default settings on a Client.
type ClientOption func(*Client)

// Client drives the juju CLI against the controllers in a juju data
// directory.
type Client struct {
	Binary   string
	JujuData string
	Timeout  time.Duration
	Logger   logger.Logger
	run      CommandRunner
}

// NewClient returns a Client configured with any overrides.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		Binary:  "juju",
		Timeout: 2 * time.Minute,
		Logger:  logger.Global(),
		run:     execRunner,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithBinary overrides the juju executable.
func WithBinary(binary string) ClientOption {
	return func(c *Client) {
		if binary != "" {
			c.Binary = binary
		}
	}
}

// WithJujuData sets JUJU_DATA for every command.
func WithJujuData(dir string) ClientOption {
	return func(c *Client) {
		if dir != "" {
			c.JujuData = dir
		}
	}
}

// WithTimeout bounds each command.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(log logger.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.Logger = log
		}
	}
}

// WithCommandRunner replaces the process runner, mostly for tests.
func WithCommandRunner(run CommandRunner) ClientOption {
	return func(c *Client) {
		if run != nil {
			c.run = run
		}
	}
}

type modelsOutput struct {
	Models []struct {
		Name      string `json:"name"`
		ShortName string `json:"short-name"`
	} `json:"models"`
}

// ListModels returns the qualified names (owner/model) of every model on
// controller.
func (c *Client) ListModels(ctx context.Context, controller string) ([]string, error) {
	out, err := c.juju(ctx, "models", "--controller", controller, "--format", "json")
	if err != nil {
		return nil, fmt.Errorf("list models on %q: %w", controller, err)
	}
	var parsed modelsOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("decode models of %q: %w", controller, err)
	}
	models := make([]string, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		name := m.Name
		if name == "" {
			name = m.ShortName
		}
		models = append(models, name)
	}
	return models, nil
}

// SSHKeyFingerprints lists the fingerprints of the keys authorized on model.
func (c *Client) SSHKeyFingerprints(ctx context.Context, controller, model string) ([]string, error) {
	out, err := c.juju(ctx, "ssh-keys", "--model", qualify(controller, model))
	if err != nil {
		return nil, fmt.Errorf("list ssh keys of %s: %w", qualify(controller, model), err)
	}
	var fingerprints []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// skip the "Keys used in model: ..." header
		if line == "" || strings.HasPrefix(line, "Keys used in model") {
			continue
		}
		fingerprints = append(fingerprints, line)
	}
	return fingerprints, scanner.Err()
}

// AddSSHKey authorizes key on model.
func (c *Client) AddSSHKey(ctx context.Context, controller, model, key string) error {
	if _, err := c.juju(ctx, "add-ssh-key", "--model", qualify(controller, model), key); err != nil {
		return fmt.Errorf("add ssh key to %s: %w", qualify(controller, model), err)
	}
	return nil
}

func (c *Client) juju(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, c.Timeout, ErrTimeout)
	defer cancel()

	env := os.Environ()
	if c.JujuData != "" {
		env = append(env, "JUJU_DATA="+c.JujuData)
	}

	c.Logger.Debug("running juju", "args", args)
	out, err := c.run(ctx, env, c.Binary, args...)
	if err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, ErrTimeout) {
			return nil, cause
		}
		return nil, err
	}
	return out, nil
}

func qualify(controller, model string) string {
	return controller + ":" + model
}

func execRunner(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s %s: %w: %s", name, args[0], err, msg)
		}
		return nil, fmt.Errorf("%s %s: %w", name, args[0], err)
	}
	return out, nil
}
