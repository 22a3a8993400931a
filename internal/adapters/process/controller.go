// Package process starts and stops the external viewer through the
// operating system.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// ImagePlaceholder is replaced by the process image name in kill commands.
const ImagePlaceholder = "{image}"

// Controller implements the ProcessController port with os/exec.
type Controller struct {
	killCommand []string
	logger      *slog.Logger
}

// NewController creates a controller. killCommand is the argv used to end
// running viewers, e.g. ["pkill", "-x", "{image}"].
func NewController(killCommand []string, logger *slog.Logger) *Controller {
	return &Controller{
		killCommand: killCommand,
		logger:      logger,
	}
}

// Terminate runs the kill command for imageName and waits for it to exit.
// A non-zero exit usually means nothing was running.
func (c *Controller) Terminate(ctx context.Context, imageName string) error {
	argv := c.KillArgs(imageName)
	if len(argv) == 0 {
		return errors.New("no kill command configured")
	}

	start := time.Now()
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	c.logger.Debug("terminate command finished",
		"command", strings.Join(argv, " "),
		"duration", time.Since(start),
		"output", strings.TrimSpace(string(out)),
		"error", err,
	)
	if err != nil {
		return fmt.Errorf("terminating %s: %w", imageName, err)
	}
	return nil
}

// KillArgs returns the kill command for imageName.
func (c *Controller) KillArgs(imageName string) []string {
	argv := make([]string, len(c.killCommand))
	for i, arg := range c.killCommand {
		argv[i] = strings.ReplaceAll(arg, ImagePlaceholder, imageName)
	}
	return argv
}

// Start launches the executable and returns as soon as the process exists.
// The process is not bound to ctx and keeps running after seriesview exits.
func (c *Controller) Start(ctx context.Context, executable string, args ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(executable, args...) //nolint:gosec // executable comes from configuration
	if err := cmd.Start(); err != nil {
		return err
	}

	pid := cmd.Process.Pid
	c.logger.Info("process started", "executable", executable, "pid", pid)

	// Reap the child so it does not linger as a zombie.
	go func() {
		err := cmd.Wait()
		c.logger.Debug("process exited", "executable", executable, "pid", pid, "error", err)
	}()

	return nil
}
