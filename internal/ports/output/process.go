package output

import "context"

// ProcessController defines the secondary port for external process control.
type ProcessController interface {
	// Terminate forcefully ends every running process with the given image name.
	Terminate(ctx context.Context, imageName string) error

	// Start launches executable with args and returns once the process has
	// started. It does not wait for the process to exit.
	Start(ctx context.Context, executable string, args ...string) error
}
