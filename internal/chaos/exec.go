// internal/chaos/exec.go
package chaos

import (
	"context"
	"os/exec"
)

func composeCommand(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, "docker", append([]string{"compose"}, args...)...)
}
