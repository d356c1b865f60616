// Package browser opens the participant's web browser at a session URL.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"

	"go.uber.org/zap"

	"github.com/ideate/ideate/internal/common/logger"
)

// Launcher starts the platform browser for session URLs. A non-empty command
// overrides the platform opener, e.g. "firefox".
type Launcher struct {
	command string
	logger  *logger.Logger
}

// NewLauncher creates a browser launcher.
func NewLauncher(command string, log *logger.Logger) *Launcher {
	return &Launcher{command: command, logger: log}
}

// Open launches the browser pointed at url. The browser process is started
// detached; Open returns once the opener has been spawned.
func (l *Launcher) Open(url string) error {
	cmd := l.openCommand(url)

	l.logger.Debug("Opening browser",
		zap.String("url", url),
		zap.String("command", cmd.Path))

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	// Reap the opener so short-lived commands do not linger as zombies.
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

func (l *Launcher) openCommand(url string) *exec.Cmd {
	if l.command != "" {
		return exec.Command(l.command, url)
	}

	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url)
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return exec.Command("xdg-open", url)
	}
}
