package soundcontrol

import (
	"path/filepath"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"

	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/icon"
	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/util"
)

// Notifier provides generic notification sending
type Notifier interface {
	Notify(title string, message string)
}

// ToastNotifier provides toast notifications for Windows and desktop notifications on Linux
type ToastNotifier struct {
	logger *zap.SugaredLogger
}

// NewToastNotifier creates a new ToastNotifier
func NewToastNotifier(logger *zap.SugaredLogger) (*ToastNotifier, error) {
	logger = logger.Named("notifier")
	tn := &ToastNotifier{logger: logger}

	logger.Debug("Created toast notifier instance")

	return tn, nil
}

// Notify sends a toast notification (or falls back to other types of notification for older Windows versions)
func (tn *ToastNotifier) Notify(title string, message string) {
	appIconPath := filepath.Join(logDirectory, "soundcontrol.ico")

	// the notification API wants a file, write ours out once
	if !util.FileExists(appIconPath) {
		tn.logger.Debugw("Notification icon doesn't exist, creating", "path", appIconPath)

		if err := util.WriteFile(appIconPath, icon.SoundControlLogo); err != nil {
			tn.logger.Errorw("Failed to create toast notification icon", "error", err)
		}
	}

	tn.logger.Infow("Sending toast notification", "title", title, "message", message)

	if err := beeep.Notify(title, message, appIconPath); err != nil {
		tn.logger.Errorw("Failed to send toast notification", "error", err)
	}
}
