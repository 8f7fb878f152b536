package soundcontrol

import (
	"os"

	"github.com/getlantern/systray"
	"go.uber.org/zap"

	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/icon"
	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/mixer"
	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/util"
)

type trayMenu struct {
	editConfig *systray.MenuItem
	rescan     *systray.MenuItem
	dumpStack  *systray.MenuItem // verbose mode only
	quit       *systray.MenuItem
}

func (sc *SoundControl) initializeTray(onDone func()) {
	logger := sc.logger.Named("tray")

	onReady := func() {
		logger.Debug("Tray instance ready")

		menu := sc.buildTrayMenu()
		go sc.handleTrayClicks(logger, menu)

		onDone()
	}

	onExit := func() {
		logger.Debug("Tray exited")
	}

	logger.Debug("Running in tray")
	systray.Run(onReady, onExit)
}

func (sc *SoundControl) buildTrayMenu() trayMenu {
	systray.SetTemplateIcon(icon.SoundControlLogo, icon.SoundControlLogo)
	systray.SetTitle("SoundControl")
	systray.SetTooltip("SoundControl")

	var menu trayMenu

	menu.editConfig = systray.AddMenuItem("Edit configuration", "Open config file in a text editor")
	menu.editConfig.SetIcon(icon.EditConfig)

	menu.rescan = systray.AddMenuItem("Re-scan audio sessions", "Rebuild the mixer snapshot and push it to all clients")
	menu.rescan.SetIcon(icon.RefreshSessions)

	if sc.verbose {
		menu.dumpStack = systray.AddMenuItem("Dump stack trace", "Write the stack of every goroutine to the log")
		menu.dumpStack.SetIcon(icon.RefreshSessions)
	}

	if sc.version != "" {
		systray.AddSeparator()
		systray.AddMenuItem(sc.version, "").Disable()
	}

	systray.AddSeparator()
	menu.quit = systray.AddMenuItem("Quit", "Stop soundcontrol and quit")

	return menu
}

func (sc *SoundControl) handleTrayClicks(logger *zap.SugaredLogger, menu trayMenu) {
	// a nil channel never fires, so the dump item is simply absent outside verbose mode
	var dumpStack chan struct{}
	if menu.dumpStack != nil {
		dumpStack = menu.dumpStack.ClickedCh
	}

	for {
		select {
		case <-menu.quit.ClickedCh:
			logger.Info("Quit clicked, stopping")
			sc.signalStop()

		case <-menu.editConfig.ClickedCh:
			editor := configEditor()
			logger.Infow("Edit configuration clicked", "editor", editor)

			if err := util.OpenExternal(logger, editor, userConfigFilepath); err != nil {
				logger.Warnw("Failed to open config file for editing", "error", err)
			}

		case <-menu.rescan.ClickedCh:
			logger.Info("Re-scan clicked, rebuilding snapshot")
			sc.commands.execute(sourceTray, string(mixer.OpRefresh))

		case <-dumpStack:
			logger.Info("Dump stack trace clicked")
			util.DumpAllGoroutines(logger)
		}
	}
}

// $EDITOR, then xdg-open on Linux; notepad elsewhere
func configEditor() string {
	if !util.Linux() {
		return "notepad.exe"
	}

	if editor := os.Getenv("EDITOR"); editor != "" {
		return editor
	}

	return "xdg-open"
}

func (sc *SoundControl) stopTray() {
	sc.logger.Debug("Quitting tray")
	systray.Quit()
}
