// Package soundcontrol exposes the audio mixer of this machine to remote callers:
// master volume, per-application volume and the default output device.
package soundcontrol

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/mixer"
	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/util"
)

const (

	// when this is set to anything, soundcontrol won't use a tray icon
	envNoTray = "SOUNDCONTROL_NO_TRAY_ICON"

	// delay between stopping an old transport and starting its replacement during config reload
	configReloadStopDelay = 50 * time.Millisecond

	// how long to wait for the serial loop to wind down
	interfaceStopTimeout = 500 * time.Millisecond

	// granularity of the periodic refresh
	refreshTick = 250 * time.Millisecond
)

// SoundControl is the main entity managing access to all sub-components
type SoundControl struct {
	logger   *zap.SugaredLogger
	notifier Notifier
	config   *CanonicalConfig
	provider mixer.Provider
	icons    mixer.IconLoader
	mixer    *mixer.Mixer
	metrics  *commandMetrics
	commands *commandRunner

	http   *HTTPServer
	sse    *SseServer
	serial *SerialIO

	stopChannel chan bool
	version     string
	verbose     bool
	stopping    sync.Once

	// protects transport restarts
	ioMutex sync.Mutex
}

// NewSoundControl creates a SoundControl instance
func NewSoundControl(logger *zap.SugaredLogger, verbose bool) (*SoundControl, error) {
	logger = logger.Named("soundcontrol")

	notifier, err := NewToastNotifier(logger)
	if err != nil {
		logger.Errorw("Failed to create ToastNotifier", "error", err)
		return nil, fmt.Errorf("create new ToastNotifier: %w", err)
	}

	config, err := NewConfig(logger, notifier)
	if err != nil {
		logger.Errorw("Failed to create Config", "error", err)
		return nil, fmt.Errorf("create new Config: %w", err)
	}

	sc := &SoundControl{
		logger:      logger,
		notifier:    notifier,
		config:      config,
		metrics:     newCommandMetrics(),
		stopChannel: make(chan bool),
		verbose:     verbose,
	}

	logger.Debug("Created soundcontrol instance")

	return sc, nil
}

// Initialize loads the config, binds to the audio subsystem and starts to run in the background
func (sc *SoundControl) Initialize() error {
	sc.logger.Debug("Initializing")

	// load the config for the first time
	if err := sc.config.Load(); err != nil {
		sc.logger.Errorw("Failed to load config during initialization", "error", err)
		return fmt.Errorf("load config during init: %w", err)
	}

	provider, err := newProvider(sc.logger)
	if err != nil {
		sc.logger.Errorw("Failed to create audio provider", "error", err)
		sc.notifier.Notify("Can't access audio devices!", "Please check soundcontrol's logs for more details.")
		return fmt.Errorf("create audio provider: %w", err)
	}
	sc.provider = provider
	sc.icons = newIconLoader(sc.logger)

	sc.mixer = mixer.New(sc.logger, provider, sc.mixerOptions())
	sc.commands = newCommandRunner(sc.logger, sc.mixer, sc.metrics)

	sc.http = NewHTTPServer(sc.commands, sc.logger)

	if sc.sse, err = NewSseServer(sc.mixer, sc.logger); err != nil {
		sc.logger.Errorw("Failed to create SseServer", "error", err)
		return fmt.Errorf("create new SseServer: %w", err)
	}

	if sc.serial, err = NewSerialIO(sc, sc.logger); err != nil {
		sc.logger.Errorw("Failed to create SerialIO", "error", err)
		return fmt.Errorf("create new SerialIO: %w", err)
	}

	initial := sc.mixer.Refresh()
	sc.logger.Infow("Initial snapshot", "snapshot", initial)
	for _, session := range initial.Sessions {
		sc.logger.Infow("Audio session", "session", session)
	}
	for _, speaker := range initial.Speakers {
		sc.logger.Infow("Speaker", "name", speaker.Name, "id", speaker.ID, "default", speaker.IsDefault)
	}

	// decide whether to run with/without tray
	if _, noTraySet := os.LookupEnv(envNoTray); noTraySet {

		sc.logger.Debugw("Running without tray icon", "reason", "envvar set")

		// run in main thread while waiting on ctrl+C
		sc.setupInterruptHandler()
		sc.run()

	} else {
		sc.setupInterruptHandler()
		sc.initializeTray(sc.run)
	}

	return nil
}

// SetVersion causes soundcontrol to add a version string to its tray menu if called before Initialize
func (sc *SoundControl) SetVersion(version string) {
	sc.version = version
}

// Verbose returns a boolean indicating whether soundcontrol is running in verbose mode
func (sc *SoundControl) Verbose() bool {
	return sc.verbose
}

func (sc *SoundControl) setupInterruptHandler() {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		signal := <-interruptChannel
		sc.logger.Debugw("Interrupted", "signal", signal)
		sc.signalStop()
	}()
}

func (sc *SoundControl) run() {
	defer sc.recoverFromPanic()

	sc.logger.Info("Run loop starting")

	// watch the config file for changes
	go sc.config.WatchConfigFileChanges()

	sc.setupOnConfigReload()

	sc.startIO()

	go sc.refreshLoop()

	// wait until stopped (gracefully)
	<-sc.stopChannel
	sc.logger.Debug("Stop channel signaled, terminating")

	if err := sc.stop(); err != nil {
		sc.logger.Warnw("Failed to stop soundcontrol", "error", err)
		os.Exit(1)
	} else {
		// exit with 0
		os.Exit(0)
	}
}

func (sc *SoundControl) signalStop() {
	sc.stopping.Do(func() {
		sc.logger.Debug("Signalling stop channel")
		close(sc.stopChannel)
	})
}

func (sc *SoundControl) stop() error {
	sc.logger.Info("Stopping")

	sc.config.StopWatchingConfigFile()

	sc.ioMutex.Lock()
	sc.http.Stop()
	sc.sse.Stop()
	sc.serial.Stop()
	if !sc.serial.WaitForStop(interfaceStopTimeout) {
		sc.logger.Warn("Serial loop did not stop within timeout, proceeding anyway")
	}
	sc.ioMutex.Unlock()

	sc.mixer.Close()

	if err := sc.provider.Release(); err != nil {
		sc.logger.Errorw("Failed to release audio provider", "error", err)
		return fmt.Errorf("release audio provider: %w", err)
	}

	sc.stopTray()

	// attempt to sync on exit - this won't necessarily work but can't harm
	sc.logger.Sync()

	return nil
}

func (sc *SoundControl) mixerOptions() mixer.Options {
	values := sc.config.Values()

	options := mixer.Options{
		Drives:         values.Icons.Drives,
		SpeakerClasses: values.SpeakerDriverClasses,
	}

	if values.Icons.Enabled {
		options.IconLoader = sc.icons
	}

	return options
}

// startIO starts every configured transport. Ones already running with unchanged settings are left alone
func (sc *SoundControl) startIO() {
	sc.ioMutex.Lock()
	defer sc.ioMutex.Unlock()

	values := sc.config.Values()

	if values.HTTP.Enabled {
		if err := sc.http.Start(values.HTTP.Address); err != nil {
			sc.logger.Warnw("Failed to start HTTP server", "addr", values.HTTP.Address, "error", err)
			sc.notifier.Notify(fmt.Sprintf("Can't listen on %s!", values.HTTP.Address),
				"Make sure no other program (or another soundcontrol instance) uses this address.")
		}
	} else {
		sc.http.Stop()
	}

	if err := sc.sse.Start(values.SSE.Port); err != nil {
		sc.logger.Warnw("Failed to start SSE server", "port", values.SSE.Port, "error", err)
		sc.notifier.Notify(fmt.Sprintf("Can't listen on port %d!", values.SSE.Port),
			"Make sure no other program (or another soundcontrol instance) uses this port.")
	}

	sc.startSerial(values.Serial.Port, values.Serial.BaudRate)
}

// assumes ioMutex is held
func (sc *SoundControl) startSerial(wantPort string, wantBaud int) {
	currentPort, currentBaud := sc.serial.CurrentPort()

	if currentPort != "" && currentPort == wantPort && currentBaud == uint(wantBaud) {
		return
	}

	if currentPort != "" {
		sc.logger.Infow("Serial settings changed, renewing connection", "old", currentPort, "new", wantPort)
		sc.serial.Stop()
		sc.serial.WaitForStop(interfaceStopTimeout)
		<-time.After(configReloadStopDelay)
	}

	if wantPort == "" {
		return
	}

	err := sc.serial.Start()
	if err == nil {
		return
	}

	sc.logger.Warnw("Failed to start serial connection", "port", wantPort, "error", err)

	switch {
	case errors.Is(err, os.ErrPermission):
		sc.notifier.Notify(fmt.Sprintf("Can't connect to %s!", wantPort),
			"This serial port is busy, make sure to close any serial monitor or other soundcontrol instance.")
	case errors.Is(err, os.ErrNotExist):
		sc.notifier.Notify(fmt.Sprintf("Can't connect to %s!", wantPort),
			"This serial port doesn't exist, check your configuration and make sure it's set correctly.")
	default:
		sc.notifier.Notify(fmt.Sprintf("Can't connect to %s!", wantPort), strings.TrimSpace(err.Error()))
	}
}

func (sc *SoundControl) setupOnConfigReload() {
	configReloadedChannel := sc.config.SubscribeToChanges()

	go func() {
		for range configReloadedChannel {
			sc.logger.Info("Detected config reload, applying mixer and transport settings")

			sc.mixer.Reconfigure(sc.mixerOptions())
			sc.commands.execute(sourceConfig, string(mixer.OpRefresh))

			sc.startIO()
		}

		sc.logger.Debug("Config reload channel closed, exiting handler")
	}()
}

// refreshLoop rebuilds the snapshot periodically so that pushed clients see
// changes made outside of soundcontrol
func (sc *SoundControl) refreshLoop() {
	lastRefresh := time.Now()
	ticker := time.NewTicker(refreshTick)
	defer ticker.Stop()

	for {
		select {
		case <-sc.stopChannel:
			return

		case now := <-ticker.C:
			interval := sc.config.Values().RefreshInterval
			if interval <= 0 || now.Sub(lastRefresh) < interval {
				continue
			}

			sc.commands.execute(sourceTimer, string(mixer.OpRefresh))
			lastRefresh = now
		}
	}
}
