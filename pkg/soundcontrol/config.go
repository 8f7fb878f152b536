package soundcontrol

import (
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/mixer"
	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/util"
)

// configValues holds every setting read from the config files
type configValues struct {
	HTTP struct {
		Enabled bool
		Address string
	}

	SSE struct {
		Port int
	}

	Serial struct {
		Port     string
		BaudRate int
	}

	Icons struct {
		Enabled bool
		Drives  []string
	}

	SpeakerDriverClasses []string

	// zero means the snapshot is only rebuilt by commands
	RefreshInterval time.Duration
}

// CanonicalConfig provides application-wide access to configuration fields,
// as well as loading/file watching logic for the configuration file
type CanonicalConfig struct {
	current      configValues
	currentMutex sync.RWMutex

	logger             *zap.SugaredLogger
	notifier           Notifier
	stopWatcherChannel chan bool

	reloadConsumers []chan bool

	userConfig     *viper.Viper
	internalConfig *viper.Viper
}

const (
	userConfigFilepath = "config.yaml"

	userConfigName     = "config"
	internalConfigName = "preferences"

	userConfigPath = "."

	configType = "yaml"

	configKeyHTTPEnabled          = "http.enabled"
	configKeyHTTPAddress          = "http.address"
	configKeySSEPort              = "sse.port"
	configKeySerialPort           = "serial.com_port"
	configKeySerialBaudRate       = "serial.baud_rate"
	configKeyIconsEnabled         = "icons.enabled"
	configKeyIconsDrives          = "icons.drives"
	configKeySpeakerDriverClasses = "speakers.driver_classes"
	configKeyRefreshInterval      = "refresh.interval"

	defaultHTTPAddress    = ":8080"
	defaultSerialBaudRate = 115200
)

// has to be defined as a non-constant because we're using path.Join
var internalConfigPath = path.Join(".", logDirectory)

// speaker endpoints are filtered by driver class on Windows only; pulse reports bus names instead
func defaultSpeakerDriverClasses() []string {
	if util.Linux() {
		return []string{}
	}

	return []string{"HDAUDIO"}
}

// NewConfig creates a config instance and sets up viper instances for the config files
func NewConfig(logger *zap.SugaredLogger, notifier Notifier) (*CanonicalConfig, error) {
	logger = logger.Named("config")

	cc := &CanonicalConfig{
		logger:             logger,
		notifier:           notifier,
		reloadConsumers:    []chan bool{},
		stopWatcherChannel: make(chan bool),
	}

	// distinguish between the user-provided config (config.yaml) and the internal config (logs/preferences.yaml)
	userConfig := viper.New()
	userConfig.SetConfigName(userConfigName)
	userConfig.SetConfigType(configType)
	userConfig.AddConfigPath(userConfigPath)

	userConfig.SetDefault(configKeyHTTPEnabled, true)
	userConfig.SetDefault(configKeyHTTPAddress, defaultHTTPAddress)
	userConfig.SetDefault(configKeySSEPort, 0)
	userConfig.SetDefault(configKeySerialPort, "")
	userConfig.SetDefault(configKeySerialBaudRate, defaultSerialBaudRate)
	userConfig.SetDefault(configKeyIconsEnabled, true)
	userConfig.SetDefault(configKeyIconsDrives, mixer.DefaultDrives)
	userConfig.SetDefault(configKeySpeakerDriverClasses, defaultSpeakerDriverClasses())
	userConfig.SetDefault(configKeyRefreshInterval, 0)

	internalConfig := viper.New()
	internalConfig.SetConfigName(internalConfigName)
	internalConfig.SetConfigType(configType)
	internalConfig.AddConfigPath(internalConfigPath)

	cc.userConfig = userConfig
	cc.internalConfig = internalConfig

	logger.Debug("Created config instance")

	return cc, nil
}

// Load reads the config files from disk and tries to parse them
func (cc *CanonicalConfig) Load() error {
	cc.logger.Debugw("Loading config", "path", userConfigFilepath)

	if !util.FileExists(userConfigFilepath) {
		cc.logger.Warnw("Config file not found", "path", userConfigFilepath)
		cc.notifier.Notify("Can't find configuration!",
			fmt.Sprintf("%s must be in the same directory as soundcontrol. Please re-launch", userConfigFilepath))
		return fmt.Errorf("config file doesn't exist: %s", userConfigFilepath)
	}

	if err := cc.userConfig.ReadInConfig(); err != nil {
		cc.logger.Warnw("Viper failed to read user config", "error", err)
		if strings.Contains(err.Error(), "yaml:") {
			cc.notifier.Notify("Invalid configuration!",
				fmt.Sprintf("Please make sure %s is in a valid YAML format.", userConfigFilepath))
		} else {
			cc.notifier.Notify("Error loading configuration!", "Please check soundcontrol's logs for more details.")
		}
		return fmt.Errorf("read user config: %w", err)
	}

	if err := cc.internalConfig.ReadInConfig(); err != nil {
		cc.logger.Debugw("Viper failed to read internal config", "error", err, "reminder", "this is fine")
	}

	// preferences only fill in what the user config leaves unset
	for _, key := range cc.internalConfig.AllKeys() {
		cc.userConfig.SetDefault(key, cc.internalConfig.Get(key))
	}

	if err := cc.populateFromVipers(); err != nil {
		cc.logger.Warnw("Failed to populate config fields", "error", err)
		cc.notifier.Notify("Invalid configuration!", err.Error())
		return fmt.Errorf("populate config fields: %w", err)
	}

	values := cc.Values()

	cc.logger.Info("Loaded config successfully")
	cc.logger.Infow("Config values",
		"http", values.HTTP,
		"sse", values.SSE,
		"serial", values.Serial,
		"icons", values.Icons,
		"speakerDriverClasses", values.SpeakerDriverClasses,
		"refreshInterval", values.RefreshInterval,
	)

	return nil
}

// Values returns the settings of the last successful load. Reloads never change a returned copy
func (cc *CanonicalConfig) Values() configValues {
	cc.currentMutex.RLock()
	defer cc.currentMutex.RUnlock()

	return cc.current
}

// SubscribeToChanges allows external components to receive updates when the config is reloaded
func (cc *CanonicalConfig) SubscribeToChanges() chan bool {
	c := make(chan bool, 1)
	cc.reloadConsumers = append(cc.reloadConsumers, c)

	return c
}

// WatchConfigFileChanges starts watching for configuration file changes
// and attempts reloading the config when they happen
func (cc *CanonicalConfig) WatchConfigFileChanges() {
	cc.logger.Debugw("Starting to watch user config file for changes", "path", userConfigFilepath)

	const (
		minTimeBetweenReloadAttempts = time.Millisecond * 500
		delayBetweenEventAndReload   = time.Millisecond * 50
	)

	lastAttemptedReload := time.Now()

	// establish watch using viper as opposed to doing it ourselves, though our internal cooldown is still required
	cc.userConfig.WatchConfig()
	cc.userConfig.OnConfigChange(func(event fsnotify.Event) {
		if event.Op&fsnotify.Write != fsnotify.Write {
			return
		}

		now := time.Now()

		// many editors write the file twice
		if !lastAttemptedReload.Add(minTimeBetweenReloadAttempts).Before(now) {
			return
		}

		cc.logger.Debugw("Config file modified, attempting reload", "event", event)

		// let the editor flush the new file contents to disk
		<-time.After(delayBetweenEventAndReload)

		if err := cc.Load(); err != nil {
			cc.logger.Warnw("Failed to reload config file", "error", err)
		} else {
			cc.logger.Info("Reloaded config successfully")
			cc.notifier.Notify("Configuration reloaded!", "Your changes have been applied.")

			cc.onConfigReloaded()
		}

		lastAttemptedReload = now
	})

	// wait till they stop us
	<-cc.stopWatcherChannel
	cc.logger.Debug("Stopping user config file watcher")
	cc.userConfig.OnConfigChange(nil)
}

// StopWatchingConfigFile signals our filesystem watcher to stop
func (cc *CanonicalConfig) StopWatchingConfigFile() {
	select {
	case cc.stopWatcherChannel <- true:
	default:
		// watcher never started
	}

	cc.closeReloadChannels()
}

func (cc *CanonicalConfig) closeReloadChannels() {
	for _, ch := range cc.reloadConsumers {
		close(ch)
	}
	cc.reloadConsumers = nil
	cc.logger.Debug("Closed all config reload channels")
}

// populateFromVipers only replaces the current values once all of them are valid
func (cc *CanonicalConfig) populateFromVipers() error {
	var next configValues

	next.HTTP.Enabled = cc.userConfig.GetBool(configKeyHTTPEnabled)
	next.HTTP.Address = cc.userConfig.GetString(configKeyHTTPAddress)

	next.SSE.Port = cc.userConfig.GetInt(configKeySSEPort)
	if next.SSE.Port < 0 || next.SSE.Port > 65535 {
		return fmt.Errorf("%s out of range: %d", configKeySSEPort, next.SSE.Port)
	}

	next.Serial.Port = cc.userConfig.GetString(configKeySerialPort)
	next.Serial.BaudRate = cc.userConfig.GetInt(configKeySerialBaudRate)
	if next.Serial.Port != "" && next.Serial.BaudRate <= 0 {
		return fmt.Errorf("%s must be positive when %s is set", configKeySerialBaudRate, configKeySerialPort)
	}

	next.Icons.Enabled = cc.userConfig.GetBool(configKeyIconsEnabled)
	next.Icons.Drives = normalizeDrives(cc.userConfig.GetStringSlice(configKeyIconsDrives))

	next.SpeakerDriverClasses = cc.userConfig.GetStringSlice(configKeySpeakerDriverClasses)

	intervalMillis := cc.userConfig.GetInt(configKeyRefreshInterval)
	if intervalMillis < 0 {
		return fmt.Errorf("%s must not be negative: %d", configKeyRefreshInterval, intervalMillis)
	}
	next.RefreshInterval = time.Duration(intervalMillis) * time.Millisecond

	if !next.HTTP.Enabled && next.SSE.Port == 0 && next.Serial.Port == "" {
		return fmt.Errorf("no transport enabled: enable %s, %s or %s", configKeyHTTPEnabled, configKeySSEPort, configKeySerialPort)
	}

	cc.currentMutex.Lock()
	cc.current = next
	cc.currentMutex.Unlock()

	cc.logger.Debug("Populated config fields from vipers")

	return nil
}

// accepts "d", "D:" and "D:\", always yields "D:"
func normalizeDrives(drives []string) []string {
	normalized := make([]string, 0, len(drives))

	for _, drive := range drives {
		drive = strings.TrimRight(strings.TrimSpace(drive), `\/`)
		if drive == "" {
			continue
		}

		drive = strings.TrimSuffix(strings.ToUpper(drive), ":") + ":"
		normalized = append(normalized, drive)
	}

	return normalized
}

func (cc *CanonicalConfig) onConfigReloaded() {
	cc.logger.Debug("Notifying consumers about configuration reload")

	for _, consumer := range cc.reloadConsumers {
		select {
		case consumer <- true:
		default:
			// a reload is already pending for this consumer
		}
	}
}
