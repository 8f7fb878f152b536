package soundcontrol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"
)

// SerialIO accepts commands over a serial line, one per line, and answers each
// with a single line of JSON
type SerialIO struct {
	sc     *SoundControl
	logger *zap.SugaredLogger

	stopChannel chan bool
	mu          sync.Mutex // protects connected, conn and connOptions
	connected   bool
	running     bool
	connOptions serial.OpenOptions
	conn        io.ReadWriteCloser
}

const (
	serialRetryDelay = 2 * time.Second

	// milliseconds between characters before a read returns
	serialInterCharacterTimeout = 50
)

var errSerialStopped = errors.New("serial stopped")

var ansiRegexp = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansiRegexp.ReplaceAllString(s, "")
}

// NewSerialIO creates a SerialIO instance using the configured port
func NewSerialIO(sc *SoundControl, logger *zap.SugaredLogger) (*SerialIO, error) {
	logger = logger.Named("serial")

	sio := &SerialIO{
		sc:          sc,
		logger:      logger,
		stopChannel: make(chan bool),
	}

	logger.Debug("Created serial i/o instance")

	return sio, nil
}

// IsConnected returns whether the serial connection is currently active
func (sio *SerialIO) IsConnected() bool {
	sio.mu.Lock()
	defer sio.mu.Unlock()

	return sio.connected
}

// Start connects to the configured port and keeps reconnecting until stopped
func (sio *SerialIO) Start() error {
	sio.mu.Lock()
	if sio.running {
		sio.mu.Unlock()
		return errors.New("serial: already running")
	}
	sio.mu.Unlock()

	if err := sio.connect(); err != nil {
		return fmt.Errorf("serial initial connect: %w", err)
	}

	sio.mu.Lock()
	sio.running = true
	sio.mu.Unlock()

	go func() {
		defer func() {
			sio.mu.Lock()
			sio.running = false
			sio.mu.Unlock()
		}()

		for {
			err := sio.run()
			sio.close()

			if errors.Is(err, errSerialStopped) {
				return
			}

			sio.logger.Warnw("Serial connection lost", "error", err)

			select {
			case <-sio.stopChannel:
				return
			case <-time.After(serialRetryDelay):
			}

			if sio.sc.config.Values().Serial.Port == "" {
				sio.logger.Info("Serial port unset in config, not reconnecting")
				return
			}

			if err := sio.connect(); err != nil {
				sio.logger.Warnw("Serial reconnect failed", "error", err)
			}
		}
	}()

	return nil
}

func (sio *SerialIO) connect() error {
	sio.mu.Lock()
	if sio.connected {
		sio.mu.Unlock()
		return errors.New("already connected")
	}

	settings := sio.sc.config.Values().Serial
	sio.connOptions = serial.OpenOptions{
		PortName:              settings.Port,
		BaudRate:              uint(settings.BaudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       0,
		InterCharacterTimeout: serialInterCharacterTimeout,
	}
	options := sio.connOptions
	sio.mu.Unlock()

	sio.logger.Debugw("Attempting serial connection", "port", options.PortName, "baud", options.BaudRate)

	conn, err := serial.Open(options)
	if err != nil {
		errMsg := strings.ToLower(err.Error())

		if strings.Contains(errMsg, "access is denied") || strings.Contains(errMsg, "permission denied") {
			sio.logger.Errorw("Serial port access denied, port may be in use by another application",
				"port", options.PortName, "error", err)
			return fmt.Errorf("serial port %s is busy: %w", options.PortName, os.ErrPermission)
		}

		if strings.Contains(errMsg, "no such file") || strings.Contains(errMsg, "cannot find") {
			sio.logger.Errorw("Serial port does not exist, check port name in configuration",
				"port", options.PortName, "error", err)
			return fmt.Errorf("serial port %s does not exist: %w", options.PortName, os.ErrNotExist)
		}

		sio.logger.Errorw("Failed to open serial port", "port", options.PortName, "error", err)
		return fmt.Errorf("open serial port %s: %w", options.PortName, err)
	}

	sio.mu.Lock()
	sio.conn = conn
	sio.connected = true
	sio.mu.Unlock()

	sio.logger.Infow("Connected to serial port", "port", options.PortName)

	return nil
}

func (sio *SerialIO) run() error {
	sio.mu.Lock()
	conn := sio.conn
	sio.mu.Unlock()

	if conn == nil {
		return errors.New("cannot run: connection is nil")
	}

	done := make(chan bool)
	defer close(done)

	lineChannel := sio.readLine(bufio.NewReader(conn), done)

	for {
		select {
		case <-sio.stopChannel:
			return errSerialStopped

		case line, ok := <-lineChannel:
			if !ok {
				return errors.New("serial connection lost")
			}

			sio.handleLine(conn, line)
		}
	}
}

// Stop shuts the serial connection down, if one is active
func (sio *SerialIO) Stop() {
	sio.mu.Lock()
	running := sio.running
	sio.mu.Unlock()

	if !running {
		sio.logger.Debug("Not currently running, nothing to stop")
		return
	}

	sio.logger.Debug("Shutting down serial connection")

	select {
	case sio.stopChannel <- true:
	case <-time.After(serialRetryDelay * 2):
		sio.logger.Warn("Serial loop did not acknowledge stop")
	}
}

// WaitForStop waits for the connection to be fully stopped
func (sio *SerialIO) WaitForStop(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		sio.mu.Lock()
		stopped := !sio.connected && !sio.running
		sio.mu.Unlock()

		if stopped {
			return true
		}

		time.Sleep(10 * time.Millisecond)
	}

	return false
}

// CurrentPort returns the port and baud rate in use, or an empty string when not running
func (sio *SerialIO) CurrentPort() (string, uint) {
	sio.mu.Lock()
	defer sio.mu.Unlock()

	if !sio.running {
		return "", 0
	}

	return sio.connOptions.PortName, sio.connOptions.BaudRate
}

func (sio *SerialIO) close() {
	sio.mu.Lock()
	conn := sio.conn
	portName := sio.connOptions.PortName
	sio.conn = nil
	sio.connected = false
	sio.mu.Unlock()

	if conn == nil {
		return
	}

	if err := conn.Close(); err != nil {
		sio.logger.Warnw("Failed to close serial connection", "port", portName, "error", err)
	} else {
		sio.logger.Infow("Serial connection closed", "port", portName)
	}
}

func (sio *SerialIO) readLine(reader *bufio.Reader, done chan bool) chan string {
	ch := make(chan string)

	go func() {
		defer close(ch)

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					sio.logger.Infow("Serial read error, connection may be lost", "error", err)
				} else if sio.sc.Verbose() {
					sio.logger.Debugw("Serial read EOF", "error", err)
				}

				return
			}

			if sio.sc.Verbose() {
				sio.logger.Debugw("Read new line", "line", line)
			}

			select {
			case ch <- line:
			case <-done:
				return
			}
		}
	}()

	return ch
}

func (sio *SerialIO) handleLine(w io.Writer, line string) {
	command := strings.TrimSpace(stripANSI(line))
	if command == "" {
		return
	}

	if err := writeReplyLine(w, sio.sc.commands.execute(sourceSerial, command)); err != nil {
		sio.logger.Warnw("Failed to write reply", "error", err)
	}
}

// writeReplyLine encodes one command outcome as a single JSON line
func writeReplyLine(w io.Writer, outcome commandOutcome) error {
	_, body := replyBody(outcome.reply, outcome.err)

	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}

	if _, err := w.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}

	return nil
}
