package mixer

import (
	"errors"
	"sync"

	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

// Options configure a Mixer
type Options struct {
	// IconLoader extracts icons; nil disables icons entirely
	IconLoader IconLoader

	// Drives searched for executables, DefaultDrives if empty
	Drives []string

	// SpeakerClasses restricts listed speakers to these driver classes, all if empty
	SpeakerClasses []string
}

// Reply is the outcome of one command
type Reply struct {
	Command  Command
	Snapshot *Snapshot
	Icon     Icon
}

// Payload is what gets serialized back to the caller: the icon for getIcon,
// the snapshot for everything else
func (r Reply) Payload() interface{} {
	if r.Command.Op == OpGetIcon {
		return r.Icon
	}

	return r.Snapshot
}

// Mixer owns the latest snapshot. Commands, together with the refresh they
// trigger, run one at a time; readers only ever see complete snapshots
type Mixer struct {
	logger     *zap.SugaredLogger
	provider   Provider
	dispatcher *Dispatcher

	// builder and icons are replaced by Reconfigure
	builder      *SnapshotBuilder
	icons        *IconLocator
	optionsMutex sync.RWMutex

	lock    sync.Locker
	current *Snapshot

	consumers      []chan Snapshot
	consumersMutex sync.Mutex
}

// New creates a Mixer on top of a Provider
func New(logger *zap.SugaredLogger, provider Provider, options Options) *Mixer {
	logger = logger.Named("mixer")

	m := &Mixer{
		logger:     logger,
		provider:   provider,
		dispatcher: NewDispatcher(logger, provider),
		lock:       &sync.Mutex{},
	}
	m.builder, m.icons = m.components(options)

	logger.Debug("Created mixer instance")

	return m
}

// Reconfigure replaces the icon and speaker settings. They apply from the next refresh on
func (m *Mixer) Reconfigure(options Options) {
	builder, icons := m.components(options)

	m.optionsMutex.Lock()
	m.builder, m.icons = builder, icons
	m.optionsMutex.Unlock()

	m.logger.Debugw("Applied new mixer options",
		"icons", options.IconLoader != nil,
		"drives", options.Drives,
		"speakerClasses", options.SpeakerClasses)
}

func (m *Mixer) components(options Options) (*SnapshotBuilder, *IconLocator) {
	var icons *IconLocator
	if options.IconLoader != nil {
		icons = NewIconLocator(m.logger, options.IconLoader, options.Drives)
	}

	resolver := NewResolver(m.logger, m.provider, icons)

	return NewSnapshotBuilder(m.logger, m.provider, resolver, options.SpeakerClasses), icons
}

// Execute parses and runs one request line
func (m *Mixer) Execute(line string) (Reply, error) {
	cmd, err := ParseCommand(line)
	if err != nil {
		m.logger.Debugw("Rejected command", "line", line, "error", err)
		return Reply{}, err
	}

	return m.Run(cmd)
}

// Run applies a command and, unless it is getIcon, refreshes and returns the new
// snapshot. A partially applied default-device switch still refreshes, so the
// reply carries both the snapshot and a *PartialMutationError
func (m *Mixer) Run(cmd Command) (Reply, error) {
	reply := Reply{Command: cmd}

	if cmd.Op == OpGetIcon {
		m.optionsMutex.RLock()
		icons := m.icons
		m.optionsMutex.RUnlock()

		if icons != nil {
			reply.Icon = icons.Lookup(cmd.Path)
		}

		return reply, nil
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	err := m.dispatcher.Apply(cmd)

	var partial *PartialMutationError
	if err != nil && !errors.As(err, &partial) {
		m.logger.Warnw("Command failed", "command", cmd, "error", err)
		return reply, err
	}

	snapshot := m.refresh()
	reply.Snapshot = &snapshot

	return reply, err
}

// Refresh rebuilds the snapshot without changing anything
func (m *Mixer) Refresh() Snapshot {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.refresh()
}

// Current returns the latest snapshot, building the first one if needed
func (m *Mixer) Current() Snapshot {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.current == nil {
		return m.refresh()
	}

	return m.current.Clone()
}

// assumes the lock is held. The stored snapshot never leaves the Mixer, callers
// and subscribers each get their own copy
func (m *Mixer) refresh() Snapshot {
	m.optionsMutex.RLock()
	builder := m.builder
	m.optionsMutex.RUnlock()

	snapshot := builder.Build()
	m.current = &snapshot

	m.publish(snapshot)

	return snapshot.Clone()
}

// SubscribeToSnapshots returns a channel receiving every new snapshot. The channel
// holds at most one pending snapshot; a slow reader only sees the newest one
func (m *Mixer) SubscribeToSnapshots() chan Snapshot {
	ch := make(chan Snapshot, 1)

	m.consumersMutex.Lock()
	m.consumers = append(m.consumers, ch)
	m.consumersMutex.Unlock()

	return ch
}

// Subscribers returns the number of open snapshot channels
func (m *Mixer) Subscribers() int {
	m.consumersMutex.Lock()
	defer m.consumersMutex.Unlock()

	return len(m.consumers)
}

// Unsubscribe closes and forgets a channel returned by SubscribeToSnapshots
func (m *Mixer) Unsubscribe(ch chan Snapshot) {
	m.consumersMutex.Lock()
	defer m.consumersMutex.Unlock()

	idx := funk.IndexOf(m.consumers, ch)
	if idx < 0 {
		return
	}

	m.consumers = append(m.consumers[:idx], m.consumers[idx+1:]...)
	close(ch)
}

// Close closes all subscriber channels
func (m *Mixer) Close() {
	m.consumersMutex.Lock()
	defer m.consumersMutex.Unlock()

	for _, ch := range m.consumers {
		close(ch)
	}
	m.consumers = nil

	m.logger.Debug("Closed all snapshot channels")
}

func (m *Mixer) publish(snapshot Snapshot) {
	m.consumersMutex.Lock()
	defer m.consumersMutex.Unlock()

	for _, ch := range m.consumers {
		clone := snapshot.Clone()

		select {
		case ch <- clone:
			continue
		default:
		}

		// drop the stale snapshot and retry once
		select {
		case <-ch:
		default:
		}

		select {
		case ch <- clone:
		default:
		}
	}
}
