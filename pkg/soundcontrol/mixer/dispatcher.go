package mixer

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
)

// DefaultDeviceRoles is the order in which changeAudioDevice assigns roles
var DefaultDeviceRoles = []Role{RoleMultimedia, RoleCommunications, RoleConsole}

// PartialMutationError reports a default-device switch that stopped after applying
// some, but not all, of its roles. The host is left with the applied roles pointing
// at the new endpoint and the others unchanged
type PartialMutationError struct {
	EndpointID string
	Applied    []Role
	Failed     Role
	Err        error
}

func (e *PartialMutationError) Error() string {
	applied := make([]string, 0, len(e.Applied))
	for _, role := range e.Applied {
		applied = append(applied, role.String())
	}

	return fmt.Sprintf("default endpoint %s partially applied (applied: %s, failed: %s): %v",
		e.EndpointID, strings.Join(applied, ", "), e.Failed, e.Err)
}

func (e *PartialMutationError) Unwrap() error {
	return e.Err
}

// Dispatcher applies exactly one mutation per command through the Provider
type Dispatcher struct {
	logger   *zap.SugaredLogger
	provider Provider
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(logger *zap.SugaredLogger, provider Provider) *Dispatcher {
	return &Dispatcher{
		logger:   logger.Named("dispatcher"),
		provider: provider,
	}
}

// Apply performs the mutation a command describes. Commands that don't mutate
// are accepted and do nothing
func (d *Dispatcher) Apply(cmd Command) error {
	d.logger.Debugw("Applying command", "command", cmd)

	switch cmd.Op {
	case OpSessionMute:
		muted, err := d.provider.SessionMute(cmd.PID)
		if err != nil {
			return fmt.Errorf("get mute of session %d: %w", cmd.PID, err)
		}

		if err := d.provider.SetSessionMute(cmd.PID, !muted); err != nil {
			return fmt.Errorf("set mute of session %d: %w", cmd.PID, err)
		}

	case OpSessionChange:
		if err := d.provider.SetSessionVolume(cmd.PID, cmd.Level); err != nil {
			return fmt.Errorf("set volume of session %d: %w", cmd.PID, err)
		}

	case OpMasterMute:
		muted, err := d.provider.MasterMute()
		if err != nil {
			return fmt.Errorf("get master mute: %w", err)
		}

		if err := d.provider.SetMasterMute(!muted); err != nil {
			return fmt.Errorf("set master mute: %w", err)
		}

	case OpMasterChange:
		if err := d.provider.SetMasterVolume(cmd.Level); err != nil {
			return fmt.Errorf("set master volume: %w", err)
		}

	case OpMasterStep:
		if _, err := d.StepMasterVolume(cmd.Step); err != nil {
			return err
		}

	case OpChangeAudioDevice:
		return d.setDefaultEndpoint(cmd.EndpointID)

	case OpGetIcon, OpRefresh:
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownOpcode, cmd.Op)
	}

	return nil
}

// StepMasterVolume moves the master volume by step percentage points, clamped
// into [0,100], and returns the level written
func (d *Dispatcher) StepMasterVolume(step int) (int, error) {
	current, err := d.provider.MasterVolume()
	if err != nil {
		return 0, fmt.Errorf("get master volume: %w", err)
	}

	level := StepLevel(current, step)
	if err := d.provider.SetMasterVolume(level); err != nil {
		return 0, fmt.Errorf("set master volume: %w", err)
	}

	return level, nil
}

// StepLevel adds step to level on the 0..1 scalar scale, clamps and converts back
func StepLevel(level, step int) int {
	scalar := float64(level)/100 + float64(step)/100
	scalar = math.Max(0, math.Min(1, scalar))

	return int(math.Round(scalar * 100))
}

// assigns each role in order and stops at the first failure, without rolling back
func (d *Dispatcher) setDefaultEndpoint(id string) error {
	applied := make([]Role, 0, len(DefaultDeviceRoles))

	for _, role := range DefaultDeviceRoles {
		if err := d.provider.SetDefaultEndpoint(id, role); err != nil {
			d.logger.Warnw("Failed to set default endpoint", "id", id, "role", role, "applied", applied, "error", err)

			if len(applied) == 0 {
				return fmt.Errorf("set default endpoint %s for role %s: %w", id, role, err)
			}

			return &PartialMutationError{
				EndpointID: id,
				Applied:    applied,
				Failed:     role,
				Err:        err,
			}
		}

		applied = append(applied, role)
	}

	d.logger.Infow("Changed default endpoint", "id", id)

	return nil
}
