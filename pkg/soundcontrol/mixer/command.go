package mixer

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CommandDelimiter separates the opcode from its arguments
const CommandDelimiter = ","

// Opcode names one kind of command
type Opcode string

const (
	OpSessionMute       Opcode = "mute"
	OpSessionChange     Opcode = "change"
	OpMasterMute        Opcode = "master,mute"
	OpMasterChange      Opcode = "master,change"
	OpMasterStep        Opcode = "master,step"
	OpGetIcon           Opcode = "getIcon"
	OpChangeAudioDevice Opcode = "changeAudioDevice"
	OpRefresh           Opcode = "refresh"
)

var (
	// ErrMalformedCommand is returned for wrong argument counts and unparseable arguments
	ErrMalformedCommand = errors.New("malformed command")

	// ErrUnknownOpcode is returned for commands no opcode matches
	ErrUnknownOpcode = errors.New("unknown opcode")
)

// Command is one parsed request line
type Command struct {
	Op Opcode

	PID        uint32
	Level      int
	Step       int
	Path       string
	EndpointID string
}

func (c Command) String() string {
	switch c.Op {
	case OpSessionMute:
		return fmt.Sprintf("<%s pid %d>", c.Op, c.PID)
	case OpSessionChange:
		return fmt.Sprintf("<%s pid %d to %d>", c.Op, c.PID, c.Level)
	case OpMasterChange:
		return fmt.Sprintf("<%s to %d>", c.Op, c.Level)
	case OpMasterStep:
		return fmt.Sprintf("<%s by %d>", c.Op, c.Step)
	case OpGetIcon:
		return fmt.Sprintf("<%s %s>", c.Op, c.Path)
	case OpChangeAudioDevice:
		return fmt.Sprintf("<%s %s>", c.Op, c.EndpointID)
	default:
		return fmt.Sprintf("<%s>", c.Op)
	}
}

// Mutates reports whether the command changes mixer state
func (c Command) Mutates() bool {
	return c.Op != OpGetIcon && c.Op != OpRefresh
}

// ParseCommand parses a request line of the form opcode[,arg]*.
// Surrounding whitespace is ignored. getIcon takes everything after the first
// delimiter as its path, so paths containing the delimiter survive
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, fmt.Errorf("%w: empty command", ErrMalformedCommand)
	}

	opcode, rest, _ := strings.Cut(line, CommandDelimiter)
	if Opcode(strings.TrimSpace(opcode)) == OpGetIcon {
		rest = strings.TrimSpace(rest)
		if rest == "" {
			return Command{}, fmt.Errorf("%w: %s needs a path", ErrMalformedCommand, OpGetIcon)
		}

		return Command{Op: OpGetIcon, Path: rest}, nil
	}

	fields := strings.Split(line, CommandDelimiter)
	for idx := range fields {
		fields[idx] = strings.TrimSpace(fields[idx])
	}

	switch Opcode(fields[0]) {
	case OpSessionMute:
		if err := expectArgs(fields, 1); err != nil {
			return Command{}, err
		}

		pid, err := parsePID(fields[1])
		if err != nil {
			return Command{}, err
		}

		return Command{Op: OpSessionMute, PID: pid}, nil

	case OpSessionChange:
		if err := expectArgs(fields, 2); err != nil {
			return Command{}, err
		}

		pid, err := parsePID(fields[1])
		if err != nil {
			return Command{}, err
		}

		level, err := parseLevel(fields[2])
		if err != nil {
			return Command{}, err
		}

		return Command{Op: OpSessionChange, PID: pid, Level: level}, nil

	case "master":
		return parseMasterCommand(fields)

	case OpChangeAudioDevice:
		if err := expectArgs(fields, 1); err != nil {
			return Command{}, err
		}

		// endpoint ids never contain the delimiter, take the raw remainder anyway
		id := strings.TrimSpace(rest)
		if id == "" {
			return Command{}, fmt.Errorf("%w: empty endpoint id", ErrMalformedCommand)
		}

		return Command{Op: OpChangeAudioDevice, EndpointID: id}, nil

	case OpRefresh:
		if err := expectArgs(fields, 0); err != nil {
			return Command{}, err
		}

		return Command{Op: OpRefresh}, nil

	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownOpcode, fields[0])
	}
}

func parseMasterCommand(fields []string) (Command, error) {
	if len(fields) < 2 {
		return Command{}, fmt.Errorf("%w: master needs a sub-command", ErrMalformedCommand)
	}

	sub := fields[1:]

	switch Opcode("master" + CommandDelimiter + sub[0]) {
	case OpMasterMute:
		if err := expectArgs(sub, 0); err != nil {
			return Command{}, err
		}

		return Command{Op: OpMasterMute}, nil

	case OpMasterChange:
		if err := expectArgs(sub, 1); err != nil {
			return Command{}, err
		}

		level, err := parseLevel(sub[1])
		if err != nil {
			return Command{}, err
		}

		return Command{Op: OpMasterChange, Level: level}, nil

	case OpMasterStep:
		if err := expectArgs(sub, 1); err != nil {
			return Command{}, err
		}

		step, err := parseLevel(sub[1])
		if err != nil {
			return Command{}, err
		}

		return Command{Op: OpMasterStep, Step: step}, nil

	default:
		return Command{}, fmt.Errorf("%w: \"master%s%s\"", ErrUnknownOpcode, CommandDelimiter, sub[0])
	}
}

func expectArgs(fields []string, count int) error {
	if got := len(fields) - 1; got != count {
		return fmt.Errorf("%w: %s takes %d argument(s), got %d", ErrMalformedCommand, fields[0], count, got)
	}

	return nil
}

func parsePID(raw string) (uint32, error) {
	pid, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid pid %q", ErrMalformedCommand, raw)
	}

	return uint32(pid), nil
}

// levels may carry a fraction ("37.5"), which is rounded
func parseLevel(raw string) (int, error) {
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: invalid level %q", ErrMalformedCommand, raw)
	}

	if value > math.MaxInt32 || value < math.MinInt32 {
		return 0, fmt.Errorf("%w: level %q out of range", ErrMalformedCommand, raw)
	}

	return int(math.Round(value)), nil
}
