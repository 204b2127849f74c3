package pinctrl

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

type PinState struct {
	Pin     int
	Mode    string // e.g., "ip", "op", "no"
	Pull    string // e.g., "pu", "pd", "pn"
	Drive   string // e.g., "dh", "dl", ""
	Level   string // e.g., "hi", "lo", "--"
	Comment string // full comment, typically includes // GPIO#
}

var pinLineRegex = regexp.MustCompile(`^\s*(\d+):\s+(\S+)\s+(.*?)\s+\|\s+(\S+)\s+//\s+(.*GPIO(\d+).*)$`)

// run executes pinctrl and returns its combined output. Replaced in tests.
var run = func(args ...string) ([]byte, error) {
	return exec.Command("pinctrl", args...).CombinedOutput()
}

// ReadAllPins returns the parsed result of `pinctrl get`, mapping each GPIO pin number to its PinState
func ReadAllPins() (map[int]PinState, error) {
	out, err := run("get")
	if err != nil {
		return nil, fmt.Errorf("failed to execute pinctrl get: %w", err)
	}
	return parseGetOutput(strings.NewReader(string(out)))
}

// ReadPin returns the PinState for a specific GPIO pin
func ReadPin(pin int) (*PinState, error) {
	all, err := ReadAllPins()
	if err != nil {
		return nil, err
	}
	state, ok := all[pin]
	if !ok {
		return nil, fmt.Errorf("pin %d not found in pinctrl output", pin)
	}
	return &state, nil
}

// ReadLevel performs a fast read of the logic level of a pin using `pinctrl lev <pin>`
func ReadLevel(pin int) (bool, error) {
	out, err := run("lev", strconv.Itoa(pin))
	if err != nil {
		return false, fmt.Errorf("failed to read level for pin %d: %w", pin, err)
	}
	return parseLevelOutput(string(out))
}

// SetPin applies one or more pinctrl set options to the specified GPIO pin
// Example: SetPin(10, "op", "pn", "dh") sets pin 10 as output, no pull, drive high
func SetPin(pin int, opts ...string) error {
	args := append([]string{"set", strconv.Itoa(pin)}, opts...)
	out, err := run(args...)
	if err != nil {
		return fmt.Errorf("pinctrl set failed: %s (output: %s)", err, string(out))
	}
	return nil
}

// Drive sets pin as a no-pull output at the given electrical level.
func Drive(pin int, high bool) error {
	return SetPin(pin, "op", "pn", DriveArg(high))
}

// ConfigureInput sets pin as an input with the given pull ("pu", "pd" or "pn").
func ConfigureInput(pin int, pull string) error {
	return SetPin(pin, "ip", pull)
}

func DriveArg(high bool) string {
	if high {
		return "dh"
	}
	return "dl"
}

func parseLevelOutput(output string) (bool, error) {
	trimmed := strings.TrimSpace(output)
	switch trimmed {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected output from pinctrl lev: %q", trimmed)
	}
}

func parseGetOutput(r io.Reader) (map[int]PinState, error) {
	result := make(map[int]PinState)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		matches := pinLineRegex.FindStringSubmatch(scanner.Text())
		if len(matches) != 7 {
			continue
		}

		index, _ := strconv.Atoi(matches[1])
		state := PinState{
			Pin:     index,
			Mode:    matches[2],
			Level:   matches[4],
			Comment: matches[5],
		}

		for _, opt := range strings.Fields(matches[3]) {
			if state.Pull == "" && (opt == "pu" || opt == "pd" || opt == "pn") {
				state.Pull = opt
			} else if state.Drive == "" && (opt == "dh" || opt == "dl") {
				state.Drive = opt
			}
		}

		result[state.Pin] = state
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning pinctrl output: %w", err)
	}
	return result, nil
}
