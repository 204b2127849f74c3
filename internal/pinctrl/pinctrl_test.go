package pinctrl

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeRun(t *testing.T, out string, err error) *[][]string {
	t.Helper()
	var calls [][]string
	orig := run
	t.Cleanup(func() { run = orig })
	run = func(args ...string) ([]byte, error) {
		calls = append(calls, args)
		return []byte(out), err
	}
	return &calls
}

func TestParseGetAllOutput(t *testing.T) {
	sample := `
 0: ip    pu | hi // ID_SDA/GPIO0 = input
 1: ip    pu | hi // ID_SCL/GPIO1 = input
 2: no    pu | -- // GPIO2 = none
 4: ip    pn | lo // GPIO4 = input
13: op dh pd | hi // GPIO13 = output
25: op dl pn | lo // GPIO25 = output
26: op dl pn | lo // GPIO26 = output
`
	states, err := parseGetOutput(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, states, 7)

	assert.Equal(t, PinState{Pin: 13, Mode: "op", Pull: "pd", Drive: "dh", Level: "hi", Comment: "GPIO13 = output"}, states[13])
	assert.Equal(t, "--", states[2].Level)
	assert.Equal(t, "no", states[2].Mode)
	assert.Equal(t, "dl", states[25].Drive)
}

func TestParseLevelOutput(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"0", false},
		{"1", true},
		{"\n1\n", true},
		{"\n0\n", false},
	}
	for _, tc := range tests {
		result, err := parseLevelOutput(tc.input)
		require.NoError(t, err, tc.input)
		assert.Equal(t, tc.expected, result, tc.input)
	}

	_, err := parseLevelOutput("x")
	assert.Error(t, err)
}

func TestDriveBuildsSetCommand(t *testing.T) {
	calls := fakeRun(t, "", nil)

	require.NoError(t, Drive(25, true))
	require.NoError(t, Drive(26, false))
	require.NoError(t, ConfigureInput(34, "pu"))

	assert.Equal(t, [][]string{
		{"set", "25", "op", "pn", "dh"},
		{"set", "26", "op", "pn", "dl"},
		{"set", "34", "ip", "pu"},
	}, *calls)
}

func TestSetPinWrapsFailure(t *testing.T) {
	fakeRun(t, "permission denied", errors.New("exit status 1"))

	err := SetPin(25, "op")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestReadPin(t *testing.T) {
	fakeRun(t, "25: op dh pn | hi // GPIO25 = output\n", nil)

	ps, err := ReadPin(25)
	require.NoError(t, err)
	assert.Equal(t, "hi", ps.Level)

	_, err = ReadPin(4)
	assert.Error(t, err)
}

func TestReadLevel(t *testing.T) {
	calls := fakeRun(t, "1\n", nil)

	level, err := ReadLevel(34)
	require.NoError(t, err)
	assert.True(t, level)
	assert.Equal(t, []string{"lev", "34"}, (*calls)[0])
}
