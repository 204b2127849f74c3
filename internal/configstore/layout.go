package configstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/thatsimonsguy/tank-controller/internal/model"
)

// Persisted image layout. Offsets are fixed so images written by older
// builds stay readable.
const (
	ImageSize = 512

	wifiSSIDAddr    = 0
	wifiPassAddr    = 64
	sensorDelayAddr = 128
	sensorDelayB    = 132
	stringFieldSize = 64
)

const (
	MaxSSIDLen     = 32
	MaxPasswordLen = 63
	MinPollDelay   = 100 * time.Millisecond
	MaxPollDelay   = 60 * time.Second
)

var ErrInvalidConfig = errors.New("invalid config")

// Validate checks every field against what the image can hold and what the
// acquisition tasks accept.
func Validate(c model.SystemConfig) error {
	var errs []error
	if err := validString("wifi ssid", c.WifiSSID, MaxSSIDLen); err != nil {
		errs = append(errs, err)
	}
	if err := validString("wifi password", c.WifiPassword, MaxPasswordLen); err != nil {
		errs = append(errs, err)
	}
	for _, d := range []struct {
		name  string
		delay time.Duration
	}{{"sensor poll delay a", c.SensorPollDelayA}, {"sensor poll delay b", c.SensorPollDelayB}} {
		if d.delay < MinPollDelay || d.delay > MaxPollDelay || d.delay%time.Millisecond != 0 {
			errs = append(errs, fmt.Errorf("%w: %s %s outside [%s, %s] or not whole milliseconds", ErrInvalidConfig, d.name, d.delay, MinPollDelay, MaxPollDelay))
		}
	}
	return errors.Join(errs...)
}

// PollDelayFromMillis converts a client supplied millisecond count. The
// bounds are checked before the conversion so large values cannot wrap into
// the accepted range.
func PollDelayFromMillis(ms int64) (time.Duration, error) {
	if ms < MinPollDelay.Milliseconds() || ms > MaxPollDelay.Milliseconds() {
		return 0, fmt.Errorf("%w: poll delay %dms outside [%d, %d]", ErrInvalidConfig, ms, MinPollDelay.Milliseconds(), MaxPollDelay.Milliseconds())
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func validString(name, s string, max int) error {
	if len(s) > max {
		return fmt.Errorf("%w: %s is %d bytes, max %d", ErrInvalidConfig, name, len(s), max)
	}
	if !utf8.ValidString(s) || bytes.IndexByte([]byte(s), 0) >= 0 {
		return fmt.Errorf("%w: %s is not valid text", ErrInvalidConfig, name)
	}
	return nil
}

// Encode validates c and lays it out in a fresh image. Unused bytes keep
// the erased value 0xFF.
func Encode(c model.SystemConfig) ([]byte, error) {
	if err := Validate(c); err != nil {
		return nil, err
	}

	image := bytes.Repeat([]byte{0xFF}, ImageSize)
	putString(image[wifiSSIDAddr:wifiSSIDAddr+stringFieldSize], c.WifiSSID)
	putString(image[wifiPassAddr:wifiPassAddr+stringFieldSize], c.WifiPassword)
	binary.LittleEndian.PutUint32(image[sensorDelayAddr:], uint32(c.SensorPollDelayA/time.Millisecond))
	binary.LittleEndian.PutUint32(image[sensorDelayB:], uint32(c.SensorPollDelayB/time.Millisecond))
	return image, nil
}

func putString(field []byte, s string) {
	n := copy(field, s)
	for i := n; i < len(field); i++ {
		field[i] = 0
	}
}

// Decode reads an image field by field. A field that does not validate is
// replaced by its default and named in the returned list.
func Decode(image []byte, defaults model.SystemConfig) (model.SystemConfig, []string) {
	if len(image) != ImageSize {
		return defaults, []string{"image"}
	}

	out := defaults
	var fellBack []string

	if s, ok := getString(image[wifiSSIDAddr:wifiSSIDAddr+stringFieldSize], MaxSSIDLen); ok {
		out.WifiSSID = s
	} else {
		fellBack = append(fellBack, "wifi_ssid")
	}
	if s, ok := getString(image[wifiPassAddr:wifiPassAddr+stringFieldSize], MaxPasswordLen); ok {
		out.WifiPassword = s
	} else {
		fellBack = append(fellBack, "wifi_password")
	}
	if d, ok := getDelay(image[sensorDelayAddr:]); ok {
		out.SensorPollDelayA = d
	} else {
		fellBack = append(fellBack, "sensor_poll_delay_a")
	}
	if d, ok := getDelay(image[sensorDelayB:]); ok {
		out.SensorPollDelayB = d
	} else {
		fellBack = append(fellBack, "sensor_poll_delay_b")
	}
	return out, fellBack
}

func getString(field []byte, max int) (string, bool) {
	end := bytes.IndexByte(field, 0)
	if end < 0 || end > max {
		return "", false
	}
	if !utf8.Valid(field[:end]) {
		return "", false
	}
	return string(field[:end]), true
}

func getDelay(b []byte) (time.Duration, bool) {
	d := time.Duration(binary.LittleEndian.Uint32(b)) * time.Millisecond
	if d < MinPollDelay || d > MaxPollDelay {
		return 0, false
	}
	return d, true
}
