package sensor

import "github.com/thatsimonsguy/tank-controller/internal/model"

const (
	frameHeader = 0xFF
	frameLen    = 4
)

// Limits bounds an accepted distance reading in millimetres.
type Limits struct {
	Min int
	Max int
}

// EncodeFrame builds the 4 byte response a sensor sends for distance mm.
func EncodeFrame(mm int) []byte {
	h := byte(mm >> 8)
	l := byte(mm)
	return []byte{frameHeader, h, l, byte(frameHeader + int(h) + int(l))}
}

// DecodeFrame validates a complete frame and classifies the distance it carries.
func DecodeFrame(frame []byte, limits Limits) (int, model.SensorStatus) {
	if len(frame) != frameLen || frame[0] != frameHeader {
		return 0, model.SensorInvalid
	}
	sum := byte(int(frame[0]) + int(frame[1]) + int(frame[2]))
	if sum != frame[3] {
		return 0, model.SensorInvalid
	}

	mm := int(frame[1])<<8 | int(frame[2])
	if mm < limits.Min || mm > limits.Max {
		return mm, model.SensorOutOfRange
	}
	return mm, model.SensorValid
}

// resync drops any bytes received before the first frame header.
func resync(buf []byte) []byte {
	for i, b := range buf {
		if b == frameHeader {
			return buf[i:]
		}
	}
	return buf[:0]
}
