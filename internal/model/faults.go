package model

import "strings"

// FaultSet is a complete fault snapshot. It is a value: each monitor cycle
// builds a new one rather than editing the previous.
type FaultSet uint8

const (
	FaultSensorATimeout FaultSet = 1 << iota
	FaultSensorBTimeout
	FaultSensorAOutOfRange
	FaultSensorBOutOfRange
	FaultRelayOverrun
	FaultCommLost
)

const sensorFaults = FaultSensorATimeout | FaultSensorBTimeout | FaultSensorAOutOfRange | FaultSensorBOutOfRange

var faultNames = []struct {
	fault FaultSet
	name  string
}{
	{FaultSensorATimeout, "sensorATimeout"},
	{FaultSensorBTimeout, "sensorBTimeout"},
	{FaultSensorAOutOfRange, "sensorAOutOfRange"},
	{FaultSensorBOutOfRange, "sensorBOutOfRange"},
	{FaultRelayOverrun, "relayOverrun"},
	{FaultCommLost, "commLost"},
}

func SensorTimeoutFault(id SensorID) FaultSet {
	if id == SensorB {
		return FaultSensorBTimeout
	}
	return FaultSensorATimeout
}

func SensorOutOfRangeFault(id SensorID) FaultSet {
	if id == SensorB {
		return FaultSensorBOutOfRange
	}
	return FaultSensorAOutOfRange
}

// SensorFaults returns every fault attributable to sensor id.
func SensorFaults(id SensorID) FaultSet {
	return SensorTimeoutFault(id) | SensorOutOfRangeFault(id)
}

func (f FaultSet) Has(other FaultSet) bool {
	return f&other != 0
}

func (f FaultSet) Empty() bool {
	return f == 0
}

// Sensor reports the sensor-level faults only.
func (f FaultSet) Sensor() FaultSet {
	return f & sensorFaults
}

// Flags expands the set into named booleans for serialization.
func (f FaultSet) Flags() map[string]bool {
	out := make(map[string]bool, len(faultNames))
	for _, fn := range faultNames {
		out[fn.name] = f.Has(fn.fault)
	}
	return out
}

func (f FaultSet) Names() []string {
	var names []string
	for _, fn := range faultNames {
		if f.Has(fn.fault) {
			names = append(names, fn.name)
		}
	}
	return names
}

func (f FaultSet) String() string {
	if f.Empty() {
		return "none"
	}
	return strings.Join(f.Names(), ",")
}
