package ecu

import (
	"log"
	"math/rand"

	"github.com/shaunagostinho/autopulse/internal/can"
)

// Parameter IDs supported by service 0x01.
const (
	PIDSupported     = 0x00
	PIDEngineLoad    = 0x04
	PIDCoolantTemp   = 0x05
	PIDManifoldPress = 0x0B
	PIDEngineRPM     = 0x0C
	PIDVehicleSpeed  = 0x0D
	PIDIntakeTemp    = 0x0F
	PIDMAFRate       = 0x10
	PIDThrottle      = 0x11
	PIDBaroPressure  = 0x33
)

// serviceCurrentData answers a service 0x01 request. The bool is false
// for an unsupported PID, in which case no response goes out and the
// caller sees a timeout.
func (d *Dispatcher) serviceCurrentData(pid byte) (can.Frame, bool) {
	switch pid {
	case PIDSupported:
		return pidResponse(pid, 0xBF, 0xDF, 0xB9, 0x91), true
	case PIDEngineLoad:
		return pidResponse(pid, 0x20), true
	case PIDCoolantTemp:
		// raw = degrees C + 40, engine warm between 88 and 95 C
		return pidResponse(pid, randByte(88+40, 95+40)), true
	case PIDManifoldPress:
		return pidResponse(pid, randByte(10, 40)), true
	case PIDEngineRPM:
		// decoded RPM = ((A*256)+B)/4
		return pidResponse(pid, randByte(18, 70), randByte(0, 255)), true
	case PIDVehicleSpeed:
		return pidResponse(pid, randByte(40, 60)), true
	case PIDIntakeTemp:
		return pidResponse(pid, randByte(60, 64)), true
	case PIDMAFRate:
		return pidResponse(pid, 0x00, 0xFA), true
	case PIDThrottle:
		return pidResponse(pid, randByte(20, 60)), true
	case PIDBaroPressure:
		return pidResponse(pid, randByte(20, 60)), true
	default:
		log.Printf("[ecu] service 01, unknown PID 0x%02X", pid)
		return can.Frame{}, false
	}
}

// pidResponse builds a service 0x01 positive response: byte 0 counts the
// meaningful bytes that follow, byte 1 is 0x41, byte 2 echoes the PID.
func pidResponse(pid byte, reading ...byte) can.Frame {
	payload := make([]byte, 0, 8)
	payload = append(payload, byte(2+len(reading)), respCurrentData, pid)
	payload = append(payload, reading...)
	return can.New(can.ResponseID, payload)
}

// randByte returns a uniform byte in [lo, hi].
func randByte(lo, hi int) byte {
	return byte(lo + rand.Intn(hi-lo+1))
}
