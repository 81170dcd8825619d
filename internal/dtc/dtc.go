// Package dtc holds the diagnostic trouble code model: the two-byte
// code itself, the mutable set of active codes and the background
// generator that simulates faults coming and going.
package dtc

import "fmt"

// Code is a 2-byte OBD-II powertrain trouble code.
type Code struct {
	High byte
	Low  byte
}

// String renders the code in its textual P-code form, e.g. "P0301".
func (c Code) String() string {
	return fmt.Sprintf("P%02X%02X", c.High, c.Low)
}

// IsZero reports whether the code is the all-zero pair, which on the
// wire means "no code" and must never appear as an active code.
func (c Code) IsZero() bool {
	return c.High == 0 && c.Low == 0
}

// Pool is the fixed set of powertrain codes the generator draws from.
var Pool = []Code{
	{0x01, 0x33}, // P0133
	{0x01, 0x71}, // P0171
	{0x01, 0x74}, // P0174
	{0x03, 0x00}, // P0300
	{0x03, 0x01}, // P0301
	{0x04, 0x20}, // P0420
	{0x04, 0x40}, // P0440
	{0x05, 0x62}, // P0562
}

var descriptions = map[string]string{
	"P0133": "O2 Sensor Circuit Slow Response",
	"P0171": "System Too Lean (Bank 1)",
	"P0174": "System Too Lean (Bank 2)",
	"P0300": "Random/Multiple Cylinder Misfire",
	"P0301": "Cylinder 1 Misfire Detected",
	"P0420": "Catalyst System Efficiency Below Threshold",
	"P0440": "EVAP System Malfunction",
	"P0562": "System Voltage Low",
}

// Describe returns a human-readable description of a textual P-code.
func Describe(code string) string {
	if d, ok := descriptions[code]; ok {
		return d
	}
	return "Unknown DTC"
}
