package obd

import "time"

// Snapshot is one dashboard poll across all live-data parameters. Nil
// fields mean the ECU did not answer that query in time.
type Snapshot struct {
	Stamp    time.Time `json:"stamp"`
	RPM      *float64  `json:"rpm,omitempty"`
	Speed    *int      `json:"speed,omitempty"`
	Coolant  *int      `json:"coolant,omitempty"`
	Intake   *int      `json:"intake,omitempty"`
	Throttle *float64  `json:"throttle,omitempty"`
	Load     *float64  `json:"load,omitempty"`
	Manifold *int      `json:"manifold,omitempty"`
	Baro     *int      `json:"baro,omitempty"`
	MAF      *float64  `json:"maf,omitempty"`
}

// Empty reports whether no parameter was answered at all, which usually
// means the simulator is not running.
func (s *Snapshot) Empty() bool {
	return s.RPM == nil && s.Speed == nil && s.Coolant == nil &&
		s.Intake == nil && s.Throttle == nil && s.Load == nil
}

// Poll queries the core dashboard parameters in sequence.
func (r *Reader) Poll() *Snapshot {
	s := &Snapshot{Stamp: time.Now()}
	if v, ok := r.RPM(); ok {
		s.RPM = &v
	}
	if v, ok := r.Speed(); ok {
		s.Speed = &v
	}
	if v, ok := r.CoolantTemp(); ok {
		s.Coolant = &v
	}
	if v, ok := r.IntakeTemp(); ok {
		s.Intake = &v
	}
	if v, ok := r.Throttle(); ok {
		s.Throttle = &v
	}
	if v, ok := r.EngineLoad(); ok {
		s.Load = &v
	}
	return s
}

// PollFull additionally queries the pressure and air-flow parameters,
// used by the CSV session log.
func (r *Reader) PollFull() *Snapshot {
	s := r.Poll()
	if v, ok := r.ManifoldPressure(); ok {
		s.Manifold = &v
	}
	if v, ok := r.BaroPressure(); ok {
		s.Baro = &v
	}
	if v, ok := r.MAFRate(); ok {
		s.MAF = &v
	}
	return s
}
