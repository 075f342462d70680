package experiment

// VerticalRange is one channel's vertical offset and scale in volts.
type VerticalRange struct {
	Offset float64
	Scale  float64
}

// DigitizerState is the engine's explicit record of the configuration state
// the instrument mutates through sequential commands.  Mutating helpers
// return a new value, so tests can assert configuration sequences without a
// live instrument.
type DigitizerState struct {
	// Vertical is indexed by channel-1
	Vertical [3]VerticalRange
}

// WithVertical returns a copy of the state with one channel's range replaced.
func (s DigitizerState) WithVertical(channel int, v VerticalRange) DigitizerState {
	s.Vertical[channel-1] = v
	return s
}

// VerticalFor returns the recorded range for a channel.
func (s DigitizerState) VerticalFor(channel int) VerticalRange {
	return s.Vertical[channel-1]
}
