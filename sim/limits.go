package sim

import "fmt"

// ChannelLimits bounds the stimulation parameters accepted for one electrode
// pair.
type ChannelLimits struct {
	Pos          uint8  `mapstructure:"pos"`
	Neg          uint8  `mapstructure:"neg"`
	MaxAmplitude uint64 `mapstructure:"max_amplitude"` // uA
	MinFrequency uint64 `mapstructure:"min_frequency"` // Hz
	MaxFrequency uint64 `mapstructure:"max_frequency"` // Hz
	MaxDuration  uint64 `mapstructure:"max_duration"`  // ms
}

// Pair names the electrode pair as pos_neg.
func (l ChannelLimits) Pair() string {
	return fmt.Sprintf("%d_%d", l.Pos, l.Neg)
}

// DefaultLimits configures pairs 1_2 and 3_4.
func DefaultLimits() []ChannelLimits {
	return []ChannelLimits{
		{Pos: 1, Neg: 2, MaxAmplitude: 1000, MinFrequency: 1, MaxFrequency: 200, MaxDuration: 1000},
		{Pos: 3, Neg: 4, MaxAmplitude: 1000, MinFrequency: 1, MaxFrequency: 200, MaxDuration: 1000},
	}
}

func findLimits(limits []ChannelLimits, pos, neg uint8) (ChannelLimits, error) {
	for _, l := range limits {
		if l.Pos == pos && l.Neg == neg {
			return l, nil
		}
	}
	return ChannelLimits{}, fmt.Errorf("not configured for stim on pair %d_%d", pos, neg)
}
