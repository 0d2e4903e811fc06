package nnet

import "fmt"

// Schedule returns the multiplier applied to the base learning rate at the given epoch.
type Schedule interface {
	Factor(epoch int) float64
	String() string
}

// LinearSchedule changes the factor linearly from Start to End over the first Iters epochs and
// then holds it at End. With Iters of zero the factor stays at Start.
type LinearSchedule struct {
	Start, End float64
	Iters      int
}

func (s LinearSchedule) Factor(epoch int) float64 {
	if s.Iters <= 0 {
		return s.Start
	}
	if epoch > s.Iters {
		epoch = s.Iters
	}
	if epoch < 0 {
		epoch = 0
	}
	return s.Start + (s.End-s.Start)*float64(epoch)/float64(s.Iters)
}

func (s LinearSchedule) String() string {
	return fmt.Sprintf("linear %g => %g over %d epochs", s.Start, s.End, s.Iters)
}

// ConstantSchedule keeps the learning rate fixed.
type ConstantSchedule struct{}

func (s ConstantSchedule) Factor(epoch int) float64 { return 1 }

func (s ConstantSchedule) String() string { return "constant" }

// NewSchedule returns the learning rate schedule selected in the config. The linear schedule
// decays to EtaDecay times the base rate over DecayEpochs of the total epochs.
func NewSchedule(c Config) Schedule {
	if c.Schedule == "constant" {
		return ConstantSchedule{}
	}
	return LinearSchedule{Start: 1, End: c.EtaDecay, Iters: int(c.DecayEpochs * float64(c.MaxEpoch))}
}
