package dvbrx

import (
	"github.com/charmbracelet/log"
)

// Diagnostics receives the side outputs of the receiver stages: lock state,
// carrier and signal estimates, FEC statistics and constellation samples.
//
// Calls come from the pipeline goroutine and must not block.
type Diagnostics interface {
	LockState(stage string, locked bool)
	LockTime(stage string, packets uint64)
	Frequency(cyclesPerSample float32)
	SignalStrength(rms float32)
	MER(db float32)
	PLErrors(errors, total int)
	// Corrected reports one FEC block.  n < 0 means uncorrectable.
	Corrected(code string, n int)
	Constellation(points []complex64)
}

type noDiag struct{}

func (noDiag) LockState(string, bool)    {}
func (noDiag) LockTime(string, uint64)   {}
func (noDiag) Frequency(float32)         {}
func (noDiag) SignalStrength(float32)    {}
func (noDiag) MER(float32)               {}
func (noDiag) PLErrors(int, int)         {}
func (noDiag) Corrected(string, int)     {}
func (noDiag) Constellation([]complex64) {}

func orNoDiag(d Diagnostics) Diagnostics {
	if d == nil {
		return noDiag{}
	}
	return d
}

func orDefaultLogger(l *log.Logger) *log.Logger {
	if l == nil {
		return log.Default()
	}
	return l
}

type multiDiag []Diagnostics

func newMultiDiag(ds ...Diagnostics) Diagnostics {
	var m multiDiag
	for _, d := range ds {
		if d != nil {
			m = append(m, d)
		}
	}
	switch len(m) {
	case 0:
		return noDiag{}
	case 1:
		return m[0]
	}
	return m
}

func (m multiDiag) LockState(stage string, locked bool) {
	for _, d := range m {
		d.LockState(stage, locked)
	}
}

func (m multiDiag) LockTime(stage string, packets uint64) {
	for _, d := range m {
		d.LockTime(stage, packets)
	}
}

func (m multiDiag) Frequency(f float32) {
	for _, d := range m {
		d.Frequency(f)
	}
}

func (m multiDiag) SignalStrength(rms float32) {
	for _, d := range m {
		d.SignalStrength(rms)
	}
}

func (m multiDiag) MER(db float32) {
	for _, d := range m {
		d.MER(db)
	}
}

func (m multiDiag) PLErrors(errors, total int) {
	for _, d := range m {
		d.PLErrors(errors, total)
	}
}

func (m multiDiag) Corrected(code string, n int) {
	for _, d := range m {
		d.Corrected(code, n)
	}
}

func (m multiDiag) Constellation(points []complex64) {
	for _, d := range m {
		d.Constellation(points)
	}
}

// logDiag reports lock transitions and periodic measurements through the logger.
type logDiag struct {
	logger *log.Logger
	locked map[string]bool
}

func newLogDiag(logger *log.Logger) *logDiag {
	return &logDiag{logger: orDefaultLogger(logger), locked: make(map[string]bool)}
}

func (l *logDiag) LockState(stage string, locked bool) {
	if was, seen := l.locked[stage]; seen && was == locked {
		return
	}
	l.locked[stage] = locked
	if locked {
		l.logger.Info("LOCKED", "stage", stage)
	} else {
		l.logger.Info("UNLOCKED", "stage", stage)
	}
}

func (l *logDiag) LockTime(string, uint64) {}

func (l *logDiag) Frequency(f float32) {
	l.logger.Debug("carrier", "cycles_per_sample", f)
}

func (l *logDiag) SignalStrength(rms float32) {
	l.logger.Debug("signal", "rms", rms)
}

func (l *logDiag) MER(db float32) {
	l.logger.Debug("mer", "db", db)
}

func (l *logDiag) PLErrors(int, int) {}

func (l *logDiag) Corrected(code string, n int) {
	if n < 0 {
		l.logger.Debug("uncorrectable block", "code", code)
	}
}

func (l *logDiag) Constellation([]complex64) {}
