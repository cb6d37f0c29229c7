package dvbrx

/*------------------------------------------------------------------
 *
 * Purpose:   	Transport stream to baseband IQ, for test signals.
 *
 * Description:	DVB-S:
 *
 *		  TS -> randomizer -> RS -> interleaver -> convolutional
 *		     -> labels -> modulator
 *
 *		DVB-S2:
 *
 *		  TS -> BB framer -> BCH, LDPC -> bit interleaver
 *		     -> PL framer -> modulator
 *
 *		The modulator adds pulse shaping, a carrier offset and
 *		noise, so the output can be fed straight to the receiver.
 *
 *---------------------------------------------------------------*/

import (
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/charmbracelet/log"
)

type TxConfig struct {
	Standard      string     `yaml:"standard"`
	Constellation Modulation `yaml:"constellation"` // DVB-S only.
	CodeRate      CodeRate   `yaml:"code_rate"`     // DVB-S only.

	Modcod      uint8 `yaml:"modcod"` // DVB-S2 only, CCM.
	ShortFrames bool  `yaml:"short_frames"`
	Pilots      bool  `yaml:"pilots"`

	Modulator ModulatorConfig `yaml:"modulator"`
}

func DefaultTxConfig() TxConfig {
	return TxConfig{
		Standard:      "dvbs2",
		Constellation: QPSK,
		CodeRate:      FEC12,
		Modcod:        4,
		ShortFrames:   true,
		Pilots:        true,
		Modulator:     ModulatorConfig{SamplesPerSymbol: 2, Rolloff: 0.35, EsN0: math.Inf(1)},
	}
}

// IQWriter takes the transmitter's output.  *IQSink is one.
type IQWriter interface {
	Write(samples []complex64) error
}

type Transmitter struct {
	sch *scheduler
	in  *pipebuf[TSPacket]
	out *pipebuf[complex64]
	w   IQWriter

	samples uint64
}

/*------------------------------------------------------------------
 *
 * Name:	NewTransmitter
 *
 * Inputs:	cfg	- What to send.  For DVB-S2 the BB header roll-off
 *			  follows cfg.Modulator.Rolloff, 0.35 when the
 *			  pulses are rectangular.
 *		w	- Receives the samples.
 *
 *---------------------------------------------------------------*/

func NewTransmitter(cfg TxConfig, w IQWriter, logger *log.Logger) (*Transmitter, error) {
	logger = orDefaultLogger(logger)
	var sps = max(cfg.Modulator.SamplesPerSymbol, 1)
	var t = &Transmitter{sch: newScheduler(logger), w: w}
	var sym *pipebuf[complex64]

	switch cfg.Standard {
	case "dvbs":
		const npkt = 64
		var c, err = NewCstln(cfg.Constellation, 0, 0, 0)
		if err != nil {
			return nil, err
		}
		if c.NSymbols() > 4 {
			return nil, fmt.Errorf("DVB-S with %v: %w", cfg.Constellation, ErrUnsupported)
		}
		var bps = bits.Len(uint(c.NSymbols())) - 1
		t.in = newPipebuf[TSPacket](t.sch, "ts", npkt)
		var rnd = newPipebuf[TSPacket](t.sch, "rand", npkt)
		var rs = newPipebuf[RSPacket](t.sch, "rs", npkt)
		var il = newPipebuf[byte](t.sch, "interleaved", npkt*RSPacketSize)
		var labels = newPipebuf[uint8](t.sch, "labels", npkt*RSPacketSize*16/bps)
		sym = newPipebuf[complex64](t.sch, "symbols", labels.size())
		enc, err := newConvolEncoder(cfg.CodeRate, bps, il, labels)
		if err != nil {
			return nil, err
		}
		t.sch.add(newRandomizer(t.in, rnd, logger))
		t.sch.add(newRSEncoder(rnd, rs))
		t.sch.add(newInterleaver(rs, il))
		t.sch.add(enc)
		t.sch.add(newLabelMapper(c, labels, sym))

	case "dvbs2":
		var pls = PLS{Modcod: cfg.Modcod, SF: cfg.ShortFrames, Pilots: cfg.Pilots}
		var rolloff = IfThenElse(cfg.Modulator.Rolloff > 0, cfg.Modulator.Rolloff, 0.35)
		t.in = newPipebuf[TSPacket](t.sch, "ts", 4*maxTSPerBBFrame)
		var bb = newPipebuf[BBFrame](t.sch, "bbframes", 4)
		var fec = newPipebuf[FECFrame[HardBit]](t.sch, "fecframes", 4)
		var slots = newPipebuf[PLSlot[HardSS]](t.sch, "slots", 2*(1+maxSlotsPerFrame))
		sym = newPipebuf[complex64](t.sch, "symbols", 2*maxSymbolsPerFrame)
		var f, err = newS2Framer(t.in, bb, []PLS{pls}, rolloff, logger)
		if err != nil {
			return nil, err
		}
		t.sch.add(f)
		t.sch.add(newS2FECEncoder(bb, fec, logger))
		t.sch.add(newS2Interleaver(fec, slots))
		t.sch.add(newS2FrameTransmitter(slots, sym, logger))

	default:
		return nil, fmt.Errorf("standard %q: %w", cfg.Standard, ErrUnsupported)
	}

	t.out = newPipebuf[complex64](t.sch, "iq", sps*sym.size())
	t.sch.add(newModulator(cfg.Modulator, sym, t.out))
	logger.Debug("transmitter", "standard", cfg.Standard, "sps", sps)
	return t, nil
}

func (t *Transmitter) WritePacket(p *TSPacket) error {
	t.in.write(*p)
	if t.in.writable() == 0 {
		return t.pump()
	}
	return nil
}

// Close sends what the stages can complete.  A DVB-S2 frame that is not
// full stays unsent.
func (t *Transmitter) Close() error {
	return t.pump()
}

// Samples is the number of samples written so far.
func (t *Transmitter) Samples() uint64 { return t.samples }

func (t *Transmitter) pump() error {
	for {
		t.sch.drain()
		var n = t.out.readable()
		if n == 0 {
			if t.in.writable() == 0 {
				return errors.New("transmitter stalled")
			}
			return nil
		}
		if err := t.w.Write(t.out.rd()); err != nil {
			return fmt.Errorf("IQ output: %w", err)
		}
		t.out.read(n)
		t.samples += uint64(n)
	}
}
