package dvbrx

/*------------------------------------------------------------------
 *
 * Purpose:   	Assemble and drive a complete receiver.
 *
 * Description:	DVB-S:
 *
 *		  IQ -> constellation receiver -> deconvolver or Viterbi
 *		     -> MPEG sync -> deinterleaver -> RS -> derandomizer
 *
 *		DVB-S2:
 *
 *		  IQ -> PL frame receiver -> deinterleaver -> LDPC, BCH
 *		     -> BB deframer
 *
 *		Both end in the transport stream sink.  Everything runs
 *		on the caller's goroutine except optional LDPC workers.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/charmbracelet/log"
)

const (
	readRetries    = 5
	readRetryDelay = 100 * time.Millisecond

	// Samples looked at for the initial carrier estimate.
	estimateSamples = 1 << 16
)

// fecFlusher is the part of the DVB-S2 FEC decoder Run needs at the end.
type fecFlusher interface {
	flush()
	pending() int
}

type Pipeline struct {
	cfg    *Config
	logger *log.Logger
	sch    *scheduler
	iq     *pipebuf[complex64]
	out    *tsOutput

	tune    func(cyclesPerSample float64) // Seeds the carrier loop.
	order   int                           // Modulation symmetry for EstimateCarrier.
	fec     fecFlusher                    // nil for DVB-S.
	pool    *LDPCWorkerPool
	chunk   int
	started bool
}

// tsOutput is the last stage: it hands packets to the sink.
type tsOutput struct {
	in      *pipebuf[TSPacket]
	sink    TSSink
	stats   *TSStats
	metrics *Metrics
	err     error
}

func (o *tsOutput) run() {
	var n = o.in.readable()
	if n == 0 || o.err != nil {
		return
	}
	for i := range o.in.rd() {
		var p = &o.in.rd()[i]
		if o.stats != nil {
			o.stats.Observe(p)
		}
		if err := o.sink.WritePacket(p); err != nil {
			o.err = fmt.Errorf("TS output: %w", err)
			break
		}
	}
	if o.metrics != nil {
		o.metrics.TSPackets(n)
	}
	o.in.read(n)
}

/*------------------------------------------------------------------
 *
 * Name:	NewPipeline
 *
 * Inputs:	cfg	- Validated configuration.
 *		sink	- Receives the transport stream.
 *		gse	- DVB-S2 generic stream payloads, may be nil.
 *		diag	- Diagnostics, may be nil.
 *
 *---------------------------------------------------------------*/

func NewPipeline(cfg *Config, sink TSSink, gse io.Writer, diag Diagnostics) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var logger = cfg.logger()
	var p = &Pipeline{
		cfg:    cfg,
		logger: logger,
		sch:    newScheduler(logger),
		order:  4,
	}
	diag = orNoDiag(diag)
	if cfg.NotchFilters > 0 {
		logger.Warn("notch filters are not implemented, ignoring", "notch_filters", cfg.NotchFilters)
	}
	if cfg.Standard != "dvbs" && cfg.LDPCTableDir == "" {
		logger.Warn("no ldpc_table_dir, built-in LDPC codes only decode frames from dvbtx")
	}

	var omega = cfg.omega()
	var smp, err = newSampler(cfg.Sampler, omega, cfg.Rolloff, cfg.RRCSteps, cfg.RRCRejection)
	if err != nil {
		return nil, err
	}

	var ts *pipebuf[TSPacket]
	switch cfg.Standard {
	case "dvbs":
		if cfg.Viterbi && !cfg.HardMetric {
			ts, err = buildDVBS[LLRSS](p, smp, diag)
		} else {
			ts, err = buildDVBS[HardSS](p, smp, diag)
		}
	default:
		if cfg.SoftLDPC {
			ts, err = buildDVBS2[LLRSS, LLRBit](p, smp, gse, diag)
		} else {
			ts, err = buildDVBS2[HardSS, HardBit](p, smp, gse, diag)
		}
	}
	if err != nil {
		return nil, err
	}

	p.out = &tsOutput{in: ts, sink: sink}
	p.sch.add(p.out)

	if cfg.CenterOffset != nil {
		p.tune(*cfg.CenterOffset / cfg.sampleRate())
	}
	return p, nil
}

// SetStats makes the output stage look at every packet.
func (p *Pipeline) SetStats(s *TSStats)   { p.out.stats = s }
func (p *Pipeline) SetMetrics(m *Metrics) { p.out.metrics = m }

func (p *Pipeline) newIQ(minSamples int) {
	p.chunk = max(4096, int(4096*p.cfg.omega()))
	p.iq = newPipebuf[complex64](p.sch, "iq", max(2*minSamples, 4*p.chunk, estimateSamples))
}

func buildDVBS[S SoftSymbol](p *Pipeline, smp sampler, diag Diagnostics) (*pipebuf[TSPacket], error) {
	var cfg = p.cfg
	var lut, err = cachedCstlnLUT[S](cfg.Constellation, 10, 0, 0, 0, cfg.HardMetric)
	if err != nil {
		return nil, err
	}
	p.order = lut.NSymbols()
	p.newIQ(cstlnChunkSize * 4)

	const nsym = 1 << 16
	var sym = newPipebuf[S](p.sch, "symbols", nsym)
	var raw = newPipebuf[byte](p.sch, "bytes", nsym)
	var aligned = newPipebuf[byte](p.sch, "mpeg", nsym)
	var rs = newPipebuf[RSPacket](p.sch, "rs", nsym/RSPacketSize)
	var ts = newPipebuf[TSPacket](p.sch, "ts", nsym/RSPacketSize)
	var out = newPipebuf[TSPacket](p.sch, "derand", nsym/RSPacketSize)

	var r = newCstlnReceiver(smp, lut, p.iq, sym, diag, p.logger)
	r.setOmega(float32(cfg.omega()), float32(cfg.SRTolerance))
	r.allowDrift = cfg.AllowDrift
	r.measDecimation = uint64(cfg.MeasDecimation)
	p.tune = func(f float64) { r.setFreq(float32(f)) }
	p.sch.add(r)

	var adv syncAdvancer
	if cfg.Viterbi {
		var v, err = newViterbiSync(lut.Cstln, cfg.CodeRate, sym, raw, p.logger)
		if err != nil {
			return nil, err
		}
		p.sch.add(v)
	} else {
		var d, err = newDeconvolSync(cfg.CodeRate, sym, raw, p.logger)
		if err != nil {
			return nil, err
		}
		d.fastlock = cfg.Fastlock
		adv = d
		p.sch.add(d)
	}
	p.sch.add(newMPEGSync(raw, aligned, adv, diag, p.logger))
	p.sch.add(newDeinterleaver(aligned, rs))
	p.sch.add(newRSDecoder(rs, ts, diag, p.logger))
	p.sch.add(newDerandomizer(ts, out, p.logger))
	return out, nil
}

func buildDVBS2[S SoftSymbol, B SoftBit](p *Pipeline, smp sampler, gse io.Writer, diag Diagnostics) (*pipebuf[TSPacket], error) {
	var cfg = p.cfg
	var slots = newPipebuf[PLSlot[S]](p.sch, "slots", 4*(1+maxSlotsPerFrame))
	p.newIQ(int(float64(1+maxSymbolsPerFrame+plhLength)*cfg.omega()*2) + smp.readahead())
	var r, err = newS2FrameReceiver[S](smp, float32(cfg.omega()), p.iq, slots, diag, p.logger)
	if err != nil {
		return nil, err
	}
	r.modcods = cfg.Modcods
	r.framesizes = cfg.Framesizes
	r.fastlock = cfg.Fastlock
	r.fastdrift = cfg.Fastdrift
	r.freqTol = float32(cfg.FreqTolerance)
	r.srTol = float32(cfg.SRTolerance)
	r.allowDrift = cfg.AllowDrift
	r.hardMetric = cfg.HardMetric
	r.matched = cfg.Sampler == "rrc"
	r.measDecimation = cfg.MeasDecimation
	var omega = cfg.omega()
	p.tune = func(f float64) { r.ftune = float32(f * omega) }
	p.sch.add(r)

	var frames = newPipebuf[FECFrame[B]](p.sch, "fecframes", 8)
	p.sch.add(newS2Deinterleaver[S, B](slots, frames))

	var decoder LDPCDecoder
	if cfg.SoftLDPC {
		decoder = &MinSumDecoder{MaxTrials: cfg.LDPCMaxTrials}
	} else {
		decoder = &BitFlipDecoder{Params: cfg.bitflipParams()}
	}
	if cfg.LDPCWorkers > 0 {
		p.pool = NewLDPCWorkerPool(cfg.LDPCWorkers, 2*cfg.LDPCWorkers)
	}
	var bb = newPipebuf[BBFrame](p.sch, "bbframes", 8)
	var fec = newS2FECDecoder(frames, bb, decoder, p.pool, diag, p.logger)
	if cfg.LDPCTableDir != "" {
		fec.codes.ldpc = NewLDPCCodes(cfg.LDPCTableDir)
	}
	p.fec = fec
	p.sch.add(fec)

	var ts = newPipebuf[TSPacket](p.sch, "ts", 8*maxTSPerBBFrame)
	p.sch.add(newS2Deframer(bb, ts, gse, diag, p.logger))
	return ts, nil
}

/*------------------------------------------------------------------
 *
 * Name:	Run
 *
 * Purpose:	Pull samples from src until it ends or ctx is done.
 *
 * Description:	A read error is retried a few times, for inputs such
 *		as pipes from an SDR that hiccup.  At the end of input
 *		the pipeline is drained and frames still with the LDPC
 *		workers are waited for.
 *
 *---------------------------------------------------------------*/

func (p *Pipeline) Run(ctx context.Context, src IQSource) error {
	var retries = 0
	for {
		if err := ctx.Err(); err != nil {
			p.finish()
			return err
		}

		var room = min(p.iq.writable(), IfThenElse(p.started, p.chunk, estimateSamples-p.iq.readable()))
		if room == 0 {
			p.sch.drain()
			if p.iq.writable() == 0 {
				return errors.New("pipeline stalled with a full input buffer")
			}
			continue
		}

		var n, err = src.Read(p.iq.wr()[:room])
		p.iq.written(n)
		if n > 0 {
			retries = 0
			if !p.started && p.iq.readable() >= estimateSamples {
				p.start()
			}
		}
		if n > 0 && p.started {
			p.sch.drain()
			if p.out.err != nil {
				return p.out.err
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			if !p.started && p.iq.readable() > 0 {
				p.start()
			}
			p.finish()
			return p.out.err
		default:
			retries++
			if retries > readRetries {
				p.logger.Error("IQ input failed", "attempts", retries, "err", err)
				p.finish()
				return fmt.Errorf("IQ input: %w", err)
			}
			p.logger.Warn("IQ input, retrying", "err", err, "attempt", retries)
			time.Sleep(readRetryDelay)
		}
	}
}

// start seeds the carrier loop from the first block of samples.
func (p *Pipeline) start() {
	p.started = true
	if p.cfg.CenterOffset != nil {
		return
	}
	var f = EstimateCarrier(p.iq.rd(), p.order)
	p.logger.Info("carrier estimate", "hz", math.Round(f*p.cfg.sampleRate()))
	p.tune(f)
}

func (p *Pipeline) finish() {
	p.sch.drain()
	if p.fec == nil {
		return
	}
	for p.fec.pending() > 0 {
		p.fec.flush()
		p.sch.drain()
	}
	if p.pool != nil {
		_ = p.pool.Wait()
	}
}
