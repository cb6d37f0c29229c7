package dvbrx

// Convolutional interleaver, EN 300 421 section 4.4.2: I=12 branches,
// M=17 bytes per delay cell.  Branch j delays by j*17*12 bytes.

const (
	interleaveI = 12
	interleaveM = 17
	// Bytes of history the deinterleaver needs in front of each packet.
	deinterleaveSpan = interleaveM * (interleaveI - 1) * interleaveI
)

type interleaver struct {
	in  *pipebuf[RSPacket]
	out *pipebuf[byte]
}

func newInterleaver(in *pipebuf[RSPacket], out *pipebuf[byte]) *interleaver {
	out.reserve(RSPacketSize)
	return &interleaver{in: in, out: out}
}

// Byte i of each output packet is byte i of the packet 11-(i%12) ahead.
func (il *interleaver) run() {
	for il.in.readable() >= interleaveI && il.out.writable() >= RSPacketSize {
		var pin = il.in.rd()
		var pout = il.out.wr()
		for i := range RSPacketSize {
			pout[i] = pin[interleaveI-1-i%interleaveI][i]
		}
		il.in.read(1)
		il.out.written(RSPacketSize)
	}
}

type deinterleaver struct {
	in  *pipebuf[byte]
	out *pipebuf[RSPacket]
}

func newDeinterleaver(in *pipebuf[byte], out *pipebuf[RSPacket]) *deinterleaver {
	in.reserve(deinterleaveSpan + RSPacketSize)
	return &deinterleaver{in: in, out: out}
}

func (d *deinterleaver) run() {
	for d.in.readable() >= deinterleaveSpan+RSPacketSize && d.out.writable() >= 1 {
		var pin = d.in.rd()
		var pout = &d.out.wr()[0]
		for i := range RSPacketSize {
			var delay = interleaveM * (interleaveI - 1 - i%interleaveI)
			pout[i] = pin[deinterleaveSpan+i-delay*interleaveI]
		}
		d.in.read(RSPacketSize)
		d.out.written(1)
	}
}
