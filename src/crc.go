package dvbrx

/*-------------------------------------------------------------
 *
 * Purpose:	CRC-8 protecting the DVB-S2 BBHEADER and each user packet in
 *		a transport-stream BBFRAME, and CRC-32/MPEG-2 used by the
 *		PSI section checks in the TS statistics.
 *
 * Reference:	EN 302 307-1 section 5.1.4, ISO/IEC 13818-1 annex A.
 *
 *--------------------------------------------------------------*/

// g(x) = x^8 + x^7 + x^6 + x^4 + x^2 + 1, MSB first, initial value 0.
const crc8Poly = 0xd5

const crc32MPEGPoly = 0x04c11db7

var crc8Table = func() (t [256]byte) {
	for i := range 256 {
		t[i] = crc8Bitwise([]byte{byte(i)})
	}
	return t
}()

var crc32MPEGTable = func() (t [256]uint32) {
	for i := range 256 {
		var c = uint32(i) << 24
		for range 8 {
			if c&0x80000000 != 0 {
				c = c<<1 ^ crc32MPEGPoly
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

// Reference implementation, one bit at a time.
func crc8Bitwise(data []byte) byte {
	var crc byte
	for _, b := range data {
		for m := byte(0x80); m != 0; m >>= 1 {
			var in = IfThenElse(b&m != 0, byte(1), byte(0))
			var fb = (crc >> 7) ^ in
			crc <<= 1
			if fb != 0 {
				crc ^= crc8Poly
			}
		}
	}
	return crc
}

func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc
}

func crc32MPEG(data []byte) uint32 {
	var crc uint32 = 0xffffffff
	for _, b := range data {
		crc = crc<<8 ^ crc32MPEGTable[byte(crc>>24)^b]
	}
	return crc
}
