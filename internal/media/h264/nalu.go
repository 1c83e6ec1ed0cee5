package h264

// NAL unit types used by the capture layer. See ITU-T H.264 Table 7-1.
const (
	TypeSlice    = 1
	TypeIDRSlice = 5
	TypeSEI      = 6
	TypeSPS      = 7
	TypePPS      = 8
)

type NALU []byte

func (nalu NALU) ForbiddenBit() byte {
	return nalu[0] & 0x80 >> 7
}

func (nalu NALU) NRI() byte {
	return nalu[0] & 0x60 >> 5
}

func (nalu NALU) Type() byte {
	return nalu[0] & 0x1f
}

// IsSlice reports whether the unit carries picture data, i.e. ends a frame
// in a stream with one slice per picture.
func (nalu NALU) IsSlice() bool {
	if len(nalu) == 0 {
		return false
	}
	t := nalu.Type()
	return t == TypeSlice || t == TypeIDRSlice
}
