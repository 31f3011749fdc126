package lineup

import "bytes"

// boolish accepts the flag encodings seen in device lineups: true/false,
// 1/0, and "1"/"0". Firmware versions differ on which one they emit.
type boolish bool

func (b *boolish) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	switch string(data) {
	case "1", "true":
		*b = true
	default:
		*b = false
	}
	return nil
}
