package h264

// unescapeRBSP removes emulation prevention bytes: every 0x03 following two
// zero bytes. The input is returned unchanged when it contains none.
func unescapeRBSP(data []byte) []byte {
	zeros := 0
	for i, b := range data {
		if zeros >= 2 && b == 0x03 {
			return unescapeFrom(data, i)
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return data
}

func unescapeFrom(data []byte, first int) []byte {
	out := make([]byte, first, len(data))
	copy(out, data[:first])
	zeros := 0
	for _, b := range data[first+1:] {
		if zeros >= 2 && b == 0x03 {
			zeros = 0
			continue
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}
