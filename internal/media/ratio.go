package media

import "fmt"

// Ratio is a numerator/denominator pair, e.g. a frame rate of 30000/1001 or a
// sample aspect ratio of 4/3. The zero Ratio is invalid and means "unset".
type Ratio struct {
	Num uint32
	Den uint32
}

func (r Ratio) Valid() bool {
	return r.Num != 0 && r.Den != 0
}

func (r Ratio) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Ratio) String() string {
	if !r.Valid() {
		return "unset"
	}
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}
