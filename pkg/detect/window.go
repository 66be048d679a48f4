package detect

import (
	"fmt"
	"math"
	"math/big"
	"time"
)

// windowKey identifies one (source IP, fixed window) aggregation cell.
type windowKey struct {
	src   string
	start time.Time
}

// maxNanoSeconds bounds the Unix seconds whose nanosecond count fits an int64.
const maxNanoSeconds = math.MaxInt64/int64(time.Second) - 1

// bucketStart returns the start of the fixed window containing t. Windows are
// aligned to the Unix epoch, so pre-epoch times land in the right window too.
// Times whose nanosecond count overflows an int64 fall back to big.Int.
func bucketStart(t time.Time, window time.Duration) time.Time {
	sec, nsec, w := t.Unix(), int64(t.Nanosecond()), int64(window)

	var rem int64
	if sec > -maxNanoSeconds && sec < maxNanoSeconds {
		rem = (sec*int64(time.Second) + nsec) % w
		if rem < 0 {
			rem += w
		}
	} else {
		n := new(big.Int).Mul(big.NewInt(sec), big.NewInt(int64(time.Second)))
		n.Add(n, big.NewInt(nsec))
		// Mod is Euclidean: the result is never negative.
		rem = n.Mod(n, big.NewInt(w)).Int64()
	}
	return t.Add(-time.Duration(rem)).UTC().Round(0)
}

// windowLabel renders a window the way rule names show it: "2min", "90s".
func windowLabel(window time.Duration) string {
	switch {
	case window%time.Minute == 0:
		return fmt.Sprintf("%dmin", int64(window/time.Minute))
	case window%time.Second == 0:
		return fmt.Sprintf("%ds", int64(window/time.Second))
	default:
		return window.String()
	}
}
