// Package jpeg2k implements the entropy-coding core of a JPEG 2000 (Part-1)
// codec: the Tier-1 bit-plane coder (ITU-T T.800 Annex D), the tag-trees used
// for inclusion and zero bit-plane signalling (B.10.2) and the
// component / resolution level / subband / precinct / codeblock hierarchy
// (B.5-B.7) that organises wavelet coefficients for coding.
//
// Marker syntax, packet headers and rate control live above this package and
// consume it through Codeblock pass tables and Precinct tag-trees.
package jpeg2k

import (
	"errors"
	"runtime"
)

// Common errors
var (
	ErrConfiguration    = errors.New("invalid coding configuration")
	ErrCapacityExceeded = errors.New("codeblock capacity exceeded")
	ErrConsistency      = errors.New("inconsistent codeblock data")
	ErrUnsupported      = errors.New("unsupported codec feature")
)

// Policy limits for a single codeblock. They bound memory, they are not
// mandated by the codestream syntax.
const (
	DefaultMaxCodedBytes = 8192
	DefaultMaxPasses     = 100
)

// Options configures tile coding
type Options struct {
	Workers       int // Codeblock workers (0 = GOMAXPROCS)
	MaxCodedBytes int // Per-codeblock coded data limit (0 = DefaultMaxCodedBytes)
	MaxPasses     int // Per-codeblock coding pass limit (0 = DefaultMaxPasses)
}

// DefaultOptions returns default tile coding options
func DefaultOptions() *Options {
	return &Options{
		Workers:       runtime.GOMAXPROCS(0),
		MaxCodedBytes: DefaultMaxCodedBytes,
		MaxPasses:     DefaultMaxPasses,
	}
}

func (o *Options) workers(jobs int) int {
	n := o.Workers
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	if n > jobs {
		n = jobs
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (o *Options) t1Options() []T1Option {
	var opts []T1Option
	if o.MaxCodedBytes > 0 {
		opts = append(opts, WithMaxCodedBytes(o.MaxCodedBytes))
	}
	if o.MaxPasses > 0 {
		opts = append(opts, WithMaxPasses(o.MaxPasses))
	}
	return opts
}

// CeilDiv returns ceil(a / b) for b > 0.
func CeilDiv(a, b int) int {
	return floorDiv(a+b-1, b)
}

// CeilDivPow2 returns ceil(a / 2^b).
func CeilDivPow2(a, b int) int {
	return (a + (1 << b) - 1) >> b
}

// floorDiv rounds towards negative infinity.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
