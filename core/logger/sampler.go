package logger

import (
	"strconv"
	"strings"
	"sync/atomic"
)

type ratio struct {
	keep  uint64
	every uint64
}

// ratioSampler lets keep out of every events through, in a fixed rotation.
// A zero ratio lets everything through.
type ratioSampler struct {
	ratio   atomic.Pointer[ratio]
	counter atomic.Uint64
}

func newRatioSampler(keep, every int) *ratioSampler {
	s := &ratioSampler{}
	s.Set(keep, every)
	return s
}

// Set replaces the ratio and restarts the rotation.
func (s *ratioSampler) Set(keep, every int) {
	s.counter.Store(0)
	if keep <= 0 || every <= 0 {
		s.ratio.Store(nil)
		return
	}
	if keep > every {
		keep = every
	}
	s.ratio.Store(&ratio{keep: uint64(keep), every: uint64(every)})
}

// Allow reports whether the next event passes.
func (s *ratioSampler) Allow() bool {
	r := s.ratio.Load()
	if r == nil {
		return true
	}
	n := s.counter.Add(1) - 1
	return n%r.every < r.keep
}

// parseRatioSpec reads "k/n" or "n" (meaning 1/n). Anything else disables sampling.
func parseRatioSpec(spec string) (int, int) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, 0
	}
	if num, den, ok := strings.Cut(spec, "/"); ok {
		k, err1 := strconv.Atoi(strings.TrimSpace(num))
		n, err2 := strconv.Atoi(strings.TrimSpace(den))
		if err1 != nil || err2 != nil {
			return 0, 0
		}
		return k, n
	}
	n, err := strconv.Atoi(spec)
	if err != nil || n <= 0 {
		return 0, 0
	}
	return 1, n
}
