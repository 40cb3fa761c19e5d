package sensor

import "sort"

const medianWindow = 3

// medianFilter keeps the last three samples of one signal.
type medianFilter struct {
	buf [medianWindow]float64
	n   int
	pos int
}

// Add records v and returns the median of the retained samples.
func (m *medianFilter) Add(v float64) float64 {
	m.buf[m.pos] = v
	m.pos = (m.pos + 1) % medianWindow
	if m.n < medianWindow {
		m.n++
	}

	window := make([]float64, m.n)
	copy(window, m.buf[:m.n])
	sort.Float64s(window)

	if m.n%2 == 1 {
		return window[m.n/2]
	}
	return (window[m.n/2-1] + window[m.n/2]) / 2
}
