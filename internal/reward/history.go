package reward

import "math"

// Summary is the mean and standard deviation of a series.
type Summary struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// Statistics describes the recent reward history.
type Statistics struct {
	Count      int                   `json:"count"`
	Total      Summary               `json:"total"`
	Components map[Component]Summary `json:"components"`
}

// history is a fixed-size window of totals and component scores.
type history struct {
	size       int
	totals     []float64
	components map[Component][]float64
}

func newHistory(size int) *history {
	return &history{
		size:       size,
		totals:     make([]float64, 0, size),
		components: make(map[Component][]float64, len(Components)),
	}
}

func (h *history) len() int { return len(h.totals) }

func (h *history) add(total float64, components map[Component]float64) {
	h.totals = push(h.totals, total, h.size)
	for _, c := range Components {
		h.components[c] = push(h.components[c], components[c], h.size)
	}
}

func (h *history) totalStats() (mean, std float64) {
	return meanStd(h.totals)
}

func (h *history) statistics() Statistics {
	st := Statistics{
		Count:      len(h.totals),
		Components: make(map[Component]Summary, len(Components)),
	}
	st.Total.Mean, st.Total.StdDev = meanStd(h.totals)
	for _, c := range Components {
		var s Summary
		s.Mean, s.StdDev = meanStd(h.components[c])
		st.Components[c] = s
	}
	return st
}

func push(xs []float64, v float64, size int) []float64 {
	if len(xs) >= size {
		copy(xs, xs[1:])
		xs = xs[:len(xs)-1]
	}
	return append(xs, v)
}

// meanStd returns the population mean and standard deviation.
func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}
