package safety

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// AnomalyConfig tunes the rolling-window detector.
type AnomalyConfig struct {
	WindowSize     int
	MinSamples     int
	RecentWindow   int
	DropStdDevs    float64
	SpikeStdDevs   float64
	CriticalSafety float64
}

// DefaultAnomalyConfig returns the stock thresholds.
func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{
		WindowSize:     1000,
		MinSamples:     50,
		RecentWindow:   10,
		DropStdDevs:    2,
		SpikeStdDevs:   3,
		CriticalSafety: 0.5,
	}
}

func (c *AnomalyConfig) applyDefaults() {
	d := DefaultAnomalyConfig()
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = d.RecentWindow
	}
	if c.DropStdDevs <= 0 {
		c.DropStdDevs = d.DropStdDevs
	}
	if c.SpikeStdDevs <= 0 {
		c.SpikeStdDevs = d.SpikeStdDevs
	}
	if c.CriticalSafety <= 0 {
		c.CriticalSafety = d.CriticalSafety
	}
}

// Interaction is one scored turn fed to the anomaly detector.
type Interaction struct {
	Reward         float64
	Safety         float64
	ResponseLength int
}

type window struct {
	size int
	vals []float64
}

func (w *window) push(v float64) {
	if len(w.vals) >= w.size {
		copy(w.vals, w.vals[1:])
		w.vals = w.vals[:len(w.vals)-1]
	}
	w.vals = append(w.vals, v)
}

// split returns the historical part and the last n values.
func (w *window) split(n int) (hist, recent []float64) {
	if len(w.vals) <= n {
		return nil, w.vals
	}
	cut := len(w.vals) - n
	return w.vals[:cut], w.vals[cut:]
}

// AnomalyDetector watches reward, safety, and response-length streams.
// After raising an alert of a given type it stays quiet for that type until
// RecentWindow further observations have been made.
type AnomalyDetector struct {
	cfg AnomalyConfig

	mu       sync.Mutex
	rewards  window
	safety   window
	lengths  window
	cooldown map[AlertType]int
}

func NewAnomalyDetector(cfg AnomalyConfig) *AnomalyDetector {
	cfg.applyDefaults()
	return &AnomalyDetector{
		cfg:      cfg,
		rewards:  window{size: cfg.WindowSize},
		safety:   window{size: cfg.WindowSize},
		lengths:  window{size: cfg.WindowSize},
		cooldown: make(map[AlertType]int),
	}
}

// Observe records in and returns any alerts it triggers.
func (d *AnomalyDetector) Observe(in Interaction, now time.Time) []Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rewards.push(in.Reward)
	d.safety.push(in.Safety)
	d.lengths.push(float64(in.ResponseLength))
	for t, n := range d.cooldown {
		if n <= 1 {
			delete(d.cooldown, t)
		} else {
			d.cooldown[t] = n - 1
		}
	}

	var alerts []Alert
	raise := func(t AlertType, sev Severity, msg string, ctx map[string]string) {
		if d.cooldown[t] > 0 {
			return
		}
		d.cooldown[t] = d.cfg.RecentWindow
		alerts = append(alerts, newAlert(t, sev, msg, ctx, now))
	}

	// Low safety needs only a full recent window.
	if _, recent := d.safety.split(d.cfg.RecentWindow); len(recent) >= d.cfg.RecentWindow {
		if m := mean(recent); m < d.cfg.CriticalSafety {
			raise(AlertLowSafety, SeverityCritical,
				fmt.Sprintf("recent mean safety %.3f below %.2f", m, d.cfg.CriticalSafety),
				map[string]string{"recent_mean": ftoa(m)})
		}
	}

	if len(d.rewards.vals) < d.cfg.MinSamples {
		return alerts
	}

	hist, recent := d.rewards.split(d.cfg.RecentWindow)
	hm, hs := meanStd(hist)
	rm := mean(recent)
	ctx := map[string]string{"recent_mean": ftoa(rm), "historical_mean": ftoa(hm), "std_dev": ftoa(hs)}
	switch {
	case hs > 0 && rm < hm-d.cfg.DropStdDevs*hs:
		raise(AlertRewardDrop, SeverityHigh,
			fmt.Sprintf("reward dropped to %.3f from %.3f±%.3f", rm, hm, hs), ctx)
	case hs > 0 && rm > hm+d.cfg.SpikeStdDevs*hs:
		raise(AlertRewardSpike, SeverityMedium,
			fmt.Sprintf("reward spiked to %.3f from %.3f±%.3f, possible reward gaming", rm, hm, hs), ctx)
	}

	lhist, lrecent := d.lengths.split(d.cfg.RecentWindow)
	lm, ls := meanStd(lhist)
	lr := mean(lrecent)
	if ls > 0 && math.Abs(lr-lm) > d.cfg.SpikeStdDevs*ls {
		raise(AlertLengthAnomaly, SeverityMedium,
			fmt.Sprintf("response length %.0f deviates from %.0f±%.0f", lr, lm, ls),
			map[string]string{"recent_mean": ftoa(lr), "historical_mean": ftoa(lm)})
	}
	return alerts
}

// RecentSafetyMean returns the mean of the last RecentWindow safety scores.
func (d *AnomalyDetector) RecentSafetyMean() (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, recent := d.safety.split(d.cfg.RecentWindow)
	if len(recent) == 0 {
		return 0, false
	}
	return mean(recent), true
}

func mean(xs []float64) float64 {
	m, _ := meanStd(xs)
	return m
}

func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	m := sum / float64(len(xs))
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return m, math.Sqrt(ss / float64(len(xs)))
}

func ftoa(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
