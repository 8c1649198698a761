package experience

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"go.uber.org/zap"
)

// Config sizes the tiers and sets the routing thresholds.
type Config struct {
	Capacity            int
	HighQualityCapacity int
	SafetyCapacity      int
	// QualityThreshold is the minimum total reward for the high-quality tier.
	QualityThreshold float64
	// SafetyThreshold is the maximum safety component for the audit tier.
	SafetyThreshold float64
	Alpha           float64
	Beta            float64
	QualityRatio    float64
}

// DefaultConfig returns the stock tier sizes and thresholds.
func DefaultConfig() Config {
	return Config{
		Capacity:            100000,
		HighQualityCapacity: 10000,
		SafetyCapacity:      1000,
		QualityThreshold:    0.7,
		SafetyThreshold:     0.5,
		Alpha:               DefaultAlpha,
		Beta:                DefaultBeta,
		QualityRatio:        0.3,
	}
}

// Batch is a training sample. Indices address the combined index space
// accepted by Manager.UpdatePriorities.
type Batch struct {
	Experiences []*Experience
	Indices     []int
	Weights     []float64
}

func (b Batch) Len() int { return len(b.Experiences) }

// Stats is a point-in-time view of the tiers.
type Stats struct {
	Main                int     `json:"main"`
	MainCapacity        int     `json:"main_capacity"`
	HighQuality         int     `json:"high_quality"`
	HighQualityCapacity int     `json:"high_quality_capacity"`
	Safety              int     `json:"safety"`
	SafetyCapacity      int     `json:"safety_capacity"`
	MeanPriority        float64 `json:"mean_priority"`
}

// Manager routes experiences across the main, high-quality and safety tiers.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	main   *PrioritizedBuffer
	hq     *PrioritizedBuffer
	safety *RingBuffer
}

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	rng *rand.Rand
}

// WithRand seeds sampling, for reproducible tests.
func WithRand(rng *rand.Rand) Option {
	return func(o *managerOptions) { o.rng = rng }
}

// NewManager creates the three tiers.
func NewManager(cfg Config, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QualityRatio < 0 || cfg.QualityRatio > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRatio, cfg.QualityRatio)
	}
	if cfg.Beta <= 0 {
		cfg.Beta = DefaultBeta
	}
	var o managerOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	// Each tier gets its own source; rand.Rand is not safe for concurrent use.
	src := func() *rand.Rand { return rand.New(rand.NewPCG(o.rng.Uint64(), o.rng.Uint64())) }

	main, err := NewPrioritizedBuffer(cfg.Capacity, cfg.Alpha, src())
	if err != nil {
		return nil, fmt.Errorf("main tier: %w", err)
	}
	hq, err := NewPrioritizedBuffer(cfg.HighQualityCapacity, cfg.Alpha, src())
	if err != nil {
		return nil, fmt.Errorf("high-quality tier: %w", err)
	}
	safety, err := NewRingBuffer(cfg.SafetyCapacity, src())
	if err != nil {
		return nil, fmt.Errorf("safety tier: %w", err)
	}
	return &Manager{cfg: cfg, logger: logger, main: main, hq: hq, safety: safety}, nil
}

// HighQualityOffset is added to high-quality slot numbers in sampled batch
// indices. It equals the main tier capacity.
func (m *Manager) HighQualityOffset() int {
	return m.main.Cap()
}

// Store adds exp to the main tier and copies it into the high-quality and
// safety tiers when it qualifies.
func (m *Manager) Store(ctx context.Context, exp *Experience) error {
	if err := exp.validate(); err != nil {
		return err
	}
	m.store(tierMain, m.main, exp)
	if exp.Total() >= m.cfg.QualityThreshold {
		m.store(tierHighQuality, m.hq, exp)
	}
	if exp.SafetyScore() <= m.cfg.SafetyThreshold {
		m.store(tierSafety, m.safety, exp)
		m.logger.Info("low-safety experience retained for audit",
			zap.String("experience_id", exp.ID),
			zap.Float64("safety", exp.SafetyScore()))
	}
	m.logger.Debug("experience stored",
		zap.String("experience_id", exp.ID),
		zap.Float64("total", exp.Total()))
	return nil
}

func (m *Manager) store(tier string, b Buffer, exp *Experience) {
	_, evicted := b.Store(exp)
	storedTotal.WithLabelValues(tier).Inc()
	if evicted != nil {
		evictedTotal.WithLabelValues(tier).Inc()
	}
	bufferSize.WithLabelValues(tier).Set(float64(b.Len()))
}

// SampleTrainingBatch draws size experiences, round(size*qualityRatio) of
// them from the high-quality tier when it has any. A negative ratio selects
// the configured default. The safety tier is never sampled.
func (m *Manager) SampleTrainingBatch(size int, qualityRatio float64) (Batch, error) {
	if qualityRatio < 0 {
		qualityRatio = m.cfg.QualityRatio
	}
	if qualityRatio > 1 {
		return Batch{}, fmt.Errorf("%w: %v", ErrInvalidRatio, qualityRatio)
	}
	if size <= 0 {
		return Batch{}, nil
	}

	nHQ := 0
	if m.hq.Len() > 0 {
		nHQ = int(math.Round(float64(size) * qualityRatio))
	}
	nMain := size - nHQ
	if m.main.Len() == 0 {
		nMain = 0
	}

	var batch Batch
	exps, idx, w := m.main.SamplePrioritized(nMain, m.cfg.Beta)
	batch.Experiences = append(batch.Experiences, exps...)
	batch.Indices = append(batch.Indices, idx...)
	batch.Weights = append(batch.Weights, w...)

	exps, idx, w = m.hq.SamplePrioritized(nHQ, m.cfg.Beta)
	offset := m.HighQualityOffset()
	for k := range idx {
		idx[k] += offset
	}
	batch.Experiences = append(batch.Experiences, exps...)
	batch.Indices = append(batch.Indices, idx...)
	batch.Weights = append(batch.Weights, w...)
	return batch, nil
}

// UpdatePriorities routes each index to its tier using HighQualityOffset.
func (m *Manager) UpdatePriorities(indices []int, tdErrors []float64) error {
	if len(indices) != len(tdErrors) {
		return fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(indices), len(tdErrors))
	}
	offset := m.HighQualityOffset()
	var mainIdx, hqIdx []int
	var mainTD, hqTD []float64
	for k, i := range indices {
		if i >= offset {
			hqIdx = append(hqIdx, i-offset)
			hqTD = append(hqTD, tdErrors[k])
		} else {
			mainIdx = append(mainIdx, i)
			mainTD = append(mainTD, tdErrors[k])
		}
	}
	if err := m.main.UpdatePriorities(mainIdx, mainTD); err != nil {
		return fmt.Errorf("main tier: %w", err)
	}
	if err := m.hq.UpdatePriorities(hqIdx, hqTD); err != nil {
		return fmt.Errorf("high-quality tier: %w", err)
	}
	return nil
}

// SafetyAudit returns the audit tier, oldest first.
func (m *Manager) SafetyAudit() []*Experience {
	return m.safety.Items()
}

// ByConversation returns main-tier experiences for a conversation.
func (m *Manager) ByConversation(id string) []*Experience {
	return m.main.ByConversation(id)
}

// ByUser returns main-tier experiences for a user.
func (m *Manager) ByUser(id string) []*Experience {
	return m.main.ByUser(id)
}

// RemoveUser deletes every experience of userID from all tiers. The count
// is of distinct experiences.
func (m *Manager) RemoveUser(ctx context.Context, userID string) int {
	n := m.removeIf(func(e *Experience) bool { return e.UserID == userID })
	m.logger.Info("removed user experiences", zap.Int("count", n))
	return n
}

// Remove deletes the experiences with the given ids from all tiers.
func (m *Manager) Remove(ctx context.Context, ids ...string) int {
	if len(ids) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return m.removeIf(func(e *Experience) bool {
		_, ok := set[e.ID]
		return ok
	})
}

func (m *Manager) removeIf(pred func(*Experience) bool) int {
	seen := make(map[string]struct{})
	track := func(e *Experience) bool {
		if !pred(e) {
			return false
		}
		seen[e.ID] = struct{}{}
		return true
	}
	m.main.RemoveIf(track)
	m.hq.RemoveIf(track)
	m.safety.RemoveIf(track)

	bufferSize.WithLabelValues(tierMain).Set(float64(m.main.Len()))
	bufferSize.WithLabelValues(tierHighQuality).Set(float64(m.hq.Len()))
	bufferSize.WithLabelValues(tierSafety).Set(float64(m.safety.Len()))
	removedTotal.Add(float64(len(seen)))
	return len(seen)
}

// Stats reports tier occupancy.
func (m *Manager) Stats() Stats {
	return Stats{
		Main:                m.main.Len(),
		MainCapacity:        m.main.Cap(),
		HighQuality:         m.hq.Len(),
		HighQualityCapacity: m.hq.Cap(),
		Safety:              m.safety.Len(),
		SafetyCapacity:      m.safety.Cap(),
		MeanPriority:        m.main.MeanPriority(),
	}
}

// Clear empties every tier.
func (m *Manager) Clear() {
	m.main.Clear()
	m.hq.Clear()
	m.safety.Clear()
	for _, tier := range []string{tierMain, tierHighQuality, tierSafety} {
		bufferSize.WithLabelValues(tier).Set(0)
	}
}
