package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap/zapcore"

	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
	"github.com/cmejo/AI-Scholar-sub007/internal/logging"
	"github.com/cmejo/AI-Scholar-sub007/internal/safety"
	"github.com/cmejo/AI-Scholar-sub007/internal/telemetry"
)

type fakeInference struct {
	res     *InferenceResult
	err     error
	release chan struct{}
	seen    Features
}

func (f *fakeInference) Infer(_ context.Context, feat Features) (*InferenceResult, error) {
	if f.release != nil {
		<-f.release
	}
	f.seen = feat
	return f.res, f.err
}

type fakeRenderer struct {
	text     string
	err      error
	panicMsg string

	mu   sync.Mutex
	seen *conversation.State
	pers Personalization
}

func (r *fakeRenderer) Render(_ context.Context, _ conversation.Action, state *conversation.State, p Personalization) (string, error) {
	if r.panicMsg != "" {
		panic(r.panicMsg)
	}
	r.mu.Lock()
	r.seen = state
	r.pers = p
	r.mu.Unlock()
	return r.text, r.err
}

type fakeProfiles struct {
	profile *Profile
	err     error
}

func (f *fakeProfiles) GetOrCreate(_ context.Context, userID string) (*Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.profile, nil
}

func (f *fakeProfiles) Update(context.Context, string, *conversation.State, []conversation.FeedbackEvent) error {
	return nil
}

type fakeChecker struct {
	unsafe   bool
	warnings []string
}

func (c fakeChecker) Evaluate(_ context.Context, text string, _ safety.EvalContext) safety.Evaluation {
	if c.unsafe {
		return safety.Evaluation{Text: text, Score: 0.2}
	}
	return safety.Evaluation{
		Text:   text,
		Score:  0.95,
		IsSafe: true,
		Filter: safety.FilterResult{Text: text, Warnings: c.warnings},
	}
}

// fixedRand returns the same values every call.
type fixedRand struct {
	f float64
	n int
}

func (r fixedRand) Float64() float64 { return r.f }
func (r fixedRand) IntN(int) int     { return r.n }

func technical() *InferenceResult {
	return &InferenceResult{
		ActionProbs:   map[conversation.ActionKind]float64{conversation.KindTechnical: 1},
		StrategyProbs: map[string]float64{"stepwise": 1},
		Params:        map[string]float64{"detail_level": 0.8, "include_examples": 1},
	}
}

func newPipeline(t *testing.T, inf Inference, r Renderer, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(DefaultConfig(), inf, r, nil, fakeChecker{}, nil, opts...)
	require.NoError(t, err)
	return p
}

func TestProcess_SelectsActionAndAppendsTurn(t *testing.T) {
	renderer := &fakeRenderer{text: "Use a buffered channel and close it from the sender."}
	inf := &fakeInference{res: technical()}
	p := newPipeline(t, inf, renderer)

	state := conversation.NewState("u1", "golang")
	resp := p.Process(context.Background(), state, "How do I stop a worker goroutine?")

	assert.False(t, resp.IsFallback())
	assert.Equal(t, renderer.text, resp.Text)
	assert.Equal(t, 1.0, resp.Confidence)
	assert.Equal(t, 0.95, resp.SafetyScore)
	assert.Equal(t, "technical", resp.Metadata[conversation.MetaActionKind])
	assert.Equal(t, "stepwise", resp.Metadata[conversation.MetaStrategy])

	require.Equal(t, 1, state.TurnCount())
	turn, _ := state.LastTurn()
	assert.Equal(t, "How do I stop a worker goroutine?", turn.Input)
	assert.Equal(t, resp.Text, turn.Response)
	action, ok := turn.Action.(conversation.TechnicalAction)
	require.True(t, ok, "got %T", turn.Action)
	assert.Equal(t, 0.8, action.DetailLevel)
	assert.True(t, action.IncludeExamples)
	assert.Equal(t, resp.Text, action.ResponseText)

	assert.True(t, inf.seen.IsQuestion)
	assert.Equal(t, "golang", inf.seen.Domain)
	assert.Equal(t, 0, inf.seen.TurnCount)
}

func TestProcess_RendersAgainstSnapshotWithPendingTurn(t *testing.T) {
	renderer := &fakeRenderer{text: "Here is a summary of what we covered."}
	p := newPipeline(t, &fakeInference{res: technical()}, renderer)

	state := conversation.NewState("u1", "")
	state.Append(conversation.Turn{Input: "earlier", Response: "reply"})
	p.Process(context.Background(), state, "summarize please")

	seen := renderer.seen
	require.NotNil(t, seen)
	assert.NotSame(t, state, seen)
	require.Equal(t, 2, seen.TurnCount())
	last, _ := seen.LastTurn()
	assert.Equal(t, "summarize please", last.Input)
	assert.Empty(t, last.Response)
	assert.Equal(t, conversation.KindTechnical, last.Action.Kind())
}

func TestProcess_SamplesInProportion(t *testing.T) {
	res := &InferenceResult{ActionProbs: map[conversation.ActionKind]float64{
		conversation.KindTechnical:   2,
		conversation.KindCreative:    2,
		conversation.KindSupportive:  0,
		conversation.KindClarifying:  0,
		conversation.KindExplanatory: 0,
	}}

	tests := []struct {
		draw float64
		want conversation.ActionKind
	}{
		{0.1, conversation.KindTechnical},
		{0.49, conversation.KindTechnical},
		{0.5, conversation.KindCreative},
		{0.99, conversation.KindCreative},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("draw %.2f", tt.draw), func(t *testing.T) {
			p := newPipeline(t, &fakeInference{res: res}, &fakeRenderer{text: "a reasonable answer"},
				WithRand(fixedRand{f: tt.draw}))
			resp := p.Process(context.Background(), conversation.NewState("u", ""), "go")
			assert.Equal(t, string(tt.want), resp.Metadata[conversation.MetaActionKind])
			assert.InDelta(t, 0.5, resp.Confidence, 1e-9)
			assert.Equal(t, DefaultStrategy, resp.Metadata[conversation.MetaStrategy])
		})
	}
}

func TestProcess_SamplingExploresWithSeededSource(t *testing.T) {
	res := &InferenceResult{ActionProbs: map[conversation.ActionKind]float64{
		conversation.KindTechnical:   0.5,
		conversation.KindExplanatory: 0.5,
	}}
	p := newPipeline(t, &fakeInference{res: res}, &fakeRenderer{text: "a reasonable answer"},
		WithRand(rand.New(rand.NewPCG(7, 11))))

	seen := map[string]int{}
	state := conversation.NewState("u", "")
	for range 200 {
		resp := p.Process(context.Background(), state, "next")
		seen[resp.Metadata[conversation.MetaActionKind]]++
	}
	assert.Len(t, seen, 2, "categorical sampling must not collapse to argmax")
	assert.Greater(t, seen["technical"], 50)
	assert.Greater(t, seen["explanatory"], 50)
}

func TestProcess_ErrorFallbacks(t *testing.T) {
	tests := []struct {
		name     string
		inf      *fakeInference
		renderer *fakeRenderer
		logged   string
	}{
		{
			name:     "inference error",
			inf:      &fakeInference{err: errors.New("model offline")},
			renderer: &fakeRenderer{text: "unused"},
			logged:   "decision pipeline failed",
		},
		{
			name:     "nil result",
			inf:      &fakeInference{},
			renderer: &fakeRenderer{text: "unused"},
			logged:   "decision pipeline failed",
		},
		{
			name: "zero distribution",
			inf: &fakeInference{res: &InferenceResult{
				ActionProbs: map[conversation.ActionKind]float64{conversation.KindCreative: 0},
			}},
			renderer: &fakeRenderer{text: "unused"},
			logged:   "decision pipeline failed",
		},
		{
			name: "negative probability",
			inf: &fakeInference{res: &InferenceResult{
				ActionProbs: map[conversation.ActionKind]float64{
					conversation.KindCreative:  -1,
					conversation.KindTechnical: 2,
				},
			}},
			renderer: &fakeRenderer{text: "unused"},
			logged:   "decision pipeline failed",
		},
		{
			name: "unknown kind",
			inf: &fakeInference{res: &InferenceResult{
				ActionProbs: map[conversation.ActionKind]float64{"poetic": 1},
			}},
			renderer: &fakeRenderer{text: "unused"},
			logged:   "decision pipeline failed",
		},
		{
			name:     "render error",
			inf:      &fakeInference{res: technical()},
			renderer: &fakeRenderer{err: errors.New("template missing")},
			logged:   "decision pipeline failed",
		},
		{
			name:     "render panic",
			inf:      &fakeInference{res: technical()},
			renderer: &fakeRenderer{panicMsg: "nil map"},
			logged:   "decision pipeline panic",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logging.NewTestLogger()
			p, err := New(DefaultConfig(), tt.inf, tt.renderer, nil, fakeChecker{}, logger.Underlying())
			require.NoError(t, err)

			state := conversation.NewState("u", "")
			resp := p.Process(context.Background(), state, "hello there")

			assert.Equal(t, conversation.FallbackError, resp.FallbackCause())
			assert.Equal(t, ErrorFallbackConfidence, resp.Confidence)
			assert.Contains(t, FallbackTexts(conversation.FallbackError), resp.Text)
			logger.AssertLogged(t, zapcore.ErrorLevel, tt.logged)

			require.Equal(t, 1, state.TurnCount(), "fallback turns are still appended")
			turn, _ := state.LastTurn()
			assert.Equal(t, resp.Text, turn.Response)
			assert.Equal(t, conversation.KindClarifying, turn.Action.Kind())
			assert.Equal(t, FallbackStrategy, turn.Action.Common().Strategy)
		})
	}
}

func TestProcess_TimeoutIsBounded(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	inf := &fakeInference{res: technical(), release: release}
	p := newPipeline(t, inf, &fakeRenderer{text: "too late"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	state := conversation.NewState("u", "")
	start := time.Now()
	resp := p.Process(ctx, state, "anything")
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, conversation.FallbackTimeout, resp.FallbackCause())
	assert.Equal(t, TimeoutFallbackConfidence, resp.Confidence)
	assert.Contains(t, FallbackTexts(conversation.FallbackTimeout), resp.Text)
	assert.Equal(t, 1, state.TurnCount())
}

func TestProcess_UnsafeResponseUsesSafetyFallback(t *testing.T) {
	p, err := New(DefaultConfig(), &fakeInference{res: technical()}, &fakeRenderer{text: "something harmful"},
		nil, fakeChecker{unsafe: true}, nil, WithRand(fixedRand{n: 1}))
	require.NoError(t, err)

	state := conversation.NewState("u", "")
	resp := p.Process(context.Background(), state, "tell me")

	assert.Equal(t, conversation.FallbackSafety, resp.FallbackCause())
	assert.Equal(t, SafetyFallbackConfidence, resp.Confidence)
	assert.Equal(t, FallbackTexts(conversation.FallbackSafety)[1], resp.Text)
	turn, _ := state.LastTurn()
	assert.NotContains(t, turn.Response, "harmful")
}

func TestProcess_WithSafetyMonitor(t *testing.T) {
	monitor, err := safety.NewMonitor(safety.DefaultConfig(), nil)
	require.NoError(t, err)

	t.Run("benign", func(t *testing.T) {
		p, err := New(DefaultConfig(), &fakeInference{res: technical()},
			&fakeRenderer{text: "Water boils at 100 degrees Celsius at sea level."}, nil, monitor, nil)
		require.NoError(t, err)
		resp := p.Process(context.Background(), conversation.NewState("u", ""), "when does water boil?")
		assert.False(t, resp.IsFallback())
		assert.Greater(t, resp.SafetyScore, 0.5)
	})

	t.Run("harmful", func(t *testing.T) {
		p, err := New(DefaultConfig(), &fakeInference{res: technical()},
			&fakeRenderer{text: "You should kill yourself."}, nil, monitor, nil)
		require.NoError(t, err)
		resp := p.Process(context.Background(), conversation.NewState("u", ""), "I feel awful")
		assert.Equal(t, conversation.FallbackSafety, resp.FallbackCause())
		assert.NotEmpty(t, monitor.ActiveAlerts(), "the violation is recorded for audit")
	})
}

func TestProcess_LengthBounds(t *testing.T) {
	t.Run("truncates to max plus marker", func(t *testing.T) {
		p := newPipeline(t, &fakeInference{res: technical()}, &fakeRenderer{text: strings.Repeat("a", 3000)})
		state := conversation.NewState("u", "")
		resp := p.Process(context.Background(), state, "long please")

		assert.Len(t, resp.Text, 2000+len("..."))
		assert.True(t, strings.HasSuffix(resp.Text, "..."))
		assert.Equal(t, "true", resp.Metadata[conversation.MetaTruncated])
		turn, _ := state.LastTurn()
		assert.Equal(t, resp.Text, turn.Action.Common().ResponseText)
	})

	t.Run("counts runes", func(t *testing.T) {
		p := newPipeline(t, &fakeInference{res: technical()}, &fakeRenderer{text: strings.Repeat("é", 2500)})
		resp := p.Process(context.Background(), conversation.NewState("u", ""), "long please")
		assert.Equal(t, 2003, utf8.RuneCountInString(resp.Text))
		assert.True(t, utf8.ValidString(resp.Text))
	})

	t.Run("pads short responses", func(t *testing.T) {
		p := newPipeline(t, &fakeInference{res: technical()}, &fakeRenderer{text: "Ok."})
		resp := p.Process(context.Background(), conversation.NewState("u", ""), "short")
		assert.True(t, strings.HasPrefix(resp.Text, "Ok. "))
		assert.GreaterOrEqual(t, utf8.RuneCountInString(resp.Text), 10)
		assert.Equal(t, "true", resp.Metadata[conversation.MetaPadded])
	})

	t.Run("within bounds untouched", func(t *testing.T) {
		text := strings.Repeat("b", 2000)
		p := newPipeline(t, &fakeInference{res: technical()}, &fakeRenderer{text: text})
		resp := p.Process(context.Background(), conversation.NewState("u", ""), "exact")
		assert.Equal(t, text, resp.Text)
		assert.NotContains(t, resp.Metadata, conversation.MetaTruncated)
	})
}

func TestProcess_ContentWarningsInMetadata(t *testing.T) {
	p, err := New(DefaultConfig(), &fakeInference{res: technical()}, &fakeRenderer{text: "Mild but flagged answer."},
		nil, fakeChecker{warnings: []string{"medical", "financial"}}, nil)
	require.NoError(t, err)
	resp := p.Process(context.Background(), conversation.NewState("u", ""), "advice?")
	assert.Equal(t, "medical,financial", resp.Metadata[conversation.MetaContentWarnings])
}

func TestProcess_Personalization(t *testing.T) {
	t.Run("known profile", func(t *testing.T) {
		renderer := &fakeRenderer{text: "A tailored answer for you."}
		profiles := &fakeProfiles{profile: &Profile{UserID: "u", Expertise: 0.9, Verbosity: 0.2, Interactions: 4}}
		inf := &fakeInference{res: technical()}
		p, err := New(DefaultConfig(), inf, renderer, profiles, fakeChecker{}, nil)
		require.NoError(t, err)

		state := conversation.NewState("u", "")
		resp := p.Process(context.Background(), state, "hi")
		assert.True(t, resp.PersonalizationApplied)
		assert.Equal(t, true, state.Metadata[conversation.StatePersonalized])
		assert.Equal(t, 0.9, renderer.pers.Expertise)
		assert.Equal(t, 0.9, inf.seen.Expertise)
	})

	t.Run("profile error degrades", func(t *testing.T) {
		logger := logging.NewTestLogger()
		profiles := &fakeProfiles{err: errors.New("profile store down")}
		p, err := New(DefaultConfig(), &fakeInference{res: technical()}, &fakeRenderer{text: "A generic answer."},
			profiles, fakeChecker{}, logger.Underlying())
		require.NoError(t, err)

		state := conversation.NewState("u", "")
		resp := p.Process(context.Background(), state, "hi")
		assert.False(t, resp.IsFallback())
		assert.False(t, resp.PersonalizationApplied)
		assert.Equal(t, false, state.Metadata[conversation.StatePersonalized])
		logger.AssertLogged(t, zapcore.WarnLevel, "profile unavailable")
	})
}

func TestProcess_Telemetry(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	inf := &fakeInference{res: technical()}
	p := newPipeline(t, inf, &fakeRenderer{text: "A perfectly fine answer."},
		WithTracer(tt.Tracer("test")), WithMeter(tt.Meter("test")))

	ctx := context.Background()
	state := conversation.NewState("u", "")
	p.Process(ctx, state, "first")
	inf.err = errors.New("boom")
	p.Process(ctx, state, "second")

	tt.AssertSpanExists(t, "agent.Process")
	assert.Len(t, tt.Spans(), 2)

	n, ok := tt.HistogramCount(ctx, "assistant.agent.turn.duration")
	require.True(t, ok)
	assert.Equal(t, uint64(2), n)

	fallbacks, ok := tt.Int64Sum(ctx, "assistant.agent.fallbacks", attribute.String("cause", "error"))
	require.True(t, ok)
	assert.Equal(t, int64(1), fallbacks)

	technicalTurns, ok := tt.Int64Sum(ctx, "assistant.agent.turns", attribute.String("action_kind", "technical"))
	require.True(t, ok)
	assert.Equal(t, int64(1), technicalTurns)
}

func TestProcess_ConcurrentStates(t *testing.T) {
	p := newPipeline(t, &fakeInference{res: technical()}, &fakeRenderer{text: "Concurrent answer text."},
		WithRand(rand.New(rand.NewPCG(1, 2))))

	var wg sync.WaitGroup
	states := make([]*conversation.State, 16)
	for i := range states {
		states[i] = conversation.NewState(fmt.Sprintf("u%d", i), "")
		wg.Add(1)
		go func(s *conversation.State) {
			defer wg.Done()
			for range 5 {
				p.Process(context.Background(), s, "again")
			}
		}(states[i])
	}
	wg.Wait()

	for _, s := range states {
		assert.Equal(t, 5, s.TurnCount())
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(DefaultConfig(), nil, &fakeRenderer{}, nil, fakeChecker{}, nil)
	assert.Error(t, err)

	_, err = New(Config{MinResponseLength: 50, MaxResponseLength: 10}, &fakeInference{}, &fakeRenderer{}, nil, fakeChecker{}, nil)
	assert.Error(t, err)
}

func TestEncodeFeatures(t *testing.T) {
	state := conversation.NewState("u", "science")
	state.Append(conversation.Turn{Input: "a", Action: conversation.CreativeAction{}})
	state.Append(conversation.Turn{Input: "b", Action: conversation.SupportiveAction{}})

	f := EncodeFeatures(state, "Why is the sky blue", &Profile{Expertise: 0.7, Verbosity: 0.4, Interactions: 1})
	assert.Equal(t, 2, f.TurnCount)
	assert.Equal(t, 19, f.InputLength)
	assert.True(t, f.IsQuestion)
	assert.Equal(t, "science", f.Domain)
	assert.Equal(t, []conversation.ActionKind{conversation.KindCreative, conversation.KindSupportive}, f.RecentKinds)
	assert.Equal(t, 0.7, f.Expertise)

	neutral := EncodeFeatures(nil, "thanks", nil)
	assert.False(t, neutral.IsQuestion)
	assert.Equal(t, 0.5, neutral.Expertise)
	assert.Equal(t, 0.5, neutral.Verbosity)
}

func TestIsQuestion(t *testing.T) {
	tests := map[string]bool{
		"what is a monad":     true,
		"it works?":           true,
		"  Could you help":    true,
		"thanks, that helped": false,
		"":                    false,
		"whatever you think":  false,
	}
	for in, want := range tests {
		assert.Equal(t, want, isQuestion(in), in)
	}
}
