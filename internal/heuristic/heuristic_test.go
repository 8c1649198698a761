package heuristic

import (
	"context"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmejo/AI-Scholar-sub007/internal/agent"
	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
	"github.com/cmejo/AI-Scholar-sub007/internal/safety"
)

func infer(t *testing.T, f agent.Features) *agent.InferenceResult {
	t.Helper()
	res, err := NewPolicy(1).Infer(context.Background(), f)
	require.NoError(t, err)
	return res
}

func argmax(probs map[conversation.ActionKind]float64) conversation.ActionKind {
	var best conversation.ActionKind
	bestP := -1.0
	for _, k := range conversation.ActionKinds {
		if probs[k] > bestP {
			best, bestP = k, probs[k]
		}
	}
	return best
}

func TestPolicy_DistributionIsNormalized(t *testing.T) {
	res := infer(t, agent.EncodeFeatures(conversation.NewState("u", ""), "How do I configure the API client?", nil))

	var sum float64
	for _, k := range conversation.ActionKinds {
		p := res.ActionProbs[k]
		assert.Greater(t, p, 0.0, "every kind stays explorable: %s", k)
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, res.ActionProbs[argmax(res.ActionProbs)], res.Value, 1e-9)
}

func TestPolicy_Intents(t *testing.T) {
	tests := []struct {
		input string
		turns int
		want  conversation.ActionKind
	}{
		{"I get a compile error in this function", 0, conversation.KindTechnical},
		{"Can you explain the difference between TCP and UDP?", 0, conversation.KindExplanatory},
		{"Brainstorm some ideas for a story about the sea", 0, conversation.KindCreative},
		{"I'm so frustrated and stuck, I want to give up", 0, conversation.KindSupportive},
		{"Please summarize the key points", 0, conversation.KindSummarizing},
		{"hmm", 0, conversation.KindClarifying},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			state := conversation.NewState("u", "")
			res := infer(t, agent.EncodeFeatures(state, tt.input, nil))
			assert.Equal(t, tt.want, argmax(res.ActionProbs))
		})
	}
}

func TestPolicy_RepetitionPenalty(t *testing.T) {
	f := agent.Features{Input: "tell me more", InputLength: 12}
	before := infer(t, f).ActionProbs[conversation.KindTechnical]

	f.RecentKinds = []conversation.ActionKind{
		conversation.KindTechnical, conversation.KindTechnical, conversation.KindTechnical,
	}
	after := infer(t, f).ActionProbs[conversation.KindTechnical]
	assert.Less(t, after, before)
}

func TestPolicy_PreferencesShiftDistribution(t *testing.T) {
	f := agent.Features{Input: "go on", InputLength: 20, Expertise: 0.5, Verbosity: 0.5}
	base := infer(t, f).ActionProbs[conversation.KindCreative]

	f.Preferences = map[conversation.ActionKind]float64{conversation.KindCreative: 0.9}
	assert.Greater(t, infer(t, f).ActionProbs[conversation.KindCreative], base)
}

func TestPolicy_Params(t *testing.T) {
	novice := infer(t, agent.Features{Input: "what is recursion?", IsQuestion: true, Expertise: 0.1, Verbosity: 0.8, InputLength: 18})
	assert.Equal(t, 1.0, novice.Params["use_analogies"])
	assert.Equal(t, 1.0, novice.Params["include_examples"])
	assert.Equal(t, 4.0, novice.Params["depth"])
	assert.Equal(t, 0.6, novice.StrategyProbs["stepwise"])

	expert := infer(t, agent.Features{Input: "x", Expertise: 0.9, Verbosity: 0.1, InputLength: 1})
	assert.NotContains(t, expert.Params, "use_analogies")
	assert.Equal(t, 2.0, expert.Params["questions"])
	assert.Greater(t, expert.StrategyProbs["concise"], expert.StrategyProbs["detailed"])
}

func TestPolicy_RespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPolicy(0).Infer(ctx, agent.Features{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSoftmax_Temperature(t *testing.T) {
	scores := map[conversation.ActionKind]float64{conversation.KindTechnical: 2, conversation.KindCreative: 1}
	sharp := softmax(scores, 0.5)
	flat := softmax(scores, 5)
	assert.Greater(t, sharp[conversation.KindTechnical], flat[conversation.KindTechnical])
	assert.InDelta(t, 1/(1+math.Exp(-1)), softmax(scores, 1)[conversation.KindTechnical], 1e-9)
}

func pending(state *conversation.State, input string, action conversation.Action) *conversation.State {
	s := state.Snapshot()
	s.Append(conversation.Turn{Input: input, Action: action})
	return s
}

func TestTemplateRenderer_EveryKind(t *testing.T) {
	r := NewTemplateRenderer()
	state := conversation.NewState("u", "")
	for _, kind := range conversation.ActionKinds {
		t.Run(string(kind), func(t *testing.T) {
			action, err := conversation.NewAction(kind, conversation.ActionBase{Strategy: "stepwise"}, nil)
			require.NoError(t, err)
			text, err := r.Render(context.Background(), action, pending(state, "goroutine leaks?", action), agent.Personalization{})
			require.NoError(t, err)
			assert.NotEmpty(t, text)
			assert.GreaterOrEqual(t, len([]rune(text)), 10)
			if kind != conversation.KindSummarizing {
				assert.Contains(t, text, `"goroutine leaks"`)
			}
		})
	}
}

func TestTemplateRenderer_UsesParameters(t *testing.T) {
	r := NewTemplateRenderer()
	ctx := context.Background()
	state := conversation.NewState("u", "")

	tech := conversation.TechnicalAction{
		ActionBase:      conversation.ActionBase{Strategy: "stepwise"},
		DetailLevel:     0.9,
		IncludeExamples: true,
	}
	text, err := r.Render(ctx, tech, pending(state, "indexing", tech), agent.Personalization{})
	require.NoError(t, err)
	assert.Contains(t, text, "detailed technical answer")
	assert.Contains(t, text, "step at a time")
	assert.Contains(t, text, "concrete example")

	clarify := conversation.ClarifyingAction{Questions: 3}
	text, err = r.Render(ctx, clarify, pending(state, "it broke", clarify), agent.Personalization{})
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(text, "?"))

	state.Append(conversation.Turn{Input: "first topic"})
	state.Append(conversation.Turn{Input: "second topic"})
	state.Append(conversation.Turn{Input: "third topic"})
	summary := conversation.SummarizingAction{MaxPoints: 2}
	text, err = r.Render(ctx, summary, pending(state, "recap", summary), agent.Personalization{})
	require.NoError(t, err)
	assert.NotContains(t, text, "first topic")
	assert.Contains(t, text, "second topic")
	assert.Contains(t, text, "third topic")
	assert.NotContains(t, text, "recap")
}

func TestTemplateRenderer_OutputPassesSafetyMonitor(t *testing.T) {
	monitor, err := safety.NewMonitor(safety.DefaultConfig(), nil)
	require.NoError(t, err)
	r := NewTemplateRenderer()
	for _, kind := range conversation.ActionKinds {
		action, err := conversation.NewAction(kind, conversation.ActionBase{}, map[string]float64{"empathy": 0.9, "novelty": 0.9})
		require.NoError(t, err)
		text, err := r.Render(context.Background(), action, pending(conversation.NewState("u", ""), "my project plan", action), agent.Personalization{})
		require.NoError(t, err)
		ev := monitor.Evaluate(context.Background(), text, safety.EvalContext{})
		assert.True(t, ev.IsSafe, "%s: %q", kind, text)
	}
}

func TestMemoryProfiles_LearnsFromFeedback(t *testing.T) {
	ctx := context.Background()
	profiles := NewMemoryProfiles(nil)

	p, err := profiles.GetOrCreate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0.5, p.Expertise)
	assert.Zero(t, p.Interactions)
	assert.False(t, agent.Personalize(p).Applied)

	state := conversation.NewState("u1", "")
	state.Append(conversation.Turn{
		Input:    "q",
		Response: strings.Repeat("x", 800),
		Action:   conversation.TechnicalAction{},
	})
	state.Append(conversation.Turn{Input: "q2", Response: "short", Action: conversation.CreativeAction{}})

	require.NoError(t, profiles.Update(ctx, "u1", state, []conversation.FeedbackEvent{
		{Kind: conversation.FeedbackRating, TurnIndex: 0, Rating: 5},
		{Kind: conversation.FeedbackRating, TurnIndex: 1, Rating: 1},
		{Kind: conversation.FeedbackRating, TurnIndex: 9, Rating: 5},
	}))

	p, err = profiles.GetOrCreate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Interactions)
	assert.InDelta(t, 0.6, p.Expertise, 1e-9)
	assert.InDelta(t, 0.6, p.Verbosity, 1e-9)
	assert.InDelta(t, 2.0/3, p.PreferredKinds[conversation.KindTechnical], 1e-9)
	assert.InDelta(t, 1.0/3, p.PreferredKinds[conversation.KindCreative], 1e-9)
	assert.True(t, agent.Personalize(p).Applied)

	p.PreferredKinds[conversation.KindTechnical] = 0
	again, _ := profiles.GetOrCreate(ctx, "u1")
	assert.NotZero(t, again.PreferredKinds[conversation.KindTechnical], "callers get copies")
}

func TestMemoryProfiles_IgnoresFallbackTurns(t *testing.T) {
	ctx := context.Background()
	profiles := NewMemoryProfiles(nil)
	state := conversation.NewState("u1", "")
	state.Append(conversation.Turn{Action: conversation.ClarifyingAction{
		ActionBase: conversation.ActionBase{Strategy: agent.FallbackStrategy},
	}})

	require.NoError(t, profiles.Update(ctx, "u1", state, []conversation.FeedbackEvent{
		{Kind: conversation.FeedbackRating, TurnIndex: 0, Rating: 1},
	}))
	p, _ := profiles.GetOrCreate(ctx, "u1")
	assert.Empty(t, p.PreferredKinds)
}

func TestMemoryProfiles_Engagement(t *testing.T) {
	ctx := context.Background()
	profiles := NewMemoryProfiles(nil)
	state := conversation.NewState("u1", "")
	state.Append(conversation.Turn{Action: conversation.ExplanatoryAction{}})

	require.NoError(t, profiles.Update(ctx, "u1", state, []conversation.FeedbackEvent{
		{Kind: conversation.FeedbackEngagement, Engagement: &conversation.Engagement{Copied: true}},
		{Kind: conversation.FeedbackEngagement, Engagement: &conversation.Engagement{ScrollDepth: 0.2}},
	}))
	p, _ := profiles.GetOrCreate(ctx, "u1")
	assert.InDelta(t, 1.5/2.5, p.PreferredKinds[conversation.KindExplanatory], 1e-9)
	assert.InDelta(t, 0.4, p.Expertise, 1e-9)
}

func TestMemoryProfiles_Purge(t *testing.T) {
	ctx := context.Background()
	profiles := NewMemoryProfiles(nil)
	_, _ = profiles.GetOrCreate(ctx, "a")
	_, _ = profiles.GetOrCreate(ctx, "b")
	require.Equal(t, 2, profiles.Len())

	require.NoError(t, profiles.Purge(ctx, "a", nil))
	assert.Equal(t, 1, profiles.Len())
}

func TestEndToEnd_WithPipeline(t *testing.T) {
	monitor, err := safety.NewMonitor(safety.DefaultConfig(), nil)
	require.NoError(t, err)
	profiles := NewMemoryProfiles(nil)
	p, err := agent.New(agent.DefaultConfig(), NewPolicy(1), NewTemplateRenderer(), profiles, monitor, nil,
		agent.WithRand(rand.New(rand.NewPCG(3, 4))))
	require.NoError(t, err)

	state := conversation.NewState("u1", "")
	for _, in := range []string{"How do I configure the API client?", "why does that work", "summarize so far"} {
		resp := p.Process(context.Background(), state, in)
		assert.False(t, resp.IsFallback(), "%s -> %q", in, resp.Text)
		assert.NotEmpty(t, resp.Metadata[conversation.MetaActionKind])
	}
	assert.Equal(t, 3, state.TurnCount())
}
