// Package conversation defines the data model shared by the session,
// decision, reward and memory components: the conversation state and its
// turns, the closed set of response actions, responses and feedback events.
//
// Actions are a sealed sum type. Each kind carries its own parameters and
// NewAction clamps raw policy outputs into their valid ranges:
//
//	a, err := conversation.NewAction(conversation.KindTechnical,
//	    conversation.ActionBase{Strategy: "concise", Confidence: 0.8},
//	    map[string]float64{"detail_level": 0.7})
//
// A State is owned by one session and mutated only while that session's
// turn lock is held. Snapshot returns a deep copy for readers.
package conversation
