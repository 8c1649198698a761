// Package feedback turns feedback events into stored training experiences.
//
// Submit validates an event and queues it; a single worker scores the
// referenced turn with the reward calculator, stores the experience
// through the privacy manager, feeds the result to the safety monitor's
// anomaly detector and updates the user's profile. A turn is rescored with
// all feedback received for it so far, and the new experience replaces the
// one stored before. Flush waits until everything submitted so far has been
// processed.
//
// NATSSource bridges a bus subject (assistant.feedback by default) into an
// Ingestor.
package feedback
