// Package heuristic provides rule-based implementations of the decision
// pipeline's collaborators: a Policy for inference, a TemplateRenderer for
// text, and MemoryProfiles for user profiles. They let the assistant run
// end to end without a trained model.
package heuristic
