// Package reward scores a conversation turn against eight objectives and
// combines them into a single weighted, validated reward.
//
// Every component is bounded to [0,1]. Rewards are never dropped: a reward
// that fails validation or looks like an outlier keeps its total but carries
// a reduced confidence, which downstream training uses as a sample weight.
package reward
