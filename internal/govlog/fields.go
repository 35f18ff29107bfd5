// Package govlog centralizes the zap field builders shared across the
// pipeline so every stage logs the same key names for the same concepts.
package govlog

import "go.uber.org/zap"

// Chain tags a log entry with the chain it concerns.
func Chain(chainID string) zap.Field {
	return zap.String("chain", chainID)
}

// Proposal tags a log entry with the proposal it concerns.
func Proposal(proposalID int64) zap.Field {
	return zap.Int64("proposal_id", proposalID)
}

// Subscriber tags a log entry with the subscriber it concerns.
func Subscriber(subscriberID string) zap.Field {
	return zap.String("subscriber", subscriberID)
}

// Fingerprint tags a log entry with the analysis fingerprint it concerns.
func Fingerprint(fingerprint string) zap.Field {
	return zap.String("fingerprint", fingerprint)
}
