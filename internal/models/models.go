// Package models holds the gorm-backed entities shared across the pipeline:
// proposals, analyses, subscribers, advice, and delivery marks.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ProposalStatus mirrors the Cosmos SDK governance status enum, restricted
// to the values this pipeline reasons about.
type ProposalStatus string

const (
	StatusDeposit  ProposalStatus = "DEPOSIT"
	StatusVoting   ProposalStatus = "VOTING"
	StatusPassed   ProposalStatus = "PASSED"
	StatusRejected ProposalStatus = "REJECTED"
	StatusFailed   ProposalStatus = "FAILED"
)

// statusRank defines the partial order DEPOSIT < VOTING < {PASSED,REJECTED,FAILED},
// exposed through Rank. The Watcher takes each proposal's status from a
// single Fetch per tick and does not consult this order.
var statusRank = map[ProposalStatus]int{
	StatusDeposit:  0,
	StatusVoting:   1,
	StatusPassed:   2,
	StatusRejected: 2,
	StatusFailed:   2,
}

// IsTerminal reports whether status is one of PASSED, REJECTED, FAILED.
func (s ProposalStatus) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusRejected, StatusFailed:
		return true
	default:
		return false
	}
}

// Rank returns the status's position in the partial order; unknown statuses
// rank below everything so they never win a tie-break.
func (s ProposalStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Proposal is the observed state of a governance proposal on one chain.
type Proposal struct {
	ID          uint   `gorm:"primaryKey"`
	ChainID     string `gorm:"uniqueIndex:idx_chain_proposal;not null"`
	ProposalID  int64  `gorm:"uniqueIndex:idx_chain_proposal;not null"`
	Title       string
	Description string
	Status      ProposalStatus `gorm:"not null"`
	VotingStart *time.Time
	VotingEnd   *time.Time
	SubmitTime  *time.Time
	Proposer    string
	Type        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName pins the gorm table name so renames of the Go type never
// trigger an implicit migration.
func (Proposal) TableName() string { return "proposals" }

// Fingerprint computes the content hash identifying this proposal's current
// analyzable snapshot, per spec: a digest of (chainID, proposalID, title,
// status) truncated to at least 96 bits (12 bytes, hex-encoded to 24 chars).
func Fingerprint(chainID string, proposalID int64, title string, status ProposalStatus) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s", chainID, proposalID, title, status)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:12])
}

// Fingerprint returns this proposal's current fingerprint.
func (p Proposal) Fingerprint() string {
	return Fingerprint(p.ChainID, p.ProposalID, p.Title, p.Status)
}

// Recommendation is the AI-generated vocabulary for an Analysis.
type Recommendation string

const (
	RecommendApprove Recommendation = "APPROVE"
	RecommendReject  Recommendation = "REJECT"
	RecommendAbstain Recommendation = "ABSTAIN"
)

// RiskLevel classifies an Analysis's assessed risk.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Analysis is the AI-generated opinion attached to a Fingerprint.
type Analysis struct {
	ID             uint   `gorm:"primaryKey"`
	Fingerprint    string `gorm:"uniqueIndex;not null"`
	Provider       string
	Recommendation Recommendation `gorm:"not null"`
	Confidence     float64
	Reasoning      string
	RiskAssessment RiskLevel
	StructuredJSON string // free-form SWOT/PESTEL/stakeholder maps, json-encoded
	CreatedAt      time.Time `gorm:"not null"`
	ExpiresAt      time.Time `gorm:"not null;index"`
}

func (Analysis) TableName() string { return "analyses" }

// Expired reports whether this Analysis's TTL has elapsed as of now.
func (a Analysis) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// SetStructured encodes the optional structured sub-fields (SWOT, PESTEL,
// stakeholder impact, implementation assessment) as JSON.
func (a *Analysis) SetStructured(v map[string]any) error {
	if len(v) == 0 {
		a.StructuredJSON = ""
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode structured analysis fields: %w", err)
	}
	a.StructuredJSON = string(b)
	return nil
}

// Structured decodes the optional structured sub-fields.
func (a Analysis) Structured() (map[string]any, error) {
	if a.StructuredJSON == "" {
		return nil, nil
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(a.StructuredJSON), &v); err != nil {
		return nil, fmt.Errorf("decode structured analysis fields: %w", err)
	}
	return v, nil
}

// RiskTolerance is a subscriber's declared appetite for risk.
type RiskTolerance string

const (
	ToleranceLow    RiskTolerance = "LOW"
	ToleranceMedium RiskTolerance = "MEDIUM"
	ToleranceHigh   RiskTolerance = "HIGH"
)

// Policy is a subscriber's declared preferences for advice shaping.
type Policy struct {
	RiskTolerance RiskTolerance      `json:"riskTolerance"`
	Criteria      map[string]float64 `json:"criteria,omitempty"`
	Blurbs        []string           `json:"blurbs,omitempty"`
}

// Subscriber is an entity that should receive notifications.
type Subscriber struct {
	ID           uint   `gorm:"primaryKey"`
	SubscriberID string `gorm:"uniqueIndex;not null"`
	Address      string `gorm:"not null"`
	ChainsJSON   string `gorm:"column:chains"` // json-encoded []string
	PolicyJSON   string `gorm:"column:policy"` // json-encoded Policy
	ActiveUntil  time.Time
	Active       bool `gorm:"not null;default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Subscriber) TableName() string { return "subscribers" }

// Chains decodes the subscriber's watched chain set.
func (s Subscriber) Chains() ([]string, error) {
	var chains []string
	if s.ChainsJSON == "" {
		return chains, nil
	}
	if err := json.Unmarshal([]byte(s.ChainsJSON), &chains); err != nil {
		return nil, fmt.Errorf("decode subscriber chains: %w", err)
	}
	return chains, nil
}

// SetChains encodes the subscriber's watched chain set.
func (s *Subscriber) SetChains(chains []string) error {
	b, err := json.Marshal(chains)
	if err != nil {
		return fmt.Errorf("encode subscriber chains: %w", err)
	}
	s.ChainsJSON = string(b)
	return nil
}

// GetPolicy decodes the subscriber's declared Policy.
func (s Subscriber) GetPolicy() (Policy, error) {
	var p Policy
	if s.PolicyJSON == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(s.PolicyJSON), &p); err != nil {
		return p, fmt.Errorf("decode subscriber policy: %w", err)
	}
	return p, nil
}

// SetPolicy encodes the subscriber's declared Policy.
func (s *Subscriber) SetPolicy(p Policy) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode subscriber policy: %w", err)
	}
	s.PolicyJSON = string(b)
	return nil
}

// Eligible reports whether this subscriber may receive a delivery at now.
func (s Subscriber) Eligible(now time.Time) bool {
	return s.Active && now.Before(s.ActiveUntil)
}

// Decision is the delivered-advice vocabulary, distinct from Recommendation.
type Decision string

const (
	DecisionYes     Decision = "YES"
	DecisionNo      Decision = "NO"
	DecisionAbstain Decision = "ABSTAIN"
)

// DecisionFromRecommendation applies the fixed recommendation→decision
// mapping: APPROVE→YES, REJECT→NO, ABSTAIN→ABSTAIN.
func DecisionFromRecommendation(r Recommendation) Decision {
	switch r {
	case RecommendApprove:
		return DecisionYes
	case RecommendReject:
		return DecisionNo
	default:
		return DecisionAbstain
	}
}

// Advice is the per-subscriber materialization of an Analysis for one
// proposal. It is transient: produced by the fan-out, consumed by the
// delivery gate, never persisted.
type Advice struct {
	ChainID      string
	ChainName    string
	ProposalID   int64
	Title        string
	SubscriberID string
	Decision     Decision
	Rationale    string
	Confidence   float64
	CreatedAt    time.Time
}

// DeliveryMark is the idempotency record proving that an Advice for
// (chainID, proposalID, subscriberID) was accepted by the Notifier.
type DeliveryMark struct {
	ID           uint   `gorm:"primaryKey"`
	ChainID      string `gorm:"uniqueIndex:idx_delivery_key;not null"`
	ProposalID   int64  `gorm:"uniqueIndex:idx_delivery_key;not null"`
	SubscriberID string `gorm:"uniqueIndex:idx_delivery_key;not null"`
	SentAt       time.Time
	MessageID    string
}

func (DeliveryMark) TableName() string { return "delivery_marks" }

// Cursor is the per-chain watermark the Watcher persists between ticks.
type Cursor struct {
	ID          uint   `gorm:"primaryKey"`
	ChainID     string `gorm:"uniqueIndex;not null"`
	HighestSeen int64
	TrackedJSON string `gorm:"column:tracked"` // json-encoded []int64
	UpdatedAt   time.Time
}

func (Cursor) TableName() string { return "cursors" }

// Tracked decodes the set of currently non-terminal proposal IDs.
func (c Cursor) Tracked() ([]int64, error) {
	var ids []int64
	if c.TrackedJSON == "" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(c.TrackedJSON), &ids); err != nil {
		return nil, fmt.Errorf("decode cursor tracked set: %w", err)
	}
	return ids, nil
}

// SetTracked encodes the set of currently non-terminal proposal IDs.
func (c *Cursor) SetTracked(ids []int64) error {
	b, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode cursor tracked set: %w", err)
	}
	c.TrackedJSON = string(b)
	return nil
}

// InitDB creates or migrates all tables owned by the pipeline.
func InitDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&Proposal{},
		&Analysis{},
		&Subscriber{},
		&DeliveryMark{},
		&Cursor{},
	)
}
