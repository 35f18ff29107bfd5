// Package analyzer implements the Hybrid Analyzer: an ordered list of LLM
// providers that turn a Proposal and a subscriber Policy into an Analysis,
// degrading to a deterministic fallback when every provider fails.
package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zmazz/govwatcher-cosmos-vultr/internal/models"
)

// Category is the fixed classification vocabulary for a proposal's subject
// matter, chosen by keyword matching against title and description.
type Category string

const (
	CategoryParameterChange    Category = "PARAMETER_CHANGE"
	CategoryCommunityPoolSpend Category = "COMMUNITY_POOL_SPEND"
	CategoryUpgrade            Category = "UPGRADE"
	CategoryIBC                Category = "IBC"
	CategoryText               Category = "TEXT"
	CategoryOther              Category = "OTHER"
)

// categoryKeywords lists, in priority order, the keywords that select each
// category. The first category whose keyword set matches wins.
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryUpgrade, []string{"upgrade", "software upgrade", "binary", "hard fork", "chain halt"}},
	{CategoryIBC, []string{"ibc", "relayer", "channel", "counterparty", "interchain"}},
	{CategoryCommunityPoolSpend, []string{"community pool", "spend", "grant", "funding", "disbursement"}},
	{CategoryParameterChange, []string{"parameter", "param change", "inflation", "tax rate", "min deposit", "gas"}},
	{CategoryText, []string{"signal", "text proposal", "sentiment"}},
}

// Classify chooses exactly one category for a proposal by keyword matching
// against its title and description, falling back to CategoryOther.
func Classify(title, description string) Category {
	haystack := strings.ToLower(title + " " + description)
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(haystack, kw) {
				return entry.category
			}
		}
	}
	return CategoryOther
}

// chainContext carries static per-chain background blurbs injected into the
// prompt's category/chain layer. Absent chains get a generic line.
var chainContext = map[string]string{
	"cosmoshub-4":  "Cosmos Hub is the original Cosmos SDK chain; ATOM holders govern via direct on-chain voting.",
	"osmosis-1":    "Osmosis is an AMM-focused chain; proposals often touch pool incentives and the community pool.",
	"juno-1":       "Juno is a CosmWasm smart-contract chain; proposals frequently concern contract permissions.",
	"akashnet-2":   "Akash is a decentralized compute marketplace chain; proposals often concern provider incentives.",
}

func chainContextFor(chainID string) string {
	if blurb, ok := chainContext[chainID]; ok {
		return blurb
	}
	return "No additional chain-specific background is available for this chain."
}

const systemPreamble = `You are producing a governance voting recommendation for enterprise subscribers of a proposal-monitoring service. You do not cast votes; you advise.

Respond with a single JSON object with exactly these fields:
  "recommendation": one of "APPROVE", "REJECT", "ABSTAIN"
  "confidence": a number in [0, 1]
  "reasoning": a short prose explanation
  "risk_assessment": one of "LOW", "MEDIUM", "HIGH"
  "structured": an optional object with any of "swot", "pestel", "stakeholder_impact", "implementation_assessment"

Do not include any text outside the JSON object.`

// BuildPrompt constructs the deterministic three-layer prompt for a given
// (Proposal, Policy) pair: a fixed system preamble, a category/chain layer,
// then the proposal and policy verbatim.
func BuildPrompt(proposal models.Proposal, policy models.Policy) string {
	category := Classify(proposal.Title, proposal.Description)

	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\nCategory: ")
	b.WriteString(string(category))
	b.WriteString("\nChain context: ")
	b.WriteString(chainContextFor(proposal.ChainID))

	fmt.Fprintf(&b, "\n\nProposal:\n  chain: %s\n  proposal_id: %d\n  title: %s\n  description: %s\n  status: %s\n",
		proposal.ChainID, proposal.ProposalID, proposal.Title, proposal.Description, proposal.Status)

	b.WriteString("\nSubscriber policy:\n")
	fmt.Fprintf(&b, "  risk_tolerance: %s\n", policy.RiskTolerance)
	if len(policy.Criteria) > 0 {
		b.WriteString("  criteria:\n")
		keys := make([]string, 0, len(policy.Criteria))
		for k := range policy.Criteria {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "    %s: %.3f\n", k, policy.Criteria[k])
		}
	}
	if len(policy.Blurbs) > 0 {
		b.WriteString("  blurbs:\n")
		for _, blurb := range policy.Blurbs {
			fmt.Fprintf(&b, "    - %s\n", blurb)
		}
	}

	return b.String()
}

const repairSuffix = "\n\nYour previous response did not match the required JSON schema. Please re-emit your answer as a single valid JSON object with exactly the fields described above, and no other text."
