package team

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ProposalStatus is a Proposal's lifecycle stage.
type ProposalStatus string

const (
	ProposalActive  ProposalStatus = "active"
	ProposalExpired ProposalStatus = "expired"
)

// Proposal is one candidate decision under vote (spec §4.7.1).
type Proposal struct {
	ID        string
	Content   string
	Reasoning string
	Proposer  string
	CreatedAt time.Time
	ExpiresAt time.Time
	Status    ProposalStatus
}

// DecisionStrategy selects how GetDecision resolves the vote.
type DecisionStrategy string

const (
	FirstComeFirstServe DecisionStrategy = "first_come_first_serve"
	MajorityVote        DecisionStrategy = "majority_vote"
	PluralityVote       DecisionStrategy = "plurality_vote"
)

// VotingService implements the decentralized-collaboration voting
// primitive: proposals, one active vote per voter, and pluggable
// decision strategies.
type VotingService struct {
	mu        sync.Mutex
	proposals map[string]*Proposal
	// votes maps proposal id -> voter -> in favor.
	votes map[string]map[string]bool
	// voterProposal tracks each voter's single active proposal, to
	// enforce "at most one active vote per voter" (spec §4.7.1).
	voterProposal map[string]string
	strategy      DecisionStrategy
	teamSize      int
}

// NewVotingService constructs a VotingService for a team of teamSize
// members, deciding by strategy.
func NewVotingService(strategy DecisionStrategy, teamSize int) *VotingService {
	return &VotingService{
		proposals:     make(map[string]*Proposal),
		votes:         make(map[string]map[string]bool),
		voterProposal: make(map[string]string),
		strategy:      strategy,
		teamSize:      teamSize,
	}
}

// Propose registers a new active proposal; the proposer's favorable
// vote is recorded automatically.
func (v *VotingService) Propose(proposer, content, reasoning string, ttl time.Duration) *Proposal {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := time.Now()
	p := &Proposal{
		ID:        ulid.Make().String(),
		Content:   content,
		Reasoning: reasoning,
		Proposer:  proposer,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Status:    ProposalActive,
	}
	v.proposals[p.ID] = p
	v.recordVote(p.ID, proposer, true)
	return p
}

// Vote records voter's in-favor/against vote for proposalID, removing
// any prior active vote that voter held (per-voter invariant).
func (v *VotingService) Vote(proposalID, voter string, inFavor bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.proposals[proposalID]; !ok {
		return fmt.Errorf("team: unknown proposal %q", proposalID)
	}
	v.recordVote(proposalID, voter, inFavor)
	return nil
}

func (v *VotingService) recordVote(proposalID, voter string, inFavor bool) {
	if prior, ok := v.voterProposal[voter]; ok && prior != proposalID {
		delete(v.votes[prior], voter)
	}
	if v.votes[proposalID] == nil {
		v.votes[proposalID] = make(map[string]bool)
	}
	v.votes[proposalID][voter] = inFavor
	v.voterProposal[voter] = proposalID
}

// GetProposal returns proposalID, or nil if unknown.
func (v *VotingService) GetProposal(proposalID string) *Proposal {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.proposals[proposalID]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// ListActiveProposals returns every proposal currently active.
func (v *VotingService) ListActiveProposals() []*Proposal {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*Proposal, 0, len(v.proposals))
	for _, p := range v.proposals {
		if p.Status == ProposalActive {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (v *VotingService) votesInFavor(proposalID string) int {
	count := 0
	for _, inFavor := range v.votes[proposalID] {
		if inFavor {
			count++
		}
	}
	return count
}

// GetDecision applies the configured strategy against all active
// proposals, returning the winning content, or "" if no decision.
func (v *VotingService) GetDecision() (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	active := make([]*Proposal, 0, len(v.proposals))
	for _, p := range v.proposals {
		if p.Status == ProposalActive {
			active = append(active, p)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.Before(active[j].CreatedAt) })
	if len(active) == 0 {
		return "", false
	}

	switch v.strategy {
	case FirstComeFirstServe:
		return active[0].Content, true

	case MajorityVote:
		for _, p := range active {
			if v.votesInFavor(p.ID) > v.teamSize/2 {
				return p.Content, true
			}
		}
		return "", false

	case PluralityVote:
		type tally struct {
			proposal *Proposal
			count    int
		}
		tallies := make([]tally, 0, len(active))
		castVotes := 0
		for _, p := range active {
			c := v.votesInFavor(p.ID)
			tallies = append(tallies, tally{p, c})
			castVotes += c
		}
		sort.Slice(tallies, func(i, j int) bool {
			if tallies[i].count != tallies[j].count {
				return tallies[i].count > tallies[j].count
			}
			return tallies[i].proposal.CreatedAt.Before(tallies[j].proposal.CreatedAt)
		})
		remaining := v.teamSize - castVotes
		if len(tallies) == 1 {
			if remaining == 0 {
				return tallies[0].proposal.Content, true
			}
			return "", false
		}
		lead := tallies[0].count - tallies[1].count
		if remaining == 0 || lead > remaining {
			return tallies[0].proposal.Content, true
		}
		return "", false

	default:
		return "", false
	}
}
