package harness

import (
	"fmt"
)

// Violation is one detected safety breach.
type Violation struct {
	Kind        string
	Description string
}

// CheckInvariants inspects the cluster's current state against the core
// safety properties: at most one leader per term, log matching across
// nodes, and per-node index ordering.
func (c *Cluster) CheckInvariants() []Violation {
	var violations []Violation

	// Election safety: at most one leader for the current term.
	leadersByTerm := make(map[uint64][]string)
	for _, n := range c.Nodes {
		if c.stopped[n.ID()] {
			continue
		}
		if n.Role().String() == "Leader" {
			term := n.Term()
			leadersByTerm[term] = append(leadersByTerm[term], n.ID())
		}
	}
	for term, leaders := range leadersByTerm {
		if len(leaders) > 1 {
			violations = append(violations, Violation{
				Kind:        "ELECTION_SAFETY",
				Description: fmt.Sprintf("term %d has %d leaders: %v", term, len(leaders), leaders),
			})
		}
	}

	// Log matching: equal (index, term) implies equal command, and all
	// committed prefixes agree.
	type slot struct {
		node  string
		term  uint64
		key   string
		value string
		kind  int
	}
	byIndex := make(map[uint64][]slot)
	for _, n := range c.Nodes {
		if c.stopped[n.ID()] {
			continue
		}
		commit := n.CommitIndex()
		for _, e := range n.Entries() {
			if e.Index > commit {
				continue
			}
			byIndex[e.Index] = append(byIndex[e.Index], slot{
				node:  n.ID(),
				term:  e.Term,
				key:   e.Command.Key,
				value: e.Command.Value,
				kind:  int(e.Command.Type),
			})
		}
	}
	for index, slots := range byIndex {
		ref := slots[0]
		for _, s := range slots[1:] {
			if s.term != ref.term || s.kind != ref.kind || s.key != ref.key || s.value != ref.value {
				violations = append(violations, Violation{
					Kind: "LOG_MATCHING",
					Description: fmt.Sprintf(
						"committed entries diverge at index %d: %s has (term=%d key=%q) vs %s (term=%d key=%q)",
						index, ref.node, ref.term, ref.key, s.node, s.term, s.key),
				})
				break
			}
		}
	}

	// Index ordering per node: lastApplied <= commitIndex <= lastIndex.
	for _, n := range c.Nodes {
		if c.stopped[n.ID()] {
			continue
		}
		applied, commit, last := n.LastApplied(), n.CommitIndex(), n.LastLogIndex()
		if applied > commit || commit > last {
			violations = append(violations, Violation{
				Kind: "INDEX_ORDER",
				Description: fmt.Sprintf("%s: lastApplied=%d commitIndex=%d lastIndex=%d",
					n.ID(), applied, commit, last),
			})
		}
	}

	return violations
}
