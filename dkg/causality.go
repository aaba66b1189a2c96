package dkg

import (
	"errors"
	"fmt"
	"slices"
)

// ErrNoPath is returned by TraceCausalChain when to does not descend from
// from.
var ErrNoPath = errors.New("dkg: no causal path")

// ViolationKind names a class of causality violation.
type ViolationKind string

const (
	ViolationMissingParent ViolationKind = "missing_parent"
	ViolationTimestamp     ViolationKind = "non_monotonic_timestamp"
	ViolationCycle         ViolationKind = "cycle"
	ViolationDuplicate     ViolationKind = "duplicate_id"
)

// Violation describes one problem found by VerifyCausality.
type Violation struct {
	Kind     ViolationKind `json:"kind"`
	ID       string        `json:"id"`
	ParentID string        `json:"parent_id,omitempty"`
	Detail   string        `json:"detail"`
}

// VerifyCausality checks that every declared parent exists, that no package
// is older than one of its parents and that the graph is acyclic. Unlike
// Compute it does not stop at the first problem. The result is sorted by
// package id and is empty for a valid set.
func VerifyCausality(evidence []EvidencePackage) []Violation {
	var out []Violation

	byID := make(map[string]EvidencePackage, len(evidence))
	for _, ev := range evidence {
		if _, dup := byID[ev.ID]; dup {
			out = append(out, Violation{Kind: ViolationDuplicate, ID: ev.ID, Detail: "id appears more than once"})
			continue
		}
		byID[ev.ID] = ev
	}

	for _, ev := range byID {
		for _, pid := range ev.ParentIDs {
			parent, ok := byID[pid]
			if !ok {
				out = append(out, Violation{
					Kind: ViolationMissingParent, ID: ev.ID, ParentID: pid,
					Detail: "parent not in evidence set",
				})
				continue
			}
			if ev.Timestamp.Before(parent.Timestamp) {
				out = append(out, Violation{
					Kind: ViolationTimestamp, ID: ev.ID, ParentID: pid,
					Detail: fmt.Sprintf("timestamp %s precedes parent %s", ev.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"), parent.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")),
				})
			}
		}
	}

	if _, err := topoOrder(buildNodes(byID)); err != nil {
		out = append(out, Violation{Kind: ViolationCycle, Detail: err.Error()})
	}

	slices.SortStableFunc(out, func(a, b Violation) int {
		if a.ID != b.ID {
			if a.ID < b.ID {
				return -1
			}
			return 1
		}
		if a.ParentID < b.ParentID {
			return -1
		}
		if a.ParentID > b.ParentID {
			return 1
		}
		return 0
	})
	return out
}

// TraceCausalChain returns the shortest chain of package ids leading from
// the ancestor from to the descendant to, both included. Ties are broken by
// id so the answer is stable.
func TraceCausalChain(evidence []EvidencePackage, from, to string) ([]string, error) {
	byID, err := index(evidence)
	if err != nil {
		return nil, err
	}
	nodes := buildNodes(byID)
	if _, ok := nodes[from]; !ok {
		return nil, fmt.Errorf("%w: unknown id %s", ErrNoPath, from)
	}
	if _, ok := nodes[to]; !ok {
		return nil, fmt.Errorf("%w: unknown id %s", ErrNoPath, to)
	}

	prev := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			break
		}
		for _, cid := range nodes[cur].Children {
			if _, seen := prev[cid]; seen {
				continue
			}
			prev[cid] = cur
			queue = append(queue, cid)
		}
	}

	if _, ok := prev[to]; !ok {
		return nil, fmt.Errorf("%w: %s does not descend from %s", ErrNoPath, to, from)
	}

	var chainIDs []string
	for cur := to; ; cur = prev[cur] {
		chainIDs = append(chainIDs, cur)
		if cur == from {
			break
		}
	}
	slices.Reverse(chainIDs)
	return chainIDs, nil
}
