package dkg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/chaoschain/gateway/chain"
)

// Errors returned by Compute.
var (
	ErrCycle       = errors.New("dkg: evidence graph contains a cycle")
	ErrDuplicateID = errors.New("dkg: duplicate evidence id")
	ErrEmptyID     = errors.New("dkg: evidence id is empty")
	ErrMethod      = errors.New("dkg: unsupported weighting method")
)

// MethodPathCount weights nodes by the number of root-to-terminal paths
// that pass through them.
const MethodPathCount = "path_count"

// DefaultVersion is reported in Result.Version when Config leaves it empty.
const DefaultVersion = "1.0"

// EvidencePackage is one signed unit of agent work. Packages are produced
// upstream; Compute only reads them.
type EvidencePackage struct {
	ID          string        `json:"id" yaml:"id"`
	Author      chain.Address `json:"author" yaml:"author"`
	Timestamp   time.Time     `json:"timestamp" yaml:"timestamp"`
	ParentIDs   []string      `json:"parent_ids,omitempty" yaml:"parent_ids"`
	PayloadHash chain.Hash    `json:"payload_hash" yaml:"payload_hash"`
	Signature   hexutil.Bytes `json:"signature,omitempty" yaml:"signature"`
}

// Config selects the weighting method and the version label of a result.
type Config struct {
	Version string `json:"version,omitempty" yaml:"version"`
	Method  string `json:"method,omitempty" yaml:"method"`
}

func (c Config) withDefaults() Config {
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.Method == "" {
		c.Method = MethodPathCount
	}
	return c
}

// Node is a package placed in the DAG. Parents holds only parents present
// in the evidence set; Children is the reverse relation. Both are sorted.
type Node struct {
	ID            string        `json:"id"`
	Author        chain.Address `json:"author"`
	Parents       []string      `json:"parents"`
	Children      []string      `json:"children"`
	Clock         uint64        `json:"clock"`
	VLC           chain.Hash    `json:"vlc"`
	CanonicalHash chain.Hash    `json:"canonical_hash"`
	Paths         string        `json:"paths"`
}

// DAG is the causal graph keyed by package id.
type DAG struct {
	Nodes     map[string]*Node `json:"nodes"`
	Roots     []string         `json:"roots"`
	Terminals []string         `json:"terminals"`
}

// Result is the output of Compute.
type Result struct {
	DAG          DAG                       `json:"dag"`
	Weights      map[chain.Address]float64 `json:"weights"`
	EvidenceRoot chain.Hash                `json:"evidence_root"`
	ThreadRoot   chain.Hash                `json:"thread_root"`
	Version      string                    `json:"version"`
}

// Compute builds the DAG for evidence and derives weights and roots from it.
func Compute(evidence []EvidencePackage, cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()
	if cfg.Method != MethodPathCount {
		return nil, fmt.Errorf("%w: %q", ErrMethod, cfg.Method)
	}

	res := &Result{
		DAG:     DAG{Nodes: map[string]*Node{}, Roots: []string{}, Terminals: []string{}},
		Weights: map[chain.Address]float64{},
		Version: cfg.Version,
	}
	if len(evidence) == 0 {
		return res, nil
	}

	byID, err := index(evidence)
	if err != nil {
		return nil, err
	}

	nodes := buildNodes(byID)
	order, err := topoOrder(nodes)
	if err != nil {
		return nil, err
	}

	for _, nid := range order {
		n := nodes[nid]
		n.Clock = 1
		maxVLC := chain.ZeroHash
		for _, pid := range n.Parents {
			p := nodes[pid]
			if p.Clock+1 > n.Clock {
				n.Clock = p.Clock + 1
			}
			if bytes.Compare(p.VLC[:], maxVLC[:]) > 0 {
				maxVLC = p.VLC
			}
		}
		payload := byID[nid].PayloadHash
		n.VLC = chain.Keccak256(payload[:], maxVLC[:])
		n.CanonicalHash = canonicalHash(byID[nid])
	}

	ids := sortedKeys(nodes)
	for _, nid := range ids {
		n := nodes[nid]
		if len(n.Parents) == 0 {
			res.DAG.Roots = append(res.DAG.Roots, nid)
		}
		if len(n.Children) == 0 {
			res.DAG.Terminals = append(res.DAG.Terminals, nid)
		}
	}

	paths := pathCounts(nodes, order)
	for nid, p := range paths {
		nodes[nid].Paths = p.String()
	}
	res.Weights = authorWeights(nodes, ids, paths)

	res.ThreadRoot = threadRoot(nodes)
	res.EvidenceRoot = evidenceRoot(evidence)
	res.DAG.Nodes = nodes

	return res, nil
}

func index(evidence []EvidencePackage) (map[string]EvidencePackage, error) {
	byID := make(map[string]EvidencePackage, len(evidence))
	for _, ev := range evidence {
		if ev.ID == "" {
			return nil, ErrEmptyID
		}
		if _, dup := byID[ev.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, ev.ID)
		}
		byID[ev.ID] = ev
	}
	return byID, nil
}

func buildNodes(byID map[string]EvidencePackage) map[string]*Node {
	nodes := make(map[string]*Node, len(byID))
	for nid, ev := range byID {
		nodes[nid] = &Node{ID: nid, Author: ev.Author, Parents: []string{}, Children: []string{}}
	}
	for nid, ev := range byID {
		seen := map[string]bool{}
		for _, pid := range ev.ParentIDs {
			if _, ok := nodes[pid]; !ok || seen[pid] {
				continue
			}
			seen[pid] = true
			nodes[nid].Parents = append(nodes[nid].Parents, pid)
			nodes[pid].Children = append(nodes[pid].Children, nid)
		}
	}
	for _, n := range nodes {
		slices.Sort(n.Parents)
		slices.Sort(n.Children)
	}
	return nodes
}

// topoOrder returns ids parents-first, breaking ties by id. Nodes left over
// once no zero in-degree node remains sit on a cycle.
func topoOrder(nodes map[string]*Node) ([]string, error) {
	indeg := make(map[string]int, len(nodes))
	var ready []string
	for nid, n := range nodes {
		indeg[nid] = len(n.Parents)
		if len(n.Parents) == 0 {
			ready = append(ready, nid)
		}
	}
	slices.Sort(ready)

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		nid := ready[0]
		ready = ready[1:]
		order = append(order, nid)

		for _, cid := range nodes[nid].Children {
			indeg[cid]--
			if indeg[cid] == 0 {
				ready = insertSorted(ready, cid)
			}
		}
	}

	if len(order) != len(nodes) {
		var stuck []string
		for nid, d := range indeg {
			if d > 0 {
				stuck = append(stuck, nid)
			}
		}
		slices.Sort(stuck)
		return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(stuck, ", "))
	}
	return order, nil
}

func insertSorted(s []string, v string) []string {
	i, _ := slices.BinarySearch(s, v)
	return slices.Insert(s, i, v)
}

// pathCounts returns, per node, (#paths root→node) × (#paths node→terminal).
func pathCounts(nodes map[string]*Node, order []string) map[string]*big.Int {
	from := make(map[string]*big.Int, len(nodes))
	for _, nid := range order {
		n := nodes[nid]
		if len(n.Parents) == 0 {
			from[nid] = big.NewInt(1)
			continue
		}
		sum := new(big.Int)
		for _, pid := range n.Parents {
			sum.Add(sum, from[pid])
		}
		from[nid] = sum
	}

	to := make(map[string]*big.Int, len(nodes))
	for i := len(order) - 1; i >= 0; i-- {
		n := nodes[order[i]]
		if len(n.Children) == 0 {
			to[n.ID] = big.NewInt(1)
			continue
		}
		sum := new(big.Int)
		for _, cid := range n.Children {
			sum.Add(sum, to[cid])
		}
		to[n.ID] = sum
	}

	out := make(map[string]*big.Int, len(nodes))
	for nid := range nodes {
		out[nid] = new(big.Int).Mul(from[nid], to[nid])
	}
	return out
}

func authorWeights(nodes map[string]*Node, ids []string, paths map[string]*big.Int) map[chain.Address]float64 {
	raw := map[chain.Address]*big.Int{}
	var authors []chain.Address
	total := new(big.Int)

	for _, nid := range ids {
		a := nodes[nid].Author
		if _, ok := raw[a]; !ok {
			raw[a] = new(big.Int)
			authors = append(authors, a)
		}
		raw[a].Add(raw[a], paths[nid])
		total.Add(total, paths[nid])
	}

	weights := make(map[chain.Address]float64, len(raw))
	if total.Sign() == 0 {
		return weights
	}

	slices.SortFunc(authors, func(x, y chain.Address) int { return bytes.Compare(x[:], y[:]) })
	for _, a := range authors {
		w, _ := new(big.Rat).SetFrac(raw[a], total).Float64()
		weights[a] = w
	}
	return weights
}

func threadRoot(nodes map[string]*Node) chain.Hash {
	ordered := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		ordered = append(ordered, n)
	}
	slices.SortFunc(ordered, func(a, b *Node) int {
		switch {
		case a.Clock < b.Clock:
			return -1
		case a.Clock > b.Clock:
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})

	leaves := make([]chain.Hash, len(ordered))
	for i, n := range ordered {
		leaves[i] = n.CanonicalHash
	}
	return MerkleRoot(leaves)
}

func evidenceRoot(evidence []EvidencePackage) chain.Hash {
	leaves := make([]chain.Hash, len(evidence))
	for i, ev := range evidence {
		leaves[i] = ev.PayloadHash
	}
	slices.SortFunc(leaves, func(a, b chain.Hash) int { return bytes.Compare(a[:], b[:]) })
	return MerkleRoot(leaves)
}

// canonicalHash commits to every field of a package except its signature:
// author, timestamp in unix milliseconds, id, payload hash and the declared
// parent ids in order. Variable length fields are length prefixed.
func canonicalHash(ev EvidencePackage) chain.Hash {
	var buf bytes.Buffer
	buf.Write(ev.Author[:])
	_ = binary.Write(&buf, binary.BigEndian, ev.Timestamp.UnixMilli())
	writeString(&buf, ev.ID)
	buf.Write(ev.PayloadHash[:])
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ev.ParentIDs)))
	for _, pid := range ev.ParentIDs {
		writeString(&buf, pid)
	}
	return chain.Keccak256(buf.Bytes())
}

func writeString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(s)))
	buf.WriteString(s)
}

// HashPayload returns the keccak256 hash used as a package's payload hash.
func HashPayload(payload []byte) chain.Hash {
	return chain.Keccak256(payload)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
