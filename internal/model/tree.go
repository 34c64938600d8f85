package model

import "sort"

// node is one regression-tree node. Rows with x[Feature] < Threshold go left.
type node struct {
	Leaf      bool
	Value     float64
	Feature   int
	Threshold float64
	Left      int
	Right     int
}

type tree struct {
	nodes []node
}

func (t *tree) predict(row []float64) float64 {
	i := 0
	for {
		n := &t.nodes[i]
		if n.Leaf {
			return n.Value
		}
		if row[n.Feature] < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type split struct {
	gain      float64
	feature   int
	threshold float64
	ok        bool
}

// treeBuilder grows one tree level by level with exact greedy split search.
// sorted[f] holds row indices ordered by feature f and is shared by every tree.
type treeBuilder struct {
	p      Params
	x      [][]float64
	sorted [][]int
}

func newTreeBuilder(p Params, x [][]float64) *treeBuilder {
	dims := len(x[0])
	sorted := make([][]int, dims)
	for f := 0; f < dims; f++ {
		idx := make([]int, len(x))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]][f] < x[idx[b]][f] })
		sorted[f] = idx
	}
	return &treeBuilder{p: p, x: x, sorted: sorted}
}

// build fits a tree to gradients g and hessians h and returns it together with
// the leaf value reached by every training row.
func (b *treeBuilder) build(g, h []float64) (*tree, []float64) {
	n := len(g)
	t := &tree{nodes: []node{{}}}
	pos := make([]int, n) // 每行当前所在节点
	var G0, H0 float64
	for i := 0; i < n; i++ {
		G0 += g[i]
		H0 += h[i]
	}
	sumG := []float64{G0}
	sumH := []float64{H0}
	frontier := []int{0}

	for depth := 0; depth < b.p.MaxDepth && len(frontier) > 0; depth++ {
		best := b.findSplits(frontier, pos, g, h, sumG, sumH, len(t.nodes))

		var next []int
		for _, id := range frontier {
			s := best[id]
			if !s.ok {
				b.makeLeaf(t, id, sumG[id], sumH[id])
				continue
			}
			left, right := len(t.nodes), len(t.nodes)+1
			t.nodes = append(t.nodes, node{}, node{})
			sumG = append(sumG, 0, 0)
			sumH = append(sumH, 0, 0)
			t.nodes[id] = node{Feature: s.feature, Threshold: s.threshold, Left: left, Right: right}
			next = append(next, left, right)
		}
		for i := 0; i < n; i++ {
			nd := t.nodes[pos[i]]
			if nd.Leaf || (nd.Left == 0 && nd.Right == 0) {
				continue
			}
			if b.x[i][nd.Feature] < nd.Threshold {
				pos[i] = nd.Left
			} else {
				pos[i] = nd.Right
			}
			sumG[pos[i]] += g[i]
			sumH[pos[i]] += h[i]
		}
		frontier = next
	}
	for _, id := range frontier {
		b.makeLeaf(t, id, sumG[id], sumH[id])
	}

	out := make([]float64, n)
	for i := range out {
		out[i] = t.nodes[pos[i]].Value
	}
	return t, out
}

func (b *treeBuilder) makeLeaf(t *tree, id int, G, H float64) {
	t.nodes[id] = node{Leaf: true, Value: -G / (H + b.p.Lambda) * b.p.LearningRate}
}

// findSplits scans every feature once in sorted order, keeping running
// left-side sums per frontier node.
func (b *treeBuilder) findSplits(frontier, pos []int, g, h, sumG, sumH []float64, size int) []split {
	active := make([]bool, size)
	for _, id := range frontier {
		active[id] = true
	}
	best := make([]split, size)
	gl := make([]float64, size)
	hl := make([]float64, size)
	last := make([]float64, size)
	seen := make([]bool, size)

	for f, order := range b.sorted {
		for _, id := range frontier {
			gl[id], hl[id], seen[id] = 0, 0, false
		}
		for _, i := range order {
			id := pos[i]
			if !active[id] {
				continue
			}
			v := b.x[i][f]
			if seen[id] && v > last[id] {
				GL, HL := gl[id], hl[id]
				GR, HR := sumG[id]-GL, sumH[id]-HL
				if HL >= b.p.MinChildWeight && HR >= b.p.MinChildWeight {
					gain := 0.5*(score(GL, HL, b.p.Lambda)+score(GR, HR, b.p.Lambda)-score(sumG[id], sumH[id], b.p.Lambda)) - b.p.Gamma
					if gain > 0 && (!best[id].ok || gain > best[id].gain) {
						best[id] = split{gain: gain, feature: f, threshold: (last[id] + v) / 2, ok: true}
					}
				}
			}
			gl[id] += g[i]
			hl[id] += h[i]
			last[id] = v
			seen[id] = true
		}
	}
	return best
}

func score(G, H, lambda float64) float64 {
	return G * G / (H + lambda)
}
