package gbt

import "context"

// grower builds one tree depth-first. Node histograms come either from a
// pass over the node's rows or, for the larger child, from the parent minus
// its sibling.
type grower struct {
	data   *binned
	active []int
	grad   []float64
	hess   []float64
	p      Params

	nodes []Node
}

func (g *grower) grow(ctx context.Context, rows []int) (Tree, error) {
	hist := newHistogram(len(g.data.edges), g.active)
	if err := hist.build(ctx, g.data, g.active, rows, g.grad, g.hess, g.p.Workers); err != nil {
		return Tree{}, err
	}
	if _, err := g.node(ctx, rows, g.total(rows), hist, 0); err != nil {
		return Tree{}, err
	}
	return Tree{Nodes: g.nodes}, nil
}

func (g *grower) total(rows []int) binStat {
	var s binStat
	for _, r := range rows {
		s.g += g.grad[r]
		s.h += g.hess[r]
	}
	s.n = len(rows)
	return s
}

func (g *grower) node(ctx context.Context, rows []int, total binStat, hist histogram, depth int) (int, error) {
	idx := len(g.nodes)
	g.nodes = append(g.nodes, Node{
		Leaf:  true,
		Value: g.p.LearningRate * leafValue(total, g.p.Lambda),
		Cover: total.h,
	})

	if depth >= g.p.MaxDepth || total.n < 2*g.p.MinSamplesLeaf || total.h < 2*g.p.MinHessian {
		return idx, nil
	}
	best, err := hist.bestSplit(ctx, g.data, g.active, total, g.p)
	if err != nil {
		return 0, err
	}
	if !best.valid() {
		return idx, nil
	}

	leftRows, rightRows := g.partition(rows, best)

	small, large := leftRows, rightRows
	if len(small) > len(large) {
		small, large = large, small
	}
	smallHist := newHistogram(len(g.data.edges), g.active)
	if err := smallHist.build(ctx, g.data, g.active, small, g.grad, g.hess, g.p.Workers); err != nil {
		return 0, err
	}
	// The parent's histogram is not needed after this, so reuse it.
	hist.subtract(hist, smallHist, g.active)
	leftHist, rightHist := smallHist, hist
	if len(leftRows) > len(rightRows) {
		leftHist, rightHist = hist, smallHist
	}

	left, err := g.node(ctx, leftRows, best.left, leftHist, depth+1)
	if err != nil {
		return 0, err
	}
	right, err := g.node(ctx, rightRows, best.right, rightHist, depth+1)
	if err != nil {
		return 0, err
	}

	n := &g.nodes[idx]
	n.Leaf = false
	n.Feature = best.feature
	n.Threshold = g.data.edges[best.feature][best.bin]
	n.MissingLeft = best.missingLeft
	n.Left = left
	n.Right = right
	n.Gain = best.gain
	return idx, nil
}

func (g *grower) partition(rows []int, s split) ([]int, []int) {
	bins := g.data.bins[s.feature]
	left := make([]int, 0, s.left.n)
	right := make([]int, 0, s.right.n)
	for _, r := range rows {
		b := bins[r]
		var goLeft bool
		if b == missingBin {
			goLeft = s.missingLeft
		} else {
			goLeft = int(b) <= s.bin
		}
		if goLeft {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	return left, right
}
