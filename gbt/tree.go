package gbt

import "math"

// Node is one entry of a flattened tree. Internal nodes keep the value they
// would have as a leaf so path contributions can be computed.
type Node struct {
	Feature     int
	Threshold   float64
	MissingLeft bool
	Left        int
	Right       int
	Leaf        bool
	Value       float64
	Gain        float64
	Cover       float64
}

// Tree stores nodes in creation order; Nodes[0] is the root.
type Tree struct {
	Nodes []Node
}

func (n *Node) goesLeft(v float64) bool {
	if math.IsNaN(v) {
		return n.MissingLeft
	}
	return v <= n.Threshold
}

func (t *Tree) predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if n.goesLeft(x[n.Feature]) {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// contribute adds the value change along x's path to phi, keyed by the
// feature of the node that was split.
func (t *Tree) contribute(x []float64, phi []float64) {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return
		}
		next := n.Right
		if n.goesLeft(x[n.Feature]) {
			next = n.Left
		}
		phi[n.Feature] += t.Nodes[next].Value - n.Value
		i = next
	}
}

func (t *Tree) depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := &t.Nodes[i]
		if n.Leaf {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}
