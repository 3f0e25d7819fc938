package forest

// A Node represents a splitting decision of the form "x[FeatureIndex] < Threshold ?"
type Node struct {
	// FeatureIndex indicates which feature is used in this splitting decision
	FeatureIndex int `json:"feature_index"`
	// Threshold indicates the cutoff value between the left and right subtrees
	Threshold float64 `json:"threshold"`
	// LeftChild is the index of the left subtree, in Nodes or in Leaves
	LeftChild int `json:"left_child"`
	// LeftIsLeaf indicates whether LeftChild indexes Leaves
	LeftIsLeaf bool `json:"left_is_leaf"`
	// RightChild is the index of the right subtree, in Nodes or in Leaves
	RightChild int `json:"right_child"`
	// RightIsLeaf indicates whether RightChild indexes Leaves
	RightIsLeaf bool `json:"right_is_leaf"`
}

// A Tree is a classification tree stored as a flat list of nodes. A tree
// without nodes is a single leaf.
type Tree struct {
	// Nodes is a flat list of all splitting nodes; Nodes[0] is the root
	Nodes []Node `json:"nodes"`
	// Leaves holds the class distribution of each bin
	Leaves [][]float64 `json:"leaves"`
	// FeatureSize is the length of feature vectors processed by this tree
	FeatureSize int `json:"feature_size"`
	// Depth is the maximum depth of any leaf in the tree
	Depth int `json:"depth"`
}

// Bin drops a feature vector down the tree and returns the index of the leaf
// it ends up in.
func (t *Tree) Bin(x []float64) int {
	if len(x) != t.FeatureSize {
		panic("feature vector had incorrect length")
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	cur := t.Nodes[0]
	for i := 0; i < t.Depth; i++ {
		if x[cur.FeatureIndex] < cur.Threshold {
			if cur.LeftIsLeaf {
				return cur.LeftChild
			}
			cur = t.Nodes[cur.LeftChild]
		} else {
			if cur.RightIsLeaf {
				return cur.RightChild
			}
			cur = t.Nodes[cur.RightChild]
		}
	}
	panic("tree traversal did not terminate")
}

// Probabilities returns the class distribution of the leaf x falls into.
func (t *Tree) Probabilities(x []float64) []float64 {
	return t.Leaves[t.Bin(x)]
}
