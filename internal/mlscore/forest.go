package mlscore

import (
	"encoding/json"
	"fmt"
	"os"
)

// Node is one node of a regression tree. Left/Right are indexes into the
// tree's node slice; a node with Left < 0 is a leaf and Value is its output.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
}

// Tree is one regression tree; node 0 is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Forest is a serialized tree ensemble. The prediction is the mean of the
// per-tree outputs, clamped to [0,1].
type Forest struct {
	Trees []Tree `json:"trees"`
}

// LoadForest reads and validates a JSON-serialized forest model.
// The model file is a deployment artifact; callers treat a missing file as
// degraded mode (nil scorer, null score), not a startup failure.
func LoadForest(path string) (*Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}

	var f Forest
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if len(f.Trees) == 0 {
		return nil, fmt.Errorf("model %s contains no trees", path)
	}

	for ti, tree := range f.Trees {
		if len(tree.Nodes) == 0 {
			return nil, fmt.Errorf("tree %d is empty", ti)
		}
		for ni, n := range tree.Nodes {
			if n.Left < 0 {
				continue // leaf
			}
			if n.Feature < 0 || n.Feature >= NumFeatures {
				return nil, fmt.Errorf("tree %d node %d: feature index %d out of range", ti, ni, n.Feature)
			}
			if n.Left >= len(tree.Nodes) || n.Right < 0 || n.Right >= len(tree.Nodes) {
				return nil, fmt.Errorf("tree %d node %d: child index out of range", ti, ni)
			}
		}
	}
	return &f, nil
}

// Score evaluates the ensemble on a feature vector.
func (f *Forest) Score(fv FeatureVector) (float64, error) {
	var sum float64
	for ti := range f.Trees {
		v, err := f.Trees[ti].eval(fv)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", ti, err)
		}
		sum += v
	}
	score := sum / float64(len(f.Trees))
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

func (t *Tree) eval(fv FeatureVector) (float64, error) {
	idx := 0
	for steps := 0; steps <= len(t.Nodes); steps++ {
		n := t.Nodes[idx]
		if n.Left < 0 {
			return n.Value, nil
		}
		if fv[n.Feature] <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
	return 0, fmt.Errorf("cycle detected at node %d", idx)
}
