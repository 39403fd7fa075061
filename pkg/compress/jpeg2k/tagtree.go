package jpeg2k

import "fmt"

// TagTreeSentinel is the value of a node nothing has been learned about. It
// is also the largest leaf value and thresholds stay below it.
const TagTreeSentinel = 999

// BitSink receives the decision bits a tag-tree emits.
type BitSink interface {
	WriteBit(bit int) error
}

// BitSource supplies the decision bits a tag-tree consumes.
type BitSource interface {
	ReadBit() (int, error)
}

type tagNode struct {
	value  int32
	low    int32 // Lower bound signalled so far
	known  bool  // Exact value signalled
	parent int32 // Arena index, -1 for the root
}

// TagTree is the quad-tree of ITU-T T.800 B.10.2 used for code-block
// inclusion and zero bit-plane signalling. Nodes live in one arena, leaves
// first, then each reduced level up to the root.
type TagTree struct {
	width, height int
	levelW        []int
	levelH        []int
	levelOff      []int
	nodes         []tagNode
	stack         []int32
}

// NewTagTree builds a tag-tree over a w x h leaf grid.
func NewTagTree(w, h int) (*TagTree, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: tag-tree of %dx%d leaves", ErrConfiguration, w, h)
	}
	t := &TagTree{width: w, height: h}
	n := 0
	for {
		t.levelW = append(t.levelW, w)
		t.levelH = append(t.levelH, h)
		t.levelOff = append(t.levelOff, n)
		n += w * h
		if w == 1 && h == 1 {
			break
		}
		w, h = (w+1)/2, (h+1)/2
	}
	t.nodes = make([]tagNode, n)
	t.stack = make([]int32, 0, len(t.levelW))

	for l := range t.levelW {
		for y := 0; y < t.levelH[l]; y++ {
			for x := 0; x < t.levelW[l]; x++ {
				parent := int32(-1)
				if l+1 < len(t.levelW) {
					parent = int32(t.levelOff[l+1] + (y/2)*t.levelW[l+1] + x/2)
				}
				t.nodes[t.levelOff[l]+y*t.levelW[l]+x].parent = parent
			}
		}
	}
	t.Reset()
	return t, nil
}

// Width returns the leaf grid width
func (t *TagTree) Width() int { return t.width }

// Height returns the leaf grid height
func (t *TagTree) Height() int { return t.height }

// NumNodes returns the number of nodes over all levels
func (t *TagTree) NumNodes() int { return len(t.nodes) }

// Reset sets every node to the sentinel with nothing signalled.
func (t *TagTree) Reset() {
	for i := range t.nodes {
		t.nodes[i].value = TagTreeSentinel
		t.nodes[i].low = 0
		t.nodes[i].known = false
	}
}

// Zero prepares the tree for decoding: every lower bound back to 0 and no
// value known until the bits for it are read.
func (t *TagTree) Zero() {
	t.Reset()
}

// Rewind forgets what has been signalled while keeping the leaf values, so
// an encoder can emit the same decisions again.
func (t *TagTree) Rewind() {
	for i := range t.nodes {
		t.nodes[i].low = 0
		t.nodes[i].known = false
	}
}

func checkThreshold(threshold int) error {
	if threshold < 0 || threshold >= TagTreeSentinel {
		return fmt.Errorf("%w: tag-tree threshold %d outside [0,%d)", ErrConfiguration, threshold, TagTreeSentinel)
	}
	return nil
}

func (t *TagTree) leaf(x, y int) (int, error) {
	if x < 0 || y < 0 || x >= t.width || y >= t.height {
		return 0, fmt.Errorf("%w: tag-tree leaf (%d,%d) outside %dx%d", ErrConsistency, x, y, t.width, t.height)
	}
	return y*t.width + x, nil
}

// Value returns the current value of leaf (x, y).
func (t *TagTree) Value(x, y int) (int, error) {
	i, err := t.leaf(x, y)
	if err != nil {
		return 0, err
	}
	return int(t.nodes[i].value), nil
}

// RootValue returns the value of the root, the minimum over all leaves once
// they are set.
func (t *TagTree) RootValue() int {
	return int(t.nodes[len(t.nodes)-1].value)
}

// SetValue sets leaf (x, y) and recomputes each ancestor as the minimum of
// its children. v is in [0, TagTreeSentinel]; a leaf at the sentinel is
// never decided.
func (t *TagTree) SetValue(x, y, v int) error {
	i, err := t.leaf(x, y)
	if err != nil {
		return err
	}
	if v < 0 || v > TagTreeSentinel {
		return fmt.Errorf("%w: tag-tree value %d outside [0,%d]", ErrConfiguration, v, TagTreeSentinel)
	}
	t.nodes[i].value = int32(v)
	for l := 1; l < len(t.levelW); l++ {
		x, y = x/2, y/2
		m := int32(TagTreeSentinel)
		for cy := 2 * y; cy < min(2*y+2, t.levelH[l-1]); cy++ {
			for cx := 2 * x; cx < min(2*x+2, t.levelW[l-1]); cx++ {
				m = min(m, t.nodes[t.levelOff[l-1]+cy*t.levelW[l-1]+cx].value)
			}
		}
		t.nodes[t.levelOff[l]+y*t.levelW[l]+x].value = m
	}
	return nil
}

// path loads the stack with the leaf's ancestors, root on top.
func (t *TagTree) path(leaf int) {
	t.stack = t.stack[:0]
	for n := int32(leaf); n >= 0; n = t.nodes[n].parent {
		t.stack = append(t.stack, n)
	}
}

// Encode emits the bits that let a decoder tell whether leaf (x, y) is at
// most threshold. It reports whether that is the case.
func (t *TagTree) Encode(w BitSink, x, y, threshold int) (bool, error) {
	leaf, err := t.leaf(x, y)
	if err != nil {
		return false, err
	}
	if err := checkThreshold(threshold); err != nil {
		return false, err
	}
	limit := int32(threshold + 1)
	t.path(leaf)

	var low int32
	for s := len(t.stack) - 1; s >= 0; s-- {
		node := &t.nodes[t.stack[s]]
		if low > node.low {
			node.low = low
		} else {
			low = node.low
		}
		for low < limit {
			if low >= node.value {
				if !node.known {
					if err := w.WriteBit(1); err != nil {
						return false, err
					}
					node.known = true
				}
				break
			}
			if err := w.WriteBit(0); err != nil {
				return false, err
			}
			low++
		}
		node.low = low
	}
	return t.nodes[leaf].value < limit, nil
}

// Query consumes the bits needed to decide whether leaf (x, y) is at most
// threshold. When it is, the exact value is returned with done set;
// otherwise the established lower bound threshold+1.
func (t *TagTree) Query(r BitSource, x, y, threshold int) (int, bool, error) {
	leaf, err := t.leaf(x, y)
	if err != nil {
		return 0, false, err
	}
	if err := checkThreshold(threshold); err != nil {
		return 0, false, err
	}
	limit := int32(threshold + 1)
	t.path(leaf)

	var low int32
	for s := len(t.stack) - 1; s >= 0; s-- {
		node := &t.nodes[t.stack[s]]
		if low > node.low {
			node.low = low
		} else {
			low = node.low
		}
		for low < limit && low < node.value {
			bit, err := r.ReadBit()
			if err != nil {
				return 0, false, err
			}
			if bit == 1 {
				node.value = low
				node.known = true
			} else {
				low++
			}
		}
		node.low = low
	}
	node := &t.nodes[leaf]
	if node.value < limit {
		return int(node.value), true, nil
	}
	return int(node.low), false, nil
}
