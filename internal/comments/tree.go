package comments

// tree is an owned arena copy of a decoded comment list. Nodes never alias the
// slices of the decoded document; encoding rebuilds a fresh nested list.
type tree struct {
	nodes []node
	roots []int
	// index maps an id to its first node in pre-order, which is the node a
	// depth-first search from the first root would hit first.
	index map[string]int
}

type node struct {
	comment  Comment
	children []int
}

func buildTree(list []Comment) *tree {
	t := &tree{index: make(map[string]int)}
	t.roots = t.addAll(list)
	return t
}

func (t *tree) addAll(list []Comment) []int {
	ids := make([]int, 0, len(list))
	for _, c := range list {
		ids = append(ids, t.add(c))
	}
	return ids
}

func (t *tree) add(c Comment) int {
	replies := c.Replies
	c.Replies = nil
	idx := len(t.nodes)
	t.nodes = append(t.nodes, node{comment: c})
	if _, seen := t.index[c.ID]; !seen {
		t.index[c.ID] = idx
	}
	children := t.addAll(replies)
	t.nodes[idx].children = children
	return idx
}

func (t *tree) find(id string) (*Comment, bool) {
	idx, ok := t.index[id]
	if !ok {
		return nil, false
	}
	return &t.nodes[idx].comment, true
}

func (t *tree) prependRoot(c Comment) {
	idx := t.add(c)
	t.roots = append([]int{idx}, t.roots...)
}

// prependReply inserts c at the front of the reply list of parentID.
func (t *tree) prependReply(parentID string, c Comment) bool {
	parent, ok := t.index[parentID]
	if !ok {
		return false
	}
	idx := t.add(c)
	t.nodes[parent].children = append([]int{idx}, t.nodes[parent].children...)
	return true
}

func (t *tree) comments() []Comment {
	return t.collect(t.roots)
}

func (t *tree) collect(ids []int) []Comment {
	out := make([]Comment, 0, len(ids))
	for _, idx := range ids {
		c := t.nodes[idx].comment
		c.Replies = t.collect(t.nodes[idx].children)
		out = append(out, c)
	}
	return out
}
