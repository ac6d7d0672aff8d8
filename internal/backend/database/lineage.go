package database

// LineageNode is the minimal projection of an image needed to walk the forest.
type LineageNode struct {
	ID         string  `db:"id"`
	ParentID   *string `db:"parent_id"`
	IsRejected bool    `db:"is_rejected"`
}

// Forest is an in-memory view of the parent/child relation. Cycles cannot exist
// because a child is only ever created pointing at an already persisted id.
type Forest struct {
	children map[string][]string
	rejected map[string]bool
}

func NewForest(nodes []LineageNode) *Forest {
	forest := &Forest{
		children: make(map[string][]string, len(nodes)),
		rejected: make(map[string]bool),
	}
	for _, node := range nodes {
		if node.IsRejected {
			forest.rejected[node.ID] = true
		}
		if node.ParentID != nil {
			parent := *node.ParentID
			forest.children[parent] = append(forest.children[parent], node.ID)
		}
	}
	return forest
}

// DescendantCount walks breadth first through non-rejected children only.
func (f *Forest) DescendantCount(id string) int {
	count := 0
	queue := []string{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range f.children[current] {
			if f.rejected[child] {
				continue
			}
			count++
			queue = append(queue, child)
		}
	}
	return count
}
