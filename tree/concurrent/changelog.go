package concurrent

// changeLogEntry records the effect of a single mutation: the root it
// produced, the node written at each level of the mutated leaf's path
// (leaf-first, excluding the root), and the index of the mutated leaf.
type changeLogEntry struct {
	root  [32]byte
	path  [][32]byte
	index uint64
}

// updateProof patches a proof for leaf `index` so that it stays valid across
// this entry's mutation. Returns false if the entry mutated the same leaf,
// in which case the caller's view of the leaf contents is outdated and the
// proof cannot be carried forward.
func (e *changeLogEntry) updateProof(index uint64, proof [][32]byte) bool {
	if e.index == index {
		return false
	}

	// The two paths diverge at the level of the highest differing index
	// bit. At that level the entry's path node is the proof's sibling.
	critical := highestBit(e.index ^ index)
	if critical < len(proof) {
		proof[critical] = e.path[critical]
	}
	return true
}

// changeLog is the bounded ring of recent mutations. Its capacity is the
// hard limit on how stale a caller's proof may be: a proof computed against
// a root that has since been evicted can no longer be reconciled.
type changeLog struct {
	entries []changeLogEntry
	active  int // position of the most recent entry
	count   int // number of valid entries, at most len(entries)
}

func newChangeLog(depth, bufferSize int) *changeLog {
	entries := make([]changeLogEntry, bufferSize)
	for i := range entries {
		entries[i].path = make([][32]byte, depth)
	}

	// The initial entry records the empty tree so that proofs against the
	// starting root validate like any other.
	entries[0].root = emptyNodes[depth]
	for i := 0; i < depth; i++ {
		entries[0].path[i] = emptyNodes[i]
	}

	return &changeLog{entries: entries, active: 0, count: 1}
}

// push records a new mutation, evicting the oldest entry when full.
func (c *changeLog) push(root [32]byte, path [][32]byte, index uint64) {
	c.active = (c.active + 1) % len(c.entries)
	if c.count < len(c.entries) {
		c.count++
	}

	e := &c.entries[c.active]
	e.root = root
	copy(e.path, path)
	e.index = index
}

// currentRoot returns the root produced by the most recent mutation.
func (c *changeLog) currentRoot() [32]byte {
	return c.entries[c.active].root
}

// find returns how many mutations ago the given root was current, or -1 if
// it is not resident in the ring. 0 means it is the current root.
//
// If the same root occurs more than once (a leaf replaced and then replaced
// back), the newest occurrence wins: equal roots mean equal tree contents,
// so a proof issued at the older occurrence is equally valid at the newer
// one, and starting there replays the fewest entries.
func (c *changeLog) find(root [32]byte) int {
	for age := 0; age < c.count; age++ {
		pos := c.position(age)
		if c.entries[pos].root == root {
			return age
		}
	}
	return -1
}

// fastForward replays every entry newer than `age` mutations ago onto the
// proof, oldest first. Returns false on same-leaf contention.
func (c *changeLog) fastForward(age int, index uint64, proof [][32]byte) bool {
	for a := age - 1; a >= 0; a-- {
		if !c.entries[c.position(a)].updateProof(index, proof) {
			return false
		}
	}
	return true
}

// position translates an age (0 = newest) into a ring offset.
func (c *changeLog) position(age int) int {
	n := len(c.entries)
	return ((c.active-age)%n + n) % n
}

// highestBit returns the position of the highest set bit of x, or 0 for 0.
func highestBit(x uint64) int {
	k := 0
	for (x >> k) > 1 {
		k++
	}
	return k
}
