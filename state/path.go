package state

import (
	"strconv"
	"strings"
)

// Path is an immutable chain of tags from the tree root to a node.
// A nested path shares the observer of its root.
type Path struct {
	parent *Path
	tag    uint32
	depth  int
	obs    *Observer
}

var root = &Path{}

// Root is the detached root path, one without an observer.
func Root() *Path {
	return root
}

// NewRoot starts a tree whose nodes report their changes to obs.
func NewRoot(obs *Observer) *Path {
	return &Path{obs: obs}
}

func orRoot(p *Path) *Path {
	if p == nil {
		return root
	}
	return p
}

func (p *Path) Nested(tag uint32) *Path {
	p = orRoot(p)
	return &Path{parent: p, tag: tag, depth: p.depth + 1, obs: p.obs}
}

func (p *Path) IsRoot() bool {
	return p == nil || p.parent == nil
}

func (p *Path) Parent() *Path {
	if p == nil {
		return nil
	}
	return p.parent
}

// Tag is the last tag of the path; ok is false for a root.
func (p *Path) Tag() (tag uint32, ok bool) {
	if p.IsRoot() {
		return 0, false
	}
	return p.tag, true
}

func (p *Path) Len() int {
	if p == nil {
		return 0
	}
	return p.depth
}

func (p *Path) Observer() *Observer {
	if p == nil {
		return nil
	}
	return p.obs
}

// Tags is the root-to-here tag sequence, the flattened form of the path.
func (p *Path) Tags() []uint32 {
	tags := make([]uint32, p.Len())
	for q := p; !q.IsRoot(); q = q.parent {
		tags[q.depth-1] = q.tag
	}
	return tags
}

// HasPrefix reports whether the path starts with the given tags.
func (p *Path) HasPrefix(prefix []uint32) bool {
	if len(prefix) > p.Len() {
		return false
	}
	q := p
	for q.Len() > len(prefix) {
		q = q.parent
	}
	for ; !q.IsRoot(); q = q.parent {
		if prefix[q.depth-1] != q.tag {
			return false
		}
	}
	return true
}

// Equal compares tag sequences; observers are not compared.
func (p *Path) Equal(q *Path) bool {
	if p.Len() != q.Len() {
		return false
	}
	for !p.IsRoot() {
		if p.tag != q.tag {
			return false
		}
		p, q = p.parent, q.parent
	}
	return true
}

func (p *Path) String() string {
	var sb strings.Builder
	for _, tag := range p.Tags() {
		sb.WriteByte('/')
		sb.WriteString(strconv.FormatUint(uint64(tag), 10))
	}
	return sb.String()
}

func (p *Path) emit(ev Event) {
	if obs := p.Observer(); obs != nil {
		ev.Path = p
		obs.Emit(ev)
	}
}
