package engine

import "strings"

// Path addresses a field inside a session document. Each element is one
// map key, so player names containing dots stay addressable.
type Path []string

func Field(segments ...string) Path { return Path(segments) }

func (p Path) String() string { return strings.Join(p, ".") }

type OpKind string

const (
	OpSet       OpKind = "set"
	OpDelete    OpKind = "delete"
	OpUnion     OpKind = "union"
	OpRemove    OpKind = "remove"
	OpIncrement OpKind = "increment"
)

type Op struct {
	Kind  OpKind
	Path  Path
	Value any      // OpSet
	Items []string // OpUnion, OpRemove
	Delta int64    // OpIncrement
}

// Update is a partial-field write. Ops are applied in order and
// atomically; IfVersion, when non-zero, makes the whole write conditional
// on the document still being at that version.
type Update struct {
	Ops       []Op
	IfVersion int64
	DeleteDoc bool
}

func (u Update) IsZero() bool { return len(u.Ops) == 0 && !u.DeleteDoc }

func (u Update) Set(path Path, value any) Update {
	u.Ops = append(u.Ops, Op{Kind: OpSet, Path: path, Value: value})
	return u
}

func (u Update) Delete(path Path) Update {
	u.Ops = append(u.Ops, Op{Kind: OpDelete, Path: path})
	return u
}

func (u Update) Union(path Path, items ...string) Update {
	u.Ops = append(u.Ops, Op{Kind: OpUnion, Path: path, Items: items})
	return u
}

func (u Update) Remove(path Path, items ...string) Update {
	u.Ops = append(u.Ops, Op{Kind: OpRemove, Path: path, Items: items})
	return u
}

func (u Update) Increment(path Path, delta int64) Update {
	u.Ops = append(u.Ops, Op{Kind: OpIncrement, Path: path, Delta: delta})
	return u
}

// Conditional returns a copy of u that only applies at the given version.
func (u Update) Conditional(version int64) Update {
	u.IfVersion = version
	return u
}
