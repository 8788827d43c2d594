package document

import (
	"errors"
	"fmt"
	"slices"

	"github.com/DoyleJ11/fake-tasker-backend/internal/codec"
	"github.com/DoyleJ11/fake-tasker-backend/internal/engine"
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrExists      = errors.New("document already exists")
	ErrConflict    = errors.New("document version conflict")
	ErrInvalidPath = errors.New("invalid field path")
)

// ApplyOps returns a copy of fields with ops applied in order. fields is
// never modified.
func ApplyOps(fields map[string]any, ops []engine.Op) (map[string]any, error) {
	cp, err := codec.Normalize(fields)
	if err != nil {
		return nil, err
	}
	doc, _ := cp.(map[string]any)
	if doc == nil {
		doc = map[string]any{}
	}

	for _, op := range ops {
		if len(op.Path) == 0 {
			return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
		}
		if err := applyOp(doc, op); err != nil {
			return nil, fmt.Errorf("%s %s: %w", op.Kind, op.Path, err)
		}
	}
	return doc, nil
}

func applyOp(doc map[string]any, op engine.Op) error {
	create := op.Kind != engine.OpDelete && op.Kind != engine.OpRemove
	parent, err := walk(doc, op.Path[:len(op.Path)-1], create)
	if err != nil || parent == nil {
		return err
	}
	key := op.Path[len(op.Path)-1]

	switch op.Kind {
	case engine.OpSet:
		v, err := codec.Normalize(op.Value)
		if err != nil {
			return err
		}
		parent[key] = v

	case engine.OpDelete:
		delete(parent, key)

	case engine.OpUnion:
		list, err := asList(parent[key])
		if err != nil {
			return err
		}
		for _, item := range op.Items {
			if !slices.Contains(list, any(item)) {
				list = append(list, item)
			}
		}
		parent[key] = list

	case engine.OpRemove:
		if _, ok := parent[key]; !ok {
			return nil
		}
		list, err := asList(parent[key])
		if err != nil {
			return err
		}
		parent[key] = slices.DeleteFunc(list, func(v any) bool {
			s, ok := v.(string)
			return ok && slices.Contains(op.Items, s)
		})

	case engine.OpIncrement:
		n, err := asInt(parent[key])
		if err != nil {
			return err
		}
		parent[key] = n + op.Delta

	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidPath, op.Kind)
	}
	return nil
}

// walk descends to the map at path. With create it makes missing maps;
// without it a missing map yields nil.
func walk(doc map[string]any, path engine.Path, create bool) (map[string]any, error) {
	cur := doc
	for _, seg := range path {
		next, ok := cur[seg]
		if !ok || next == nil {
			if !create {
				return nil, nil
			}
			m := map[string]any{}
			cur[seg] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a map", ErrInvalidPath, seg)
		}
		cur = m
	}
	return cur, nil
}

func asList(v any) ([]any, error) {
	switch l := v.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return l, nil
	default:
		return nil, fmt.Errorf("%w: not a list", ErrInvalidPath)
	}
}

func asInt(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("%w: not an integer", ErrInvalidPath)
	}
}

// ApplyUpdate applies u to fields at version. It reports changed=false
// when the result encodes identically to the input, in which case the
// caller must not bump the version.
func ApplyUpdate(fields map[string]any, version int64, u engine.Update) (next map[string]any, changed bool, err error) {
	if u.IfVersion != 0 && u.IfVersion != version {
		return nil, false, fmt.Errorf("%w: have %d, want %d", ErrConflict, version, u.IfVersion)
	}
	next, err = ApplyOps(fields, u.Ops)
	if err != nil {
		return nil, false, err
	}
	return next, !codec.Equal(fields, next), nil
}
