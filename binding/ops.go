package binding

import (
	"fmt"
	"strings"

	"github.com/c360/livebind/errors"
)

// MutationOps is the only sanctioned mutation surface for synchronizer
// engines. All three operations apply against the host's Properties so
// that every write is visible to the host's observers.
//
// Set writes a value at a dot-separated path. Insert and Remove splice an
// ordered sequence stored at a property key.
type MutationOps interface {
	Set(props Properties, path string, value any) error
	Insert(props Properties, key string, index int, value any) error
	Remove(props Properties, key string, index int) error
}

// MapOps is the default MutationOps adapter. It treats nested containers
// as map[string]any documents and sequences as []any slices, writing the
// top-level property back on every mutation so the change is visible
// through the Properties store.
type MapOps struct{}

// Set writes value at a dot-separated path. A single-segment path replaces
// the property itself; deeper paths require the property to hold a
// map[string]any document and create intermediate maps as needed.
func (MapOps) Set(props Properties, path string, value any) error {
	segs := strings.Split(path, ".")
	if len(segs) == 1 {
		props.Set(path, value)
		return nil
	}

	root, _ := props.Get(segs[0])
	doc, ok := root.(map[string]any)
	if !ok {
		if root != nil {
			return errors.WrapInvalid(
				fmt.Errorf("property %q is %T, not a document", segs[0], root),
				"MapOps", "Set", "container lookup")
		}
		doc = make(map[string]any)
	}

	cur := doc
	for _, seg := range segs[1 : len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value

	props.Set(segs[0], doc)
	return nil
}

// Insert splices value into the sequence at props[key] at the given index.
// An absent property starts as an empty sequence.
func (MapOps) Insert(props Properties, key string, index int, value any) error {
	list, err := sequenceAt(props, key)
	if err != nil {
		return errors.Wrap(err, "MapOps", "Insert", "sequence lookup")
	}
	if index < 0 || index > len(list) {
		return errors.WrapInvalid(
			fmt.Errorf("index %d out of range for length %d", index, len(list)),
			"MapOps", "Insert", "bounds check")
	}

	out := make([]any, 0, len(list)+1)
	out = append(out, list[:index]...)
	out = append(out, value)
	out = append(out, list[index:]...)

	props.Set(key, out)
	return nil
}

// Remove splices the element at index out of the sequence at props[key].
func (MapOps) Remove(props Properties, key string, index int) error {
	list, err := sequenceAt(props, key)
	if err != nil {
		return errors.Wrap(err, "MapOps", "Remove", "sequence lookup")
	}
	if index < 0 || index >= len(list) {
		return errors.WrapInvalid(
			fmt.Errorf("index %d out of range for length %d", index, len(list)),
			"MapOps", "Remove", "bounds check")
	}

	out := make([]any, 0, len(list)-1)
	out = append(out, list[:index]...)
	out = append(out, list[index+1:]...)

	props.Set(key, out)
	return nil
}

func sequenceAt(props Properties, key string) ([]any, error) {
	cur, ok := props.Get(key)
	if !ok || cur == nil {
		return []any{}, nil
	}
	list, ok := cur.([]any)
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("property %q is %T, not a sequence", key, cur),
			"MapOps", "sequenceAt", "type check")
	}
	return list, nil
}
