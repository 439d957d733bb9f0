package state

import (
	"github.com/drpcorg/steit/codec"
	"github.com/drpcorg/steit/steit_errors"
	"github.com/pkg/errors"
)

// Replacer is implemented by nodes whose body is not a keyed record:
// containers and leaves.
type Replacer interface {
	ReplaceAll(r *codec.Reader, notify bool) error
}

// Replace decodes a whole node body from r into n.
//
// A variant body is the varint tag of the alternative followed by its
// fields. A record body is a run of keyed fields read until r is
// exhausted; a field whose wire type disagrees with the declared one is
// logged and skipped, unknown tags are skipped by the node itself.
func Replace(n Node, r *codec.Reader, notify bool) error {
	switch n := n.(type) {
	case Replacer:
		return n.ReplaceAll(r, notify)
	case Variant:
		if r.EOF() {
			return nil
		}
		tag, err := r.Tag()
		if err != nil {
			return err
		}
		return n.ReplaceAt(tag, codec.Sized, r, notify)
	}
	for !r.EOF() {
		tag, wt, err := r.Key()
		if errors.Is(err, steit_errors.ErrTagOverflow) {
			n.Path().Observer().Logger().Warn("skipping field of oversized tag",
				"path", n.Path().String(), "error", err)
			if err = r.SkipField(wt); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if expected, ok := n.WireType(tag); ok && expected != wt {
			n.Path().Observer().Logger().Warn("skipping field of unexpected wire type",
				"path", n.Path().String(), "tag", tag, "wire_type", wt, "expected", expected)
			if err = r.SkipField(wt); err != nil {
				return err
			}
			continue
		}
		if wt == codec.Sized {
			var sub *codec.Reader
			if sub, err = r.Sized(); err != nil {
				return err
			}
			err = n.ReplaceAt(tag, wt, sub, notify)
		} else {
			err = n.ReplaceAt(tag, wt, r, notify)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Resolve walks tags down from root, nil on any miss.
func Resolve(root Node, tags []uint32) Node {
	n := root
	for _, tag := range tags {
		if n == nil {
			return nil
		}
		n = n.Nested(tag)
	}
	return n
}

func checkWireType(path *Path, tag uint32, wt, expected codec.WireType) error {
	if wt != expected {
		return errors.Wrapf(steit_errors.ErrUnexpectedWireType,
			"%s at %q tag %d, expected %s", wt, path.String(), tag, expected)
	}
	return nil
}

// SetField decodes the value of a record field and installs it.
// Records call it from ReplaceAt, one line per field.
func SetField[T any](n Node, field *T, tag uint32, typ Type[T], wt codec.WireType, r *codec.Reader, notify bool) error {
	if err := checkWireType(n.Path(), tag, wt, typ.WireType()); err != nil {
		return err
	}
	v, err := typ.Decode(r, n.Path().Nested(tag))
	if err != nil {
		return err
	}
	if notify {
		n.Path().emit(Event{Kind: Updated, Tag: tag, Old: *field, New: v})
	}
	*field = v
	return nil
}
