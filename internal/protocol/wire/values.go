package wire

import (
	"fmt"

	"github.com/danmuck/dbgwire/internal/protocol/schema"
)

// Location is a code position: type tag, class, method and bytecode index.
type Location struct {
	TypeTag uint8
	ClassID uint64
	Method  uint64
	Index   int64
}

func (l Location) String() string {
	return fmt.Sprintf("loc(class=%d method=%d index=%d)", l.ClassID, l.Method, l.Index)
}

// TaggedObject is an object id preceded by its kind tag.
type TaggedObject struct {
	Tag uint8
	ID  uint64
}

func (o TaggedObject) IsNull() bool {
	return o.ID == 0
}

// Value is a tagged value. Primitive payloads are kept as raw bytes; object
// values carry the object id.
type Value struct {
	Tag      uint8
	Raw      []byte
	ObjectID uint64
}

func (v Value) IsObject() bool {
	return schema.IsObjectTag(v.Tag)
}

func (r *Reader) Location() (Location, error) {
	var l Location
	var err error
	if l.TypeTag, err = r.Uint8(); err != nil {
		return Location{}, err
	}
	if l.ClassID, err = r.ReferenceTypeID(); err != nil {
		return Location{}, err
	}
	if l.Method, err = r.MethodID(); err != nil {
		return Location{}, err
	}
	if l.Index, err = r.Int64(); err != nil {
		return Location{}, err
	}
	return l, nil
}

func (r *Reader) TaggedObject() (TaggedObject, error) {
	tag, err := r.Uint8()
	if err != nil {
		return TaggedObject{}, err
	}
	if !schema.IsObjectTag(tag) {
		return TaggedObject{}, fmt.Errorf("%w: %q is not an object tag", ErrUnknownTag, tag)
	}
	id, err := r.ObjectID()
	if err != nil {
		return TaggedObject{}, err
	}
	return TaggedObject{Tag: tag, ID: id}, nil
}

// Value reads a tagged value.
func (r *Reader) Value() (Value, error) {
	tag, err := r.Uint8()
	if err != nil {
		return Value{}, err
	}
	return r.UntaggedValue(tag)
}

// UntaggedValue reads a value whose tag is known from context.
func (r *Reader) UntaggedValue(tag uint8) (Value, error) {
	if schema.IsObjectTag(tag) {
		id, err := r.ObjectID()
		if err != nil {
			return Value{}, err
		}
		return Value{Tag: tag, ObjectID: id}, nil
	}
	n, ok := schema.PrimitiveSize(tag)
	if !ok {
		return Value{}, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	b, err := r.take(n)
	if err != nil {
		return Value{}, err
	}
	raw := make([]byte, n)
	copy(raw, b)
	return Value{Tag: tag, Raw: raw}, nil
}

func (w *Writer) Location(l Location) *Writer {
	w.Uint8(l.TypeTag)
	w.ReferenceTypeID(l.ClassID)
	w.MethodID(l.Method)
	return w.Int64(l.Index)
}

func (w *Writer) TaggedObject(o TaggedObject) *Writer {
	w.Uint8(o.Tag)
	return w.ObjectID(o.ID)
}

func (w *Writer) Value(v Value) *Writer {
	w.Uint8(v.Tag)
	if schema.IsObjectTag(v.Tag) {
		return w.ObjectID(v.ObjectID)
	}
	w.buf = append(w.buf, v.Raw...)
	return w
}
