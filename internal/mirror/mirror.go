// Package mirror keeps at most one local proxy per remote object id and
// releases ids back to the target in batches once proxies are collected.
package mirror

import (
	"fmt"

	"github.com/danmuck/dbgwire/internal/protocol/schema"
)

// Mirror is a local proxy for one remote entity. Identity is the remote id.
type Mirror interface {
	ID() uint64
	Tag() uint8
}

// Equal compares mirrors by remote id.
func Equal(a, b Mirror) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID() == b.ID()
}

type base struct {
	cache *Cache
	id    uint64
	tag   uint8
}

func (b *base) ID() uint64 { return b.id }
func (b *base) Tag() uint8 { return b.tag }

func (b *base) String() string {
	return fmt.Sprintf("%c@%d", b.tag, b.id)
}

type Object struct{ base }
type String struct{ base }
type Array struct{ base }
type ThreadGroup struct{ base }
type ClassLoader struct{ base }
type ClassObject struct{ base }

// kindOf reports whether tag names a mirrorable kind.
func kindOf(tag uint8) bool {
	switch tag {
	case schema.TagObject, schema.TagString, schema.TagArray, schema.TagThread,
		schema.TagThreadGroup, schema.TagClassLoader, schema.TagClassObject:
		return true
	}
	return false
}
