package irtype

import (
	"github.com/llir/llvm/ir/types"

	"cilgpu/internal/cil"
)

// Cache holds the basic and global layers of the type cache. The basic layer
// is fixed at construction; the global layer grows as sessions commit.
type Cache struct {
	basic  map[string]types.Type
	global map[string]types.Type
	fields map[string]map[string]int
}

// NewCache creates a cache seeded with the primitive types.
func NewCache() *Cache {
	i8ptr := types.NewPointer(types.I8)
	basic := map[string]types.Type{
		cil.Void.FullName():    types.Void,
		cil.Bool.FullName():    types.I8,
		cil.Char.FullName():    types.I16,
		cil.Int8.FullName():    types.I8,
		cil.UInt8.FullName():   types.I8,
		cil.Int16.FullName():   types.I16,
		cil.UInt16.FullName():  types.I16,
		cil.Int32.FullName():   types.I32,
		cil.UInt32.FullName():  types.I32,
		cil.Int64.FullName():   types.I64,
		cil.UInt64.FullName():  types.I64,
		cil.IntPtr.FullName():  types.I64,
		cil.Float32.FullName(): types.Float,
		cil.Float64.FullName(): types.Double,
		cil.String.FullName():  i8ptr,
		cil.Object.FullName():  i8ptr,
	}
	return &Cache{
		basic:  basic,
		global: make(map[string]types.Type, 64),
		fields: make(map[string]map[string]int, 32),
	}
}

// Global returns a committed type.
func (c *Cache) Global(name string) (types.Type, bool) {
	t, ok := c.global[name]
	return t, ok
}

// Len is the number of committed types.
func (c *Cache) Len() int { return len(c.global) }
