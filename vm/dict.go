package vm

import (
	"hash/fnv"
)

// ---------------------------------------------------------------------------
// Dict: insertion-ordered hash table
// ---------------------------------------------------------------------------

// Dict is the payload of dict objects and the storage of every namespace.
// Entries keep insertion order. String keys are indexed by value so that
// name lookups never call back into the VM; every other key is indexed by
// its hash and compared with ==.
type Dict struct {
	entries []dictEntry
	strs    map[string]int
	index   map[int64][]int
	live    int
}

type dictEntry struct {
	key, value *Object
	hash       int64
}

// NewDict returns an empty dictionary.
func NewDict() *Dict {
	return &Dict{}
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	if d == nil {
		return 0
	}
	return d.live
}

// GetStr returns the value stored under the string key name, or nil. It is
// safe on a nil Dict.
func (d *Dict) GetStr(name string) *Object {
	if d == nil || d.strs == nil {
		return nil
	}
	if i, ok := d.strs[name]; ok {
		return d.entries[i].value
	}
	return nil
}

// SetStr stores value under the string key name.
func (d *Dict) SetStr(ctx *Context, name string, value *Object) {
	if i, ok := d.strs[name]; ok {
		d.entries[i].value = value
		return
	}
	d.insert(ctx.NewStr(name), value, 0)
}

// DelStr removes the string key name and reports whether it was present.
func (d *Dict) DelStr(name string) bool {
	i, ok := d.strs[name]
	if !ok {
		return false
	}
	d.remove(i)
	return true
}

// GetItem returns the value for key, or nil when absent.
func (d *Dict) GetItem(vm *VM, key *Object) (*Object, error) {
	i, err := d.lookup(vm, key)
	if err != nil || i < 0 {
		return nil, err
	}
	return d.entries[i].value, nil
}

// SetItem stores value under key.
func (d *Dict) SetItem(vm *VM, key, value *Object) error {
	if s, ok := asStr(key); ok {
		if i, ok := d.strs[s]; ok {
			d.entries[i].value = value
			return nil
		}
		d.insert(key, value, 0)
		return nil
	}
	h, err := vm.Hash(key)
	if err != nil {
		return err
	}
	i, err := d.find(vm, key, h)
	if err != nil {
		return err
	}
	if i >= 0 {
		d.entries[i].value = value
		return nil
	}
	d.insert(key, value, h)
	return nil
}

// DelItem removes key and reports whether it was present.
func (d *Dict) DelItem(vm *VM, key *Object) (bool, error) {
	i, err := d.lookup(vm, key)
	if err != nil || i < 0 {
		return false, err
	}
	d.remove(i)
	return true, nil
}

// Contains reports whether key is present.
func (d *Dict) Contains(vm *VM, key *Object) (bool, error) {
	i, err := d.lookup(vm, key)
	return i >= 0, err
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []*Object {
	out := make([]*Object, 0, d.Len())
	d.Each(func(k, _ *Object) {
		out = append(out, k)
	})
	return out
}

// Values returns the values in insertion order.
func (d *Dict) Values() []*Object {
	out := make([]*Object, 0, d.Len())
	d.Each(func(_, v *Object) {
		out = append(out, v)
	})
	return out
}

// Each calls fn for every entry in insertion order.
func (d *Dict) Each(fn func(key, value *Object)) {
	if d == nil {
		return
	}
	for _, e := range d.entries {
		if e.key != nil {
			fn(e.key, e.value)
		}
	}
}

// eachStr calls fn for every string-keyed entry.
func (d *Dict) eachStr(fn func(name string, value *Object)) {
	if d == nil {
		return
	}
	for _, e := range d.entries {
		if e.key == nil {
			continue
		}
		if s, ok := asStr(e.key); ok {
			fn(s, e.value)
		}
	}
}

// Copy returns a shallow copy.
func (d *Dict) Copy() *Dict {
	c := &Dict{}
	if d == nil {
		return c
	}
	for _, e := range d.entries {
		if e.key != nil {
			c.insert(e.key, e.value, e.hash)
		}
	}
	return c
}

// Update copies every entry of other into d.
func (d *Dict) Update(vm *VM, other *Dict) error {
	var err error
	other.Each(func(k, v *Object) {
		if err == nil {
			err = d.SetItem(vm, k, v)
		}
	})
	return err
}

// Clear removes every entry.
func (d *Dict) Clear() {
	*d = Dict{}
}

// PopLast removes and returns the most recently inserted entry.
func (d *Dict) PopLast() (key, value *Object, ok bool) {
	for i := len(d.entries) - 1; i >= 0; i-- {
		e := d.entries[i]
		if e.key != nil {
			d.remove(i)
			return e.key, e.value, true
		}
	}
	return nil, nil, false
}

// entryAt returns the i-th live entry slot for iterators, advancing past
// deleted slots. It returns -1 at the end.
func (d *Dict) entryAt(i int) int {
	for ; i < len(d.entries); i++ {
		if d.entries[i].key != nil {
			return i
		}
	}
	return -1
}

func (d *Dict) lookup(vm *VM, key *Object) (int, error) {
	if s, ok := asStr(key); ok {
		if i, ok := d.strs[s]; ok {
			return i, nil
		}
		return -1, nil
	}
	h, err := vm.Hash(key)
	if err != nil {
		return -1, err
	}
	return d.find(vm, key, h)
}

func (d *Dict) find(vm *VM, key *Object, h int64) (int, error) {
	for _, i := range d.index[h] {
		k := d.entries[i].key
		if k == key {
			return i, nil
		}
		eq, err := vm.RichCompareBool(k, key, cmpEq)
		if err != nil {
			return -1, err
		}
		if eq {
			return i, nil
		}
	}
	return -1, nil
}

func (d *Dict) insert(key, value *Object, h int64) {
	i := len(d.entries)
	d.entries = append(d.entries, dictEntry{key: key, value: value, hash: h})
	d.live++
	if s, ok := asStr(key); ok {
		if d.strs == nil {
			d.strs = make(map[string]int)
		}
		d.strs[s] = i
		return
	}
	if d.index == nil {
		d.index = make(map[int64][]int)
	}
	d.index[h] = append(d.index[h], i)
}

func (d *Dict) remove(i int) {
	e := d.entries[i]
	if s, ok := asStr(e.key); ok {
		delete(d.strs, s)
	} else {
		bucket := d.index[e.hash]
		for j, idx := range bucket {
			if idx == i {
				bucket = append(bucket[:j:j], bucket[j+1:]...)
				break
			}
		}
		if len(bucket) == 0 {
			delete(d.index, e.hash)
		} else {
			d.index[e.hash] = bucket
		}
	}
	d.entries[i] = dictEntry{}
	d.live--
	if dead := len(d.entries) - d.live; dead > 16 && dead > d.live {
		d.compact()
	}
}

// compact drops deleted slots and rebuilds the indexes.
func (d *Dict) compact() {
	old := d.entries
	*d = Dict{entries: make([]dictEntry, 0, d.live)}
	for _, e := range old {
		if e.key != nil {
			d.insert(e.key, e.value, e.hash)
		}
	}
}

// ---------------------------------------------------------------------------
// Set
// ---------------------------------------------------------------------------

// Set is the payload of set and frozenset objects.
type Set struct {
	d Dict
}

// Len returns the number of elements.
func (s *Set) Len() int {
	return s.d.Len()
}

// Add inserts item.
func (s *Set) Add(vm *VM, item *Object) error {
	return s.d.SetItem(vm, item, item)
}

// Contains reports whether item is an element.
func (s *Set) Contains(vm *VM, item *Object) (bool, error) {
	return s.d.Contains(vm, item)
}

// Discard removes item and reports whether it was present.
func (s *Set) Discard(vm *VM, item *Object) (bool, error) {
	return s.d.DelItem(vm, item)
}

// Items returns the elements in insertion order.
func (s *Set) Items() []*Object {
	return s.d.Keys()
}

// Copy returns a shallow copy.
func (s *Set) Copy() *Set {
	return &Set{d: *s.d.Copy()}
}

// ---------------------------------------------------------------------------
// String hashing
// ---------------------------------------------------------------------------

// hashBytes is FNV-1a over the seed followed by the data, folded so that
// -1 is never produced.
func hashBytes(seed uint64, data []byte) int64 {
	h := fnv.New64a()
	var s [8]byte
	for i := range s {
		s[i] = byte(seed >> (8 * i))
	}
	h.Write(s[:])
	h.Write(data)
	v := int64(h.Sum64())
	if v == -1 {
		v = -2
	}
	return v
}
