// Package table implements the open-addressed hash table with
// tombstones described in spec.md §9, used both for the VM's
// string-interning table and its globals table. Keys are *object.String
// pointers; probing uses the key's cached hash, matching
// clox/table.c's findEntry/tableSet/tableDelete/tableFindString.
package table

import (
	"emberlang/internal/object"
	"emberlang/internal/value"
)

const maxLoad = 0.75

// entry models clox's Entry: Key == nil && Value is Nil is an empty
// slot; Key == nil && Value is Bool(true) is a tombstone; otherwise
// the slot is occupied.
type entry struct {
	key   *object.String
	value value.Value
}

func (e *entry) isTombstone() bool {
	return e.key == nil && e.value.Type == value.Bool && e.value.AsBool
}

func (e *entry) isEmpty() bool {
	return e.key == nil && e.value.Type == value.Nil
}

// Table is an open-addressed hash map keyed by interned-string
// identity. The zero value is ready to use.
type Table struct {
	count   int
	entries []entry
}

func findEntry(entries []entry, key *object.String) *entry {
	capacity := uint32(len(entries))
	index := key.Hash % capacity
	var tombstone *entry

	for {
		e := &entries[index]
		if e.key == nil {
			if e.isEmpty() {
				if tombstone != nil {
					return tombstone
				}
				return e
			}
			if tombstone == nil {
				tombstone = e
			}
		} else if e.key == key {
			return e
		}
		index = (index + 1) % capacity
	}
}

func (t *Table) adjustCapacity(capacity int) {
	fresh := make([]entry, capacity)
	for i := range fresh {
		fresh[i] = entry{value: value.NilValue()}
	}

	t.count = 0
	for _, e := range t.entries {
		if e.key == nil {
			continue
		}
		dest := findEntry(fresh, e.key)
		dest.key = e.key
		dest.value = e.value
		t.count++
	}
	t.entries = fresh
}

func growCapacity(capacity int) int {
	if capacity < 8 {
		return 8
	}
	return capacity * 2
}

// Get returns the value stored under key, if any.
func (t *Table) Get(key *object.String) (value.Value, bool) {
	if t.count == 0 {
		return value.Value{}, false
	}
	e := findEntry(t.entries, key)
	if e.key == nil {
		return value.Value{}, false
	}
	return e.value, true
}

// Set stores value under key, growing the table first if needed.
// Returns true if this created a new key (as opposed to overwriting).
func (t *Table) Set(key *object.String, v value.Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*maxLoad {
		t.adjustCapacity(growCapacity(len(t.entries)))
	}

	e := findEntry(t.entries, key)
	isNewKey := e.key == nil
	if isNewKey && e.isEmpty() {
		t.count++
	}

	e.key = key
	e.value = v
	return isNewKey
}

// Delete removes key, leaving a tombstone so later probe chains
// through this slot still find their targets.
func (t *Table) Delete(key *object.String) bool {
	if t.count == 0 {
		return false
	}
	e := findEntry(t.entries, key)
	if e.key == nil {
		return false
	}
	e.key = nil
	e.value = value.BoolValue(true)
	return true
}

// FindString looks up an interned string by its raw bytes and hash,
// the one place content (not identity) is compared — every other
// table operation compares key pointers. Used by the interning
// routine to decide whether a fresh allocation is needed.
func (t *Table) FindString(chars string, hash uint32) *object.String {
	if t.count == 0 {
		return nil
	}
	capacity := uint32(len(t.entries))
	index := hash % capacity
	for {
		e := &t.entries[index]
		if e.key == nil {
			if e.isEmpty() {
				return nil
			}
		} else if e.key.Hash == hash && e.key.Chars == chars {
			return e.key
		}
		index = (index + 1) % capacity
	}
}

// AddAll copies every entry of t into dest, matching clox's
// tableAddAll (used to seed a fresh globals table from a prelude, for
// example).
func (t *Table) AddAll(dest *Table) {
	for _, e := range t.entries {
		if e.key != nil {
			dest.Set(e.key, e.value)
		}
	}
}

// Count reports the number of occupied slots used for the load-factor
// check: live entries plus tombstones left by Delete. Tombstones stop
// being counted only when the table grows and rehashes.
func (t *Table) Count() int { return t.count }
