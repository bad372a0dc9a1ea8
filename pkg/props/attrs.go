package props

// AttrID is the dense identifier of an interned attribute name. IDs are
// assigned in intern order starting at zero and are stable for the lifetime
// of the graph, which lets the durable image store the intern table as a
// plain ordered list of names.
type AttrID uint32

// AttrSet interns attribute names once per graph. Every entity's property
// map is keyed by AttrID, so a name's bytes exist exactly once no matter how
// many entities carry the property.
//
// AttrSet is not internally synchronized; it is owned by the graph and
// mutated only under the graph's write lock.
type AttrSet struct {
	ids   map[string]AttrID
	names []string
}

// NewAttrSet creates an empty intern table.
func NewAttrSet() *AttrSet {
	return &AttrSet{ids: make(map[string]AttrID)}
}

// Intern returns the AttrID for name, assigning the next dense ID on first
// sight. Names are case-preserving; "Name" and "name" are distinct
// attributes.
func (a *AttrSet) Intern(name string) AttrID {
	if id, ok := a.ids[name]; ok {
		return id
	}
	id := AttrID(len(a.names))
	a.ids[name] = id
	a.names = append(a.names, name)
	return id
}

// Lookup returns the AttrID for name without interning it.
func (a *AttrSet) Lookup(name string) (AttrID, bool) {
	id, ok := a.ids[name]
	return id, ok
}

// Name returns the attribute name for an ID assigned by this set.
func (a *AttrSet) Name(id AttrID) (string, bool) {
	if int(id) >= len(a.names) {
		return "", false
	}
	return a.names[id], true
}

// Names returns the intern table in ID order. The durable image stores this
// verbatim; rebuilding an AttrSet by interning the list in order reproduces
// identical IDs.
func (a *AttrSet) Names() []string {
	out := make([]string, len(a.names))
	copy(out, a.names)
	return out
}

// Len returns the number of interned names.
func (a *AttrSet) Len() int { return len(a.names) }

// Map is a per-entity property map keyed by interned attribute ID. A nil Map
// is empty for reads; Set initializes on first write via the pointer
// receiver pattern at the call site (the graph owns the map).
type Map map[AttrID]Value

// Set inserts or overwrites an attribute value.
func (m Map) Set(id AttrID, v Value) { m[id] = v }

// Get returns the value for id. The second return is false when the
// attribute is absent.
func (m Map) Get(id AttrID) (Value, bool) {
	v, ok := m[id]
	return v, ok
}

// Remove deletes an attribute. Removing an absent attribute is a no-op.
func (m Map) Remove(id AttrID) { delete(m, id) }

// Clone returns an independent copy. Values are immutable so a shallow copy
// of the map suffices.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
