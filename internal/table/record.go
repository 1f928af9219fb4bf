package table

// Record is an ordered set of column/value pairs. Setting an existing key
// replaces its value in place.
type Record struct {
	keys   []string
	values map[string]string
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{values: make(map[string]string)}
}

// Set assigns v to key, appending key if it is new.
func (r *Record) Set(key, v string) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Get returns the value for key and whether it is present.
func (r *Record) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (r *Record) Keys() []string {
	return r.keys
}

// Len is the number of fields.
func (r *Record) Len() int {
	return len(r.keys)
}
