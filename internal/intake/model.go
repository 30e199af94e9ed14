package intake

import (
	"sort"
	"sync"
)

// Model holds one clinical record and mediates all edits to it
type Model struct {
	mu      sync.RWMutex
	record  ClinicalRecord
	onReset []func()
}

// NewModel creates a model initialized with the default record
func NewModel() *Model {
	return &Model{record: DefaultRecord()}
}

// SetField coerces raw according to the field's declared type and stores it.
// Numbers accept numeric strings or Go numeric values, booleans accept a bool
// or the literals "true"/"false", enums accept only members of their set.
// On error the record is left unchanged.
func (m *Model) SetField(name string, raw any) error {
	codec, ok := schemaByName[name]
	if !ok {
		return &ValidationError{Field: name, Value: raw, Cause: ErrUnknownField}
	}

	v, verr := codec.parse(raw)
	if verr != nil {
		return verr
	}

	m.mu.Lock()
	codec.set(&m.record, v)
	m.mu.Unlock()
	return nil
}

// Apply sets several fields at once. Edits are applied in name order and
// stop at the first invalid value; earlier edits are kept.
func (m *Model) Apply(values map[string]any) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := m.SetField(name, values[name]); err != nil {
			return err
		}
	}
	return nil
}

// Field returns the current value of a field
func (m *Model) Field(name string) (any, bool) {
	codec, ok := schemaByName[name]
	if !ok {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return codec.get(&m.record), true
}

// Record returns a snapshot of the current record
func (m *Model) Record() ClinicalRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.record
}

// Reset restores the default record and runs the registered reset hooks
func (m *Model) Reset() {
	m.mu.Lock()
	m.record = DefaultRecord()
	hooks := make([]func(), len(m.onReset))
	copy(hooks, m.onReset)
	m.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// OnReset registers fn to run after every Reset
func (m *Model) OnReset(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReset = append(m.onReset, fn)
}

// Fields lists the schema with current values, in wire order
func (m *Model) Fields() []FieldInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fields := make([]FieldInfo, 0, len(schema))
	for i := range schema {
		c := &schema[i]
		fields = append(fields, FieldInfo{
			Name:    c.name,
			Kind:    c.kind,
			Allowed: c.allowed,
			Value:   c.get(&m.record),
		})
	}
	return fields
}

// FieldNames returns the names of all record fields in wire order
func FieldNames() []string {
	names := make([]string, 0, len(schema))
	for i := range schema {
		names = append(names, schema[i].name)
	}
	return names
}
