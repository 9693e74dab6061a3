package dataset

// Accumulator is the append-only result collection of a run.
//
// It preserves append order for deterministic output but attaches no meaning
// to it: there is no dedup and no uniqueness constraint across records.
// The zero value is ready to use. Not safe for concurrent use; the engine is
// strictly sequential.
type Accumulator struct {
	records []Record
}

// Append adds records in the given order.
func (a *Accumulator) Append(records ...Record) {
	a.records = append(a.records, records...)
}

// All returns a copy of every record appended so far.
func (a *Accumulator) All() []Record {
	out := make([]Record, len(a.records))
	copy(out, a.records)
	return out
}

// Len reports how many records have been appended.
func (a *Accumulator) Len() int { return len(a.records) }
