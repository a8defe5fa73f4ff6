package types

// Row is an ordered sequence of values, positionally aligned with a
// schema's column list.
type Row []Value
