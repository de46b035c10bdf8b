package dynamo

// Flatten concatenates nested into a single slice. It expands exactly one
// level: Flatten([][][]int{{{1}}}) is [][]int{{1}}.
func Flatten[T any](nested [][]T) []T {
	n := 0
	for _, inner := range nested {
		n += len(inner)
	}
	out := make([]T, 0, n)
	for _, inner := range nested {
		out = append(out, inner...)
	}
	return out
}

// FlattenAny expands every []any element of items by one level and keeps
// scalar elements in place.
func FlattenAny(items []any) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		if inner, ok := item.([]any); ok {
			out = append(out, inner...)
			continue
		}
		out = append(out, item)
	}
	return out
}

// ExtractExceptions splits outcomes into a flat list of snapshots and a list
// of errors aligned with the input positions (nil for successful runs).
func ExtractExceptions(outcomes []Outcome) ([]Snapshot, []error) {
	results := make([][][]Snapshot, len(outcomes))
	exceptions := make([]error, len(outcomes))
	for i, o := range outcomes {
		results[i] = o.Result
		exceptions[i] = o.Err
	}
	return Flatten(Flatten(results)), exceptions
}
