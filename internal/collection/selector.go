package collection

import "strings"

// SelectPending partitions notes into those whose target field still
// needs to be filled and those already complete. A note is pending iff
// the target position is beyond its value count or the value there
// trims to empty. The input is not modified and ordering is preserved
// within both partitions, which keeps dry-run previews deterministic.
func SelectPending(notes []Note, fieldMap FieldMap, targetField string) (pending, done []Note) {
	targetIndex, ok := fieldMap[targetField]
	if !ok {
		// Without a target position nothing can be classified as done.
		return notes, nil
	}

	for _, note := range notes {
		values := note.SplitFields()
		if len(values) <= targetIndex || strings.TrimSpace(values[targetIndex]) == "" {
			pending = append(pending, note)
		} else {
			done = append(done, note)
		}
	}
	return pending, done
}
