// Package dedupe implements normalize -> group -> keep-earliest over any
// record type.
package dedupe

// Group is one set of records sharing a key. Only groups that dropped at
// least one record are reported.
type Group[T any] struct {
	Key     string `json:"key"`
	Kept    T      `json:"kept"`
	Dropped []T    `json:"dropped"`
}

// KeepEarliest keeps one record per key. earlier decides which of two records
// with the same key is older; when it is nil, input order decides. Kept
// records are returned in order of their key's first appearance. Records
// whose key is empty are never grouped.
func KeepEarliest[T any](items []T, key func(T) string, earlier func(a, b T) bool) ([]T, []Group[T]) {
	type slot struct {
		kept    T
		dropped []T
	}
	var (
		order []string
		slots = make(map[string]*slot)
		kept  = make([]T, 0, len(items))
		// index into kept for each key
		pos = make(map[string]int)
	)

	for _, item := range items {
		k := key(item)
		if k == "" {
			kept = append(kept, item)
			continue
		}
		s, ok := slots[k]
		if !ok {
			slots[k] = &slot{kept: item}
			order = append(order, k)
			pos[k] = len(kept)
			kept = append(kept, item)
			continue
		}
		if earlier != nil && earlier(item, s.kept) {
			s.dropped = append(s.dropped, s.kept)
			s.kept = item
			kept[pos[k]] = item
			continue
		}
		s.dropped = append(s.dropped, item)
	}

	var groups []Group[T]
	for _, k := range order {
		s := slots[k]
		if len(s.dropped) == 0 {
			continue
		}
		groups = append(groups, Group[T]{Key: k, Kept: s.kept, Dropped: s.dropped})
	}
	return kept, groups
}
