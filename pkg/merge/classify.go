package merge

import "github.com/aretw0/concord/pkg/domain"

// Classify inspects a conflicting batch and reports whether different users wrote
// the same leaf field (parameter_conflict) or only disjoint ones (concurrent_edit).
func Classify(updates []domain.StateUpdate) domain.ConflictType {
	writers := make(map[string]string)
	for _, u := range updates {
		target, ok := u.Type.Target()
		if !ok {
			continue
		}
		for _, path := range leafPaths(string(target), u.Data) {
			prev, seen := writers[path]
			if seen && prev != u.UserID {
				return domain.ConflictParameterConflict
			}
			writers[path] = u.UserID
		}
	}
	return domain.ConflictConcurrentEdit
}

func leafPaths(prefix string, fields map[string]any) []string {
	var out []string
	for k, v := range fields {
		path := prefix + "." + k
		if obj, ok := asObject(v); ok && len(obj) > 0 {
			out = append(out, leafPaths(path, obj)...)
			continue
		}
		out = append(out, path)
	}
	return out
}

// LastPerSubtree keeps, for each subtree, only the last update in ordered.
// Relative order of the survivors is preserved.
func LastPerSubtree(ordered []domain.StateUpdate) []domain.StateUpdate {
	last := make(map[domain.Subtree]int)
	for i, u := range ordered {
		if target, ok := u.Type.Target(); ok {
			last[target] = i
		}
	}
	out := make([]domain.StateUpdate, 0, len(last))
	for i, u := range ordered {
		target, ok := u.Type.Target()
		if ok && last[target] == i {
			out = append(out, u)
		}
	}
	return out
}
