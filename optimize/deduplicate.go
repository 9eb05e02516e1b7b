package optimize

import "github.com/wudi/pdfstudio/ir/raw"

// combineDuplicateStreams points every reference to a repeated stream at its
// lowest numbered twin and drops the rest. It returns the replacements made.
func combineDuplicateStreams(doc *raw.Document) map[raw.ObjectRef]raw.ObjectRef {
	seen := make(map[string]raw.ObjectRef)
	replacements := make(map[raw.ObjectRef]raw.ObjectRef)
	for _, ref := range doc.Refs() {
		s, ok := doc.Objects[ref].(*raw.StreamObj)
		if !ok || s.Dict == nil {
			continue
		}
		h := hashStream(s)
		if original, ok := seen[h]; ok {
			replacements[ref] = original
		} else {
			seen[h] = ref
		}
	}
	if len(replacements) == 0 {
		return nil
	}
	for _, ref := range doc.Refs() {
		if next, changed := replaceRefs(doc.Objects[ref], replacements); changed {
			doc.Objects[ref] = next
		}
	}
	if doc.Trailer != nil {
		if next, changed := replaceRefs(doc.Trailer, replacements); changed {
			doc.Trailer = next.(*raw.DictObj)
		}
	}
	for dup := range replacements {
		delete(doc.Objects, dup)
	}
	return replacements
}

// replaceRefs returns obj with references rewritten. Containers are copied
// only along changed paths so shared objects stay untouched.
func replaceRefs(obj raw.Object, repl map[raw.ObjectRef]raw.ObjectRef) (raw.Object, bool) {
	switch t := obj.(type) {
	case raw.RefObj:
		if to, ok := repl[t.R]; ok {
			return raw.RefObj{R: to}, true
		}
	case *raw.ArrayObj:
		var out *raw.ArrayObj
		for i, v := range t.Items {
			if next, changed := replaceRefs(v, repl); changed {
				if out == nil {
					out = raw.NewArray(append([]raw.Object(nil), t.Items...)...)
				}
				out.Items[i] = next
			}
		}
		if out != nil {
			return out, true
		}
	case *raw.DictObj:
		var out *raw.DictObj
		for k, v := range t.KV {
			if next, changed := replaceRefs(v, repl); changed {
				if out == nil {
					out = t.Copy()
				}
				out.KV[k] = next
			}
		}
		if out != nil {
			return out, true
		}
	case *raw.StreamObj:
		if d, changed := replaceRefs(t.Dict, repl); changed {
			return raw.NewStream(d.(*raw.DictObj), t.Data), true
		}
	}
	return obj, false
}
