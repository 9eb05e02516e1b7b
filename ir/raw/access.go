package raw

// NameOf returns the value of a name object.
func NameOf(o Object) (string, bool) {
	n, ok := o.(NameObj)
	return n.Val, ok
}

// IntOf returns the integer value of a number object.
func IntOf(o Object) (int64, bool) {
	n, ok := o.(NumberObj)
	if !ok {
		return 0, false
	}
	return n.Int(), true
}

// FloatOf returns the value of a number object as float64.
func FloatOf(o Object) (float64, bool) {
	n, ok := o.(NumberObj)
	if !ok {
		return 0, false
	}
	return n.Float(), true
}

// BytesOf returns the payload of a string object.
func BytesOf(o Object) ([]byte, bool) {
	s, ok := o.(StringObj)
	return s.Bytes, ok
}

// DictOf returns o as a dictionary. Streams yield their dictionary.
func DictOf(o Object) (*DictObj, bool) {
	switch v := o.(type) {
	case *DictObj:
		return v, v != nil
	case *StreamObj:
		return v.Dict, v != nil && v.Dict != nil
	}
	return nil, false
}

// ArrayOf returns o as an array.
func ArrayOf(o Object) (*ArrayObj, bool) {
	a, ok := o.(*ArrayObj)
	return a, ok && a != nil
}

// Floats converts an array of numbers. Non-numeric items fail the conversion.
func Floats(o Object) ([]float64, bool) {
	arr, ok := ArrayOf(o)
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(arr.Items))
	for _, item := range arr.Items {
		f, ok := FloatOf(item)
		if !ok {
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}

// Clone deep-copies the direct structure of o. References are copied as
// references and stream payloads are shared, never mutated in place.
func Clone(o Object) Object {
	switch v := o.(type) {
	case *DictObj:
		if v == nil {
			return v
		}
		out := &DictObj{KV: make(map[string]Object, len(v.KV))}
		for k, item := range v.KV {
			out.KV[k] = Clone(item)
		}
		return out
	case *ArrayObj:
		if v == nil {
			return v
		}
		out := &ArrayObj{Items: make([]Object, len(v.Items))}
		for i, item := range v.Items {
			out.Items[i] = Clone(item)
		}
		return out
	case *StreamObj:
		if v == nil {
			return v
		}
		var dict *DictObj
		if v.Dict != nil {
			dict = Clone(v.Dict).(*DictObj)
		}
		return &StreamObj{Dict: dict, Data: v.Data}
	case StringObj:
		b := make([]byte, len(v.Bytes))
		copy(b, v.Bytes)
		return StringObj{Bytes: b, Hex: v.Hex}
	default:
		return o
	}
}
