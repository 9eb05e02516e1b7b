package raw

import (
	"fmt"
	"sort"
)

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// IsZero reports whether r is the unset reference.
func (r ObjectRef) IsZero() bool { return r.Num == 0 && r.Gen == 0 }

// Object is the base interface for all raw PDF objects.
type Object interface {
	Type() string
	IsIndirect() bool
}

// Dictionary represents a PDF dictionary object.
type Dictionary interface {
	Object
	Get(key Name) (Object, bool)
	Set(key Name, value Object)
	Keys() []Name
	Len() int
}

// Array represents a PDF array object.
type Array interface {
	Object
	Get(index int) (Object, bool)
	Len() int
	Append(obj Object)
}

// Stream represents a raw (still encoded) PDF stream.
type Stream interface {
	Object
	Dictionary() Dictionary
	RawData() []byte
	Length() int64
}

// Name represents a PDF name object.
type Name interface {
	Object
	Value() string
}

// String represents a PDF string (literal or hex).
type String interface {
	Object
	Value() []byte
	IsHex() bool
}

// Number represents a PDF numeric value.
type Number interface {
	Object
	Int() int64
	Float() float64
	IsInteger() bool
}

// Boolean represents a PDF boolean.
type Boolean interface {
	Object
	Value() bool
}

// Reference represents an indirect object reference.
type Reference interface {
	Object
	Ref() ObjectRef
}

// DocumentMetadata contains common PDF info fields.
type DocumentMetadata struct {
	Producer string
	Creator  string
	Title    string
	Author   string
	Subject  string
	Keywords []string
}

// Permissions describes allowed actions expressed in the parsed document.
type Permissions struct {
	Print, Modify, Copy, ModifyAnnotations, FillForms, ExtractAccessible, Assemble, PrintHighQuality bool
}

// AllowAll returns a permission set with every action allowed.
func AllowAll() Permissions {
	return Permissions{true, true, true, true, true, true, true, true}
}

// Document is the root container for raw PDF objects. Every object is held
// fully decrypted; stream payloads keep their filters.
type Document struct {
	Objects           map[ObjectRef]Object
	Trailer           *DictObj
	Version           string // e.g., "1.7"
	Metadata          DocumentMetadata
	Permissions       Permissions
	MetadataEncrypted bool
	Encrypted         bool
}

// NewDocument returns an empty document with an empty trailer.
func NewDocument(version string) *Document {
	return &Document{
		Objects: make(map[ObjectRef]Object),
		Trailer: Dict(),
		Version: version,
	}
}

const maxResolveDepth = 32

// Resolve follows reference chains until a direct object is reached. Dangling
// references resolve to NullObj.
func (d *Document) Resolve(obj Object) Object {
	for i := 0; i < maxResolveDepth; i++ {
		ref, ok := obj.(RefObj)
		if !ok {
			return obj
		}
		next, ok := d.Objects[ref.R]
		if !ok || next == nil {
			return NullObj{}
		}
		obj = next
	}
	return NullObj{}
}

// Lookup resolves obj and, when it is a dictionary or stream dictionary,
// returns the resolved value stored under key.
func (d *Document) Lookup(obj Object, key string) Object {
	dict, ok := d.Resolve(obj).(*DictObj)
	if !ok {
		if s, isStream := d.Resolve(obj).(*StreamObj); isStream {
			dict = s.Dict
		} else {
			return nil
		}
	}
	v, ok := dict.KV[key]
	if !ok {
		return nil
	}
	return d.Resolve(v)
}

// Catalog returns the document catalog referenced by the trailer's /Root.
func (d *Document) Catalog() (*DictObj, bool) {
	if d.Trailer == nil {
		return nil, false
	}
	cat, ok := d.Resolve(d.Trailer.KV["Root"]).(*DictObj)
	return cat, ok
}

// MaxObjectNum returns the highest object number in use.
func (d *Document) MaxObjectNum() int {
	max := 0
	for ref := range d.Objects {
		if ref.Num > max {
			max = ref.Num
		}
	}
	return max
}

// Refs returns all object references sorted by number.
func (d *Document) Refs() []ObjectRef {
	out := make([]ObjectRef, 0, len(d.Objects))
	for ref := range d.Objects {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Num == out[j].Num {
			return out[i].Gen < out[j].Gen
		}
		return out[i].Num < out[j].Num
	})
	return out
}

// ShallowCopy returns a document sharing all objects but owning its object
// map, so entries can be replaced without affecting d.
func (d *Document) ShallowCopy() *Document {
	cp := *d
	cp.Objects = make(map[ObjectRef]Object, len(d.Objects))
	for k, v := range d.Objects {
		cp.Objects[k] = v
	}
	if d.Trailer != nil {
		cp.Trailer = d.Trailer.Copy()
	}
	return &cp
}
