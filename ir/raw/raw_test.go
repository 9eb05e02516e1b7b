package raw

import "testing"

func TestResolveFollowsChains(t *testing.T) {
	doc := NewDocument("1.7")
	doc.Objects[ObjectRef{Num: 1}] = Ref(2, 0)
	doc.Objects[ObjectRef{Num: 2}] = NumberInt(42)

	got, ok := IntOf(doc.Resolve(Ref(1, 0)))
	if !ok || got != 42 {
		t.Fatalf("expected 42, got %v (%v)", got, ok)
	}
	if _, ok := doc.Resolve(Ref(9, 0)).(NullObj); !ok {
		t.Fatalf("dangling reference should resolve to null")
	}
}

func TestResolveStopsOnCycles(t *testing.T) {
	doc := NewDocument("1.7")
	doc.Objects[ObjectRef{Num: 1}] = Ref(2, 0)
	doc.Objects[ObjectRef{Num: 2}] = Ref(1, 0)
	if _, ok := doc.Resolve(Ref(1, 0)).(NullObj); !ok {
		t.Fatalf("reference cycle should resolve to null")
	}
}

func TestCloneIsDeep(t *testing.T) {
	inner := Dict()
	inner.Put("A", NumberInt(1))
	d := Dict()
	d.Put("Inner", inner)
	d.Put("Arr", NewArray(NumberInt(1), Ref(3, 0)))

	cp := Clone(d).(*DictObj)
	cp.KV["Inner"].(*DictObj).Put("A", NumberInt(2))
	cp.KV["Arr"].(*ArrayObj).Append(NullObj{})

	if v, _ := IntOf(inner.KV["A"]); v != 1 {
		t.Fatalf("clone mutated source dictionary")
	}
	if d.KV["Arr"].(*ArrayObj).Len() != 2 {
		t.Fatalf("clone mutated source array")
	}
}

func TestShallowCopyOwnsObjectMap(t *testing.T) {
	doc := NewDocument("1.7")
	doc.Objects[ObjectRef{Num: 1}] = NumberInt(1)
	cp := doc.ShallowCopy()
	cp.Objects[ObjectRef{Num: 1}] = NumberInt(2)
	if v, _ := IntOf(doc.Objects[ObjectRef{Num: 1}]); v != 1 {
		t.Fatalf("shallow copy leaked into source")
	}
}

func TestLookupThroughStream(t *testing.T) {
	doc := NewDocument("1.7")
	sd := Dict()
	sd.Put("Length", Ref(5, 0))
	doc.Objects[ObjectRef{Num: 4}] = NewStream(sd, []byte("abc"))
	doc.Objects[ObjectRef{Num: 5}] = NumberInt(3)
	if n, _ := IntOf(doc.Lookup(Ref(4, 0), "Length")); n != 3 {
		t.Fatalf("expected length 3, got %d", n)
	}
}
