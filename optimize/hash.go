package optimize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/wudi/pdfstudio/ir/raw"
)

// hashStream fingerprints a stream by its dictionary (minus /Length) and
// payload.
func hashStream(s *raw.StreamObj) string {
	h := sha256.New()
	d := s.Dict.Copy()
	d.Delete("Length")
	writeHash(h, d)
	h.Write(s.Data)
	return hex.EncodeToString(h.Sum(nil))
}

func writeHash(h hash.Hash, obj raw.Object) {
	switch t := obj.(type) {
	case nil:
		fmt.Fprint(h, "nil")
	case raw.NameObj:
		fmt.Fprint(h, "/", t.Val)
	case raw.NumberObj:
		if t.IsInt {
			fmt.Fprint(h, t.I)
		} else {
			fmt.Fprint(h, t.F)
		}
	case raw.BoolObj:
		fmt.Fprint(h, t.V)
	case raw.StringObj:
		fmt.Fprintf(h, "(%x)", t.Bytes)
	case raw.RefObj:
		fmt.Fprint(h, t.R.String())
	case *raw.ArrayObj:
		fmt.Fprint(h, "[")
		for _, v := range t.Items {
			writeHash(h, v)
			fmt.Fprint(h, ",")
		}
		fmt.Fprint(h, "]")
	case *raw.DictObj:
		fmt.Fprint(h, "<<")
		for _, k := range t.SortedKeys() {
			fmt.Fprint(h, "/", k, " ")
			writeHash(h, t.KV[k])
		}
		fmt.Fprint(h, ">>")
	default:
		fmt.Fprint(h, obj.Type())
	}
}
