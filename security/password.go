package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/sha512"
	"unicode/utf8"

	"github.com/wudi/pdfstudio/ir/raw"
)

var passwordPadding = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

func padPassword(pwd []byte) []byte {
	out := make([]byte, 32)
	n := copy(out, pwd)
	copy(out[n:], passwordPadding)
	return out
}

// latin1Password encodes the password for revisions 2-4, which predate
// Unicode passwords. Runes outside Latin-1 are dropped.
func latin1Password(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r < 256 {
			out = append(out, byte(r))
		}
	}
	if len(out) > 32 {
		out = out[:32]
	}
	return out
}

// utf8Password truncates to the 127 bytes revision 5/6 hashes consume,
// without splitting a rune.
func utf8Password(s string) []byte {
	b := []byte(s)
	if len(b) <= 127 {
		return b
	}
	b = b[:127]
	for len(b) > 0 && !utf8.Valid(b) {
		b = b[:len(b)-1]
	}
	return b
}

// RecoverUserPassword returns the user password of a revision 2-4 file from
// its owner password. ok is false for revision 5/6 and foreign handlers.
func RecoverUserPassword(h Handler, ownerPassword string) (string, bool) {
	sh, ok := h.(*standardHandler)
	if !ok || sh.r >= 5 {
		return "", false
	}
	padded := sh.recoverUserPassword(latin1Password(ownerPassword))
	if !sh.checkUserKey(sh.computeKey(padded)) {
		return "", false
	}
	n := len(padded)
	for i := range padded {
		if bytes.Equal(padded[i:], passwordPadding[:len(padded)-i]) {
			n = i
			break
		}
	}
	runes := make([]rune, n)
	for i, b := range padded[:n] {
		runes[i] = rune(b)
	}
	return string(runes), true
}

func sha256Sum(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// rev6Hash is the iterated hash of ISO 32000-2 algorithm 2.B.
func rev6Hash(pwd, salt, udata []byte) []byte {
	k := sha256Sum(pwd, salt, udata)
	var e []byte
	for i := 0; i < 64 || int(e[len(e)-1]) > i-32; i++ {
		unit := make([]byte, 0, len(pwd)+len(k)+len(udata))
		unit = append(unit, pwd...)
		unit = append(unit, k...)
		unit = append(unit, udata...)
		k1 := make([]byte, 0, 64*len(unit))
		for j := 0; j < 64; j++ {
			k1 = append(k1, unit...)
		}

		block, _ := aes.NewCipher(k[:16])
		e = make([]byte, len(k1))
		cipher.NewCBCEncrypter(block, k[16:32]).CryptBlocks(e, k1)

		sum := 0
		for _, b := range e[:16] {
			sum += int(b)
		}
		switch sum % 3 {
		case 0:
			s := sha256.Sum256(e)
			k = s[:]
		case 1:
			s := sha512.Sum384(e)
			k = s[:]
		default:
			s := sha512.Sum512(e)
			k = s[:]
		}
	}
	return k[:32]
}

const (
	permPrint             = 1 << 2
	permModify            = 1 << 3
	permCopy              = 1 << 4
	permModifyAnnotations = 1 << 5
	permFillForms         = 1 << 8
	permExtractAccessible = 1 << 9
	permAssemble          = 1 << 10
	permPrintHighQuality  = 1 << 11

	// Bits 7-8 and 13-32 are reserved and must be set.
	permReserved uint32 = 0xFFFFF0C0
)

// PermissionsValue encodes permissions as the /P integer.
func PermissionsValue(p raw.Permissions) int32 {
	v := permReserved
	flags := []struct {
		on  bool
		bit uint32
	}{
		{p.Print, permPrint},
		{p.Modify, permModify},
		{p.Copy, permCopy},
		{p.ModifyAnnotations, permModifyAnnotations},
		{p.FillForms, permFillForms},
		{p.ExtractAccessible, permExtractAccessible},
		{p.Assemble, permAssemble},
		{p.PrintHighQuality, permPrintHighQuality},
	}
	for _, f := range flags {
		if f.on {
			v |= f.bit
		}
	}
	return int32(v)
}

func permissionsFromValue(p int32) raw.Permissions {
	v := uint32(p)
	return raw.Permissions{
		Print:             v&permPrint != 0,
		Modify:            v&permModify != 0,
		Copy:              v&permCopy != 0,
		ModifyAnnotations: v&permModifyAnnotations != 0,
		FillForms:         v&permFillForms != 0,
		ExtractAccessible: v&permExtractAccessible != 0,
		Assemble:          v&permAssemble != 0,
		PrintHighQuality:  v&permPrintHighQuality != 0,
	}
}
