package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/rc4"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/wudi/pdfstudio/ir/raw"
)

var (
	ErrUnsupportedEncryption = errors.New("unsupported encryption")
	ErrInvalidPassword       = errors.New("invalid password")
	ErrNotAuthenticated      = errors.New("security handler not authenticated")
)

// DataClass identifies the kind of payload being encrypted or decrypted.
type DataClass int

const (
	DataClassStream DataClass = iota
	DataClassString
	DataClassMetadataStream
)

// Role is the authority a password was accepted with.
type Role int

const (
	RoleNone Role = iota
	RoleUser
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleOwner:
		return "owner"
	}
	return "none"
}

// Algorithm selects the encryption applied when writing.
type Algorithm int

const (
	AlgorithmAES128 Algorithm = iota
	AlgorithmAES256
	AlgorithmRC4128
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmAES256:
		return "aes-256"
	case AlgorithmRC4128:
		return "rc4-128"
	}
	return "aes-128"
}

// ParseAlgorithm maps a user-facing name to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "", "aes-128", "aes128":
		return AlgorithmAES128, nil
	case "aes-256", "aes256":
		return AlgorithmAES256, nil
	case "rc4-128", "rc4":
		return AlgorithmRC4128, nil
	}
	return 0, fmt.Errorf("%w: algorithm %q", ErrUnsupportedEncryption, s)
}

type Handler interface {
	// Authenticate derives the file key from password, accepting either the
	// user or the owner password.
	Authenticate(password string) (Role, error)
	Decrypt(ref raw.ObjectRef, data []byte, class DataClass) ([]byte, error)
	Encrypt(ref raw.ObjectRef, data []byte, class DataClass) ([]byte, error)
	Permissions() raw.Permissions
	EncryptMetadata() bool
	Revision() int
}

type cryptAlgo int

const (
	algoIdentity cryptAlgo = iota
	algoRC4
	algoAESV2
	algoAESV3
)

type standardHandler struct {
	v, r        int
	keyLen      int // bytes
	o, u        []byte
	oe, ue      []byte
	perms       []byte
	p           int32
	id          []byte
	encryptMeta bool
	stmAlgo     cryptAlgo
	strAlgo     cryptAlgo

	key  []byte
	role Role
}

type HandlerBuilder struct {
	encryptDict *raw.DictObj
	fileID      []byte
}

func (b *HandlerBuilder) WithEncryptDict(d *raw.DictObj) *HandlerBuilder { b.encryptDict = d; return b }
func (b *HandlerBuilder) WithFileID(id []byte) *HandlerBuilder          { b.fileID = id; return b }

// Build validates the encryption dictionary. The returned handler must be
// authenticated before it can decrypt.
func (b *HandlerBuilder) Build() (Handler, error) {
	d := b.encryptDict
	if d == nil {
		return nil, fmt.Errorf("%w: missing encryption dictionary", ErrUnsupportedEncryption)
	}
	if filter, _ := raw.NameOf(d.KV["Filter"]); filter != "Standard" {
		return nil, fmt.Errorf("%w: security handler %q", ErrUnsupportedEncryption, filter)
	}
	v := intVal(d, "V", 0)
	r := intVal(d, "R", 2)
	if v < 1 || v == 3 || v > 5 {
		return nil, fmt.Errorf("%w: V=%d", ErrUnsupportedEncryption, v)
	}
	if r < 2 || r > 6 {
		return nil, fmt.Errorf("%w: R=%d", ErrUnsupportedEncryption, r)
	}
	keyBits := intVal(d, "Length", 40)
	switch {
	case v >= 5:
		keyBits = 256
	case v == 4 && keyBits < 128:
		keyBits = 128
	}
	if keyBits%8 != 0 || keyBits < 40 || keyBits > 256 {
		return nil, fmt.Errorf("%w: key length %d", ErrUnsupportedEncryption, keyBits)
	}

	h := &standardHandler{
		v:           v,
		r:           r,
		keyLen:      keyBits / 8,
		o:           bytesVal(d, "O"),
		u:           bytesVal(d, "U"),
		oe:          bytesVal(d, "OE"),
		ue:          bytesVal(d, "UE"),
		perms:       bytesVal(d, "Perms"),
		p:           int32(intVal(d, "P", -4)),
		id:          b.fileID,
		encryptMeta: true,
		stmAlgo:     algoRC4,
		strAlgo:     algoRC4,
	}
	if r == 2 {
		h.keyLen = 5
	}
	if em, ok := d.KV["EncryptMetadata"].(raw.BoolObj); ok {
		h.encryptMeta = em.V
	}
	if v >= 4 {
		cfs, err := parseCryptFilters(d)
		if err != nil {
			return nil, err
		}
		if h.stmAlgo, err = resolveCryptFilter(d, "StmF", cfs); err != nil {
			return nil, err
		}
		if h.strAlgo, err = resolveCryptFilter(d, "StrF", cfs); err != nil {
			return nil, err
		}
	}
	if r >= 5 && (len(h.u) < 48 || len(h.o) < 48) {
		return nil, fmt.Errorf("%w: truncated O/U entries", ErrUnsupportedEncryption)
	}
	if r < 5 && (len(h.u) < 16 || len(h.o) < 32) {
		return nil, fmt.Errorf("%w: truncated O/U entries", ErrUnsupportedEncryption)
	}
	return h, nil
}

func (h *standardHandler) Revision() int         { return h.r }
func (h *standardHandler) EncryptMetadata() bool { return h.encryptMeta }

func (h *standardHandler) Authenticate(password string) (Role, error) {
	if h.r >= 5 {
		return h.authenticateAES256(utf8Password(password))
	}
	pwd := latin1Password(password)
	if key := h.computeKey(pwd); h.checkUserKey(key) {
		h.key, h.role = key, RoleUser
		return RoleUser, nil
	}
	userPwd := h.recoverUserPassword(pwd)
	if key := h.computeKey(userPwd); h.checkUserKey(key) {
		h.key, h.role = key, RoleOwner
		return RoleOwner, nil
	}
	return RoleNone, ErrInvalidPassword
}

func (h *standardHandler) authenticateAES256(pwd []byte) (Role, error) {
	hash := func(salt, extra []byte) []byte {
		if h.r == 5 {
			return sha256Sum(pwd, salt, extra)
		}
		return rev6Hash(pwd, salt, extra)
	}
	if bytes.Equal(hash(h.u[32:40], nil), h.u[:32]) {
		key, err := aesCBCNoPad(hash(h.u[40:48], nil), make([]byte, 16), h.ue, false)
		if err != nil {
			return RoleNone, err
		}
		h.key, h.role = key, RoleUser
		return RoleUser, nil
	}
	if bytes.Equal(hash(h.o[32:40], h.u[:48]), h.o[:32]) {
		key, err := aesCBCNoPad(hash(h.o[40:48], h.u[:48]), make([]byte, 16), h.oe, false)
		if err != nil {
			return RoleNone, err
		}
		h.key, h.role = key, RoleOwner
		return RoleOwner, nil
	}
	return RoleNone, ErrInvalidPassword
}

func (h *standardHandler) Decrypt(ref raw.ObjectRef, data []byte, class DataClass) ([]byte, error) {
	return h.crypt(ref, data, class, false)
}

func (h *standardHandler) Encrypt(ref raw.ObjectRef, data []byte, class DataClass) ([]byte, error) {
	return h.crypt(ref, data, class, true)
}

func (h *standardHandler) crypt(ref raw.ObjectRef, data []byte, class DataClass, encrypt bool) ([]byte, error) {
	if h.key == nil {
		return nil, ErrNotAuthenticated
	}
	algo := h.stmAlgo
	switch class {
	case DataClassString:
		algo = h.strAlgo
	case DataClassMetadataStream:
		if !h.encryptMeta {
			algo = algoIdentity
		}
	}
	switch algo {
	case algoIdentity:
		return data, nil
	case algoRC4:
		return rc4Crypt(h.objectKey(ref, false), data)
	case algoAESV2:
		return aesCrypt(h.objectKey(ref, true), data, encrypt)
	case algoAESV3:
		return aesCrypt(h.key, data, encrypt)
	}
	return nil, fmt.Errorf("%w: crypt method %d", ErrUnsupportedEncryption, algo)
}

func (h *standardHandler) Permissions() raw.Permissions { return permissionsFromValue(h.p) }

// computeKey implements the revision 2-4 file key derivation.
func (h *standardHandler) computeKey(pwd []byte) []byte {
	m := md5.New()
	m.Write(padPassword(pwd))
	m.Write(h.o[:32])
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], uint32(h.p))
	m.Write(p[:])
	m.Write(h.id)
	if h.r >= 4 && !h.encryptMeta {
		m.Write([]byte{0xff, 0xff, 0xff, 0xff})
	}
	sum := m.Sum(nil)
	if h.r >= 3 {
		for i := 0; i < 50; i++ {
			next := md5.Sum(sum[:h.keyLen])
			sum = next[:]
		}
	}
	return sum[:h.keyLen]
}

func (h *standardHandler) checkUserKey(key []byte) bool {
	u := computeU(key, h.id, h.r)
	if h.r == 2 {
		return bytes.Equal(u, h.u[:32])
	}
	return bytes.Equal(u[:16], h.u[:16])
}

// recoverUserPassword decrypts /O with the owner key, yielding the padded
// user password.
func (h *standardHandler) recoverUserPassword(ownerPwd []byte) []byte {
	key := ownerKey(ownerPwd, h.r, h.keyLen)
	out := append([]byte{}, h.o[:32]...)
	if h.r == 2 {
		return rc4Simple(key, out)
	}
	for i := 19; i >= 0; i-- {
		out = rc4Simple(xorKey(key, byte(i)), out)
	}
	return out
}

func (h *standardHandler) objectKey(ref raw.ObjectRef, aes bool) []byte {
	buf := make([]byte, 0, len(h.key)+9)
	buf = append(buf, h.key...)
	buf = append(buf, byte(ref.Num), byte(ref.Num>>8), byte(ref.Num>>16), byte(ref.Gen), byte(ref.Gen>>8))
	if aes {
		buf = append(buf, "sAlT"...)
	}
	sum := md5.Sum(buf)
	n := len(h.key) + 5
	if n > 16 {
		n = 16
	}
	return sum[:n]
}

func computeU(key, id []byte, r int) []byte {
	if r == 2 {
		return rc4Simple(key, passwordPadding)
	}
	m := md5.New()
	m.Write(passwordPadding)
	m.Write(id)
	out := rc4Simple(key, m.Sum(nil))
	for i := 1; i <= 19; i++ {
		out = rc4Simple(xorKey(key, byte(i)), out)
	}
	return append(out, passwordPadding[:16]...)
}

func computeO(ownerPwd, userPwd []byte, r, keyLen int) []byte {
	if len(ownerPwd) == 0 {
		ownerPwd = userPwd
	}
	key := ownerKey(ownerPwd, r, keyLen)
	out := rc4Simple(key, padPassword(userPwd))
	if r >= 3 {
		for i := 1; i <= 19; i++ {
			out = rc4Simple(xorKey(key, byte(i)), out)
		}
	}
	return out
}

func ownerKey(ownerPwd []byte, r, keyLen int) []byte {
	sum := md5.Sum(padPassword(ownerPwd))
	if r >= 3 {
		for i := 0; i < 50; i++ {
			sum = md5.Sum(sum[:])
		}
	}
	return append([]byte{}, sum[:keyLen]...)
}

func parseCryptFilters(d *raw.DictObj) (map[string]cryptAlgo, error) {
	out := map[string]cryptAlgo{"Identity": algoIdentity}
	cf, ok := d.KV["CF"].(*raw.DictObj)
	if !ok {
		return out, nil
	}
	for name, v := range cf.KV {
		fd, ok := v.(*raw.DictObj)
		if !ok {
			continue
		}
		switch cfm, _ := raw.NameOf(fd.KV["CFM"]); cfm {
		case "", "None":
			out[name] = algoIdentity
		case "V2":
			out[name] = algoRC4
		case "AESV2":
			out[name] = algoAESV2
		case "AESV3":
			out[name] = algoAESV3
		default:
			return nil, fmt.Errorf("%w: crypt filter method %q", ErrUnsupportedEncryption, cfm)
		}
	}
	return out, nil
}

func resolveCryptFilter(d *raw.DictObj, key string, cfs map[string]cryptAlgo) (cryptAlgo, error) {
	name, ok := raw.NameOf(d.KV[key])
	if !ok {
		return algoIdentity, nil
	}
	algo, ok := cfs[name]
	if !ok {
		return 0, fmt.Errorf("%w: unknown crypt filter %q", ErrUnsupportedEncryption, name)
	}
	return algo, nil
}

func intVal(d *raw.DictObj, key string, def int) int {
	if v, ok := raw.IntOf(d.KV[key]); ok {
		return int(v)
	}
	return def
}

func bytesVal(d *raw.DictObj, key string) []byte {
	b, _ := raw.BytesOf(d.KV[key])
	return b
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func rc4Simple(key, data []byte) []byte {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out
}

func rc4Crypt(key, data []byte) ([]byte, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out, nil
}

func xorKey(key []byte, v byte) []byte {
	out := make([]byte, len(key))
	for i, b := range key {
		out[i] = b ^ v
	}
	return out
}

// aesCrypt handles the IV-prefixed, PKCS#7 padded payloads used by AESV2/V3.
func aesCrypt(key, data []byte, encrypt bool) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if encrypt {
		iv, err := randomBytes(aes.BlockSize)
		if err != nil {
			return nil, err
		}
		pad := aes.BlockSize - len(data)%aes.BlockSize
		buf := make([]byte, len(data)+pad)
		copy(buf, data)
		for i := len(data); i < len(buf); i++ {
			buf[i] = byte(pad)
		}
		out := make([]byte, aes.BlockSize+len(buf))
		copy(out, iv)
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], buf)
		return out, nil
	}
	if len(data) < aes.BlockSize {
		// Empty strings are sometimes written without an IV.
		return []byte{}, nil
	}
	iv := data[:aes.BlockSize]
	body := data[aes.BlockSize:]
	body = body[:len(body)-len(body)%aes.BlockSize]
	if len(body) == 0 {
		return []byte{}, nil
	}
	out := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, body)
	if pad := int(out[len(out)-1]); pad >= 1 && pad <= aes.BlockSize && pad <= len(out) {
		out = out[:len(out)-pad]
	}
	return out, nil
}

func aesCBCNoPad(key, iv, data []byte, encrypt bool) ([]byte, error) {
	if len(data)%aes.BlockSize != 0 || len(data) == 0 {
		return nil, fmt.Errorf("%w: bad key envelope length %d", ErrUnsupportedEncryption, len(data))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	if encrypt {
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	} else {
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	}
	return out, nil
}
