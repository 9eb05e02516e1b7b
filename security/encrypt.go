package security

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"

	"github.com/wudi/pdfstudio/ir/raw"
)

// EncryptionConfig describes the protection applied to a written file.
type EncryptionConfig struct {
	Algorithm     Algorithm
	UserPassword  string
	OwnerPassword string
	Permissions   raw.Permissions
	// FileID is the first element of the trailer /ID array.
	FileID []byte
	// PlainMetadata leaves the XMP metadata stream unencrypted.
	PlainMetadata bool
	// Retain reuses the protection of a loaded file instead of deriving
	// new keys. The other fields are ignored.
	Retain *Retained
}

// Retained is the protection of a parsed file: its authenticated handler,
// its /Encrypt dictionary and the first /ID element the keys depend on.
type Retained struct {
	Handler Handler
	Dict    *raw.DictObj
	FileID  []byte
}

// NewEncryption builds an owner-authenticated handler plus the /Encrypt
// dictionary describing it. An empty owner password falls back to the user
// password.
func NewEncryption(cfg EncryptionConfig) (Handler, *raw.DictObj, error) {
	if r := cfg.Retain; r != nil {
		if r.Handler == nil || r.Dict == nil || len(r.FileID) == 0 {
			return nil, nil, fmt.Errorf("%w: incomplete retained protection", ErrUnsupportedEncryption)
		}
		return r.Handler, r.Dict.Copy(), nil
	}
	if len(cfg.FileID) == 0 {
		return nil, nil, fmt.Errorf("%w: file identifier required", ErrUnsupportedEncryption)
	}
	owner := cfg.OwnerPassword
	if owner == "" {
		owner = cfg.UserPassword
	}
	switch cfg.Algorithm {
	case AlgorithmAES256:
		return newAES256(cfg, owner)
	case AlgorithmAES128:
		return newLegacy(cfg, owner, 4, 4, algoAESV2)
	case AlgorithmRC4128:
		return newLegacy(cfg, owner, 2, 3, algoRC4)
	}
	return nil, nil, fmt.Errorf("%w: algorithm %d", ErrUnsupportedEncryption, cfg.Algorithm)
}

func newLegacy(cfg EncryptionConfig, owner string, v, r int, algo cryptAlgo) (Handler, *raw.DictObj, error) {
	h := &standardHandler{
		v:           v,
		r:           r,
		keyLen:      16,
		p:           PermissionsValue(cfg.Permissions),
		id:          cfg.FileID,
		encryptMeta: !cfg.PlainMetadata,
		stmAlgo:     algo,
		strAlgo:     algo,
		role:        RoleOwner,
	}
	userPwd := latin1Password(cfg.UserPassword)
	h.o = computeO(latin1Password(owner), userPwd, r, h.keyLen)
	h.key = h.computeKey(userPwd)
	h.u = computeU(h.key, h.id, r)

	d := raw.Dict()
	d.Put("Filter", raw.NameLiteral("Standard"))
	d.Put("V", raw.NumberInt(int64(v)))
	d.Put("R", raw.NumberInt(int64(r)))
	d.Put("Length", raw.NumberInt(128))
	d.Put("O", raw.HexStr(h.o))
	d.Put("U", raw.HexStr(h.u))
	d.Put("P", raw.NumberInt(int64(h.p)))
	if v == 4 {
		d.Put("CF", stdCF("AESV2", 16))
		d.Put("StmF", raw.NameLiteral("StdCF"))
		d.Put("StrF", raw.NameLiteral("StdCF"))
		if !h.encryptMeta {
			d.Put("EncryptMetadata", raw.Bool(false))
		}
	}
	return h, d, nil
}

func newAES256(cfg EncryptionConfig, owner string) (Handler, *raw.DictObj, error) {
	key, err := randomBytes(32)
	if err != nil {
		return nil, nil, err
	}
	salts, err := randomBytes(32)
	if err != nil {
		return nil, nil, err
	}
	userPwd, ownerPwd := utf8Password(cfg.UserPassword), utf8Password(owner)
	uvs, uks, ovs, oks := salts[0:8], salts[8:16], salts[16:24], salts[24:32]

	u := append(append(rev6Hash(userPwd, uvs, nil), uvs...), uks...)
	ue, err := aesCBCNoPad(rev6Hash(userPwd, uks, nil), make([]byte, 16), key, true)
	if err != nil {
		return nil, nil, err
	}
	o := append(append(rev6Hash(ownerPwd, ovs, u), ovs...), oks...)
	oe, err := aesCBCNoPad(rev6Hash(ownerPwd, oks, u), make([]byte, 16), key, true)
	if err != nil {
		return nil, nil, err
	}

	p := PermissionsValue(cfg.Permissions)
	perms := make([]byte, 16)
	binary.LittleEndian.PutUint32(perms[0:4], uint32(p))
	copy(perms[4:8], []byte{0xff, 0xff, 0xff, 0xff})
	perms[8] = 'T'
	if cfg.PlainMetadata {
		perms[8] = 'F'
	}
	copy(perms[9:12], "adb")
	tail, err := randomBytes(4)
	if err != nil {
		return nil, nil, err
	}
	copy(perms[12:], tail)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	encPerms := make([]byte, 16)
	block.Encrypt(encPerms, perms)

	h := &standardHandler{
		v:           5,
		r:           6,
		keyLen:      32,
		o:           o,
		u:           u,
		oe:          oe,
		ue:          ue,
		perms:       encPerms,
		p:           p,
		id:          cfg.FileID,
		encryptMeta: !cfg.PlainMetadata,
		stmAlgo:     algoAESV3,
		strAlgo:     algoAESV3,
		key:         key,
		role:        RoleOwner,
	}

	d := raw.Dict()
	d.Put("Filter", raw.NameLiteral("Standard"))
	d.Put("V", raw.NumberInt(5))
	d.Put("R", raw.NumberInt(6))
	d.Put("Length", raw.NumberInt(256))
	d.Put("O", raw.HexStr(o))
	d.Put("U", raw.HexStr(u))
	d.Put("OE", raw.HexStr(oe))
	d.Put("UE", raw.HexStr(ue))
	d.Put("Perms", raw.HexStr(encPerms))
	d.Put("P", raw.NumberInt(int64(p)))
	d.Put("CF", stdCF("AESV3", 32))
	d.Put("StmF", raw.NameLiteral("StdCF"))
	d.Put("StrF", raw.NameLiteral("StdCF"))
	if cfg.PlainMetadata {
		d.Put("EncryptMetadata", raw.Bool(false))
	}
	return h, d, nil
}

func stdCF(method string, length int64) *raw.DictObj {
	std := raw.Dict()
	std.Put("Type", raw.NameLiteral("CryptFilter"))
	std.Put("CFM", raw.NameLiteral(method))
	std.Put("AuthEvent", raw.NameLiteral("DocOpen"))
	std.Put("Length", raw.NumberInt(length))
	cf := raw.Dict()
	cf.Put("StdCF", std)
	return cf
}
