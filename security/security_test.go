package security

import (
	"bytes"
	"errors"
	"testing"

	"github.com/wudi/pdfstudio/ir/raw"
)

var testID = []byte("0123456789abcdef")

func TestEncryptionRoundTrip(t *testing.T) {
	algos := []Algorithm{AlgorithmAES128, AlgorithmAES256, AlgorithmRC4128}
	for _, algo := range algos {
		t.Run(algo.String(), func(t *testing.T) {
			perms := raw.Permissions{Print: true, Copy: true}
			writer, dict, err := NewEncryption(EncryptionConfig{
				Algorithm:     algo,
				UserPassword:  "user",
				OwnerPassword: "owner",
				Permissions:   perms,
				FileID:        testID,
			})
			if err != nil {
				t.Fatalf("new encryption: %v", err)
			}
			ref := raw.ObjectRef{Num: 7, Gen: 0}
			plain := []byte("BT /F1 12 Tf (secret) Tj ET")
			enc, err := writer.Encrypt(ref, plain, DataClassStream)
			if err != nil {
				t.Fatalf("encrypt: %v", err)
			}
			if bytes.Contains(enc, []byte("secret")) {
				t.Fatalf("payload not encrypted")
			}

			reader, err := (&HandlerBuilder{}).WithEncryptDict(dict).WithFileID(testID).Build()
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if _, err := reader.Decrypt(ref, enc, DataClassStream); !errors.Is(err, ErrNotAuthenticated) {
				t.Fatalf("expected ErrNotAuthenticated before Authenticate, got %v", err)
			}
			role, err := reader.Authenticate("user")
			if err != nil || role != RoleUser {
				t.Fatalf("user auth: role=%v err=%v", role, err)
			}
			got, err := reader.Decrypt(ref, enc, DataClassStream)
			if err != nil {
				t.Fatalf("decrypt: %v", err)
			}
			if !bytes.Equal(got, plain) {
				t.Fatalf("round trip mismatch: %q", got)
			}
			if reader.Permissions() != perms {
				t.Fatalf("permissions: got %+v want %+v", reader.Permissions(), perms)
			}

			owner, err := (&HandlerBuilder{}).WithEncryptDict(dict).WithFileID(testID).Build()
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if role, err := owner.Authenticate("owner"); err != nil || role != RoleOwner {
				t.Fatalf("owner auth: role=%v err=%v", role, err)
			}
			if got, _ := owner.Decrypt(ref, enc, DataClassStream); !bytes.Equal(got, plain) {
				t.Fatalf("owner key decrypts differently: %q", got)
			}
		})
	}
}

func TestWrongPassword(t *testing.T) {
	for _, algo := range []Algorithm{AlgorithmAES128, AlgorithmAES256, AlgorithmRC4128} {
		_, dict, err := NewEncryption(EncryptionConfig{Algorithm: algo, UserPassword: "a", OwnerPassword: "b", FileID: testID})
		if err != nil {
			t.Fatalf("%v: %v", algo, err)
		}
		h, err := (&HandlerBuilder{}).WithEncryptDict(dict).WithFileID(testID).Build()
		if err != nil {
			t.Fatalf("%v: build: %v", algo, err)
		}
		if _, err := h.Authenticate("nope"); !errors.Is(err, ErrInvalidPassword) {
			t.Fatalf("%v: expected ErrInvalidPassword, got %v", algo, err)
		}
	}
}

func TestEmptyUserPasswordOpens(t *testing.T) {
	_, dict, err := NewEncryption(EncryptionConfig{OwnerPassword: "owner", FileID: testID})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	h, _ := (&HandlerBuilder{}).WithEncryptDict(dict).WithFileID(testID).Build()
	if role, err := h.Authenticate(""); err != nil || role != RoleUser {
		t.Fatalf("empty user password: role=%v err=%v", role, err)
	}
}

func TestStringsUseObjectKey(t *testing.T) {
	h, _, err := NewEncryption(EncryptionConfig{Algorithm: AlgorithmRC4128, FileID: testID})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	a, _ := h.Encrypt(raw.ObjectRef{Num: 1}, []byte("same"), DataClassString)
	b, _ := h.Encrypt(raw.ObjectRef{Num: 2}, []byte("same"), DataClassString)
	if bytes.Equal(a, b) {
		t.Fatalf("different objects must use different keys")
	}
}

func TestPlainMetadata(t *testing.T) {
	h, dict, err := NewEncryption(EncryptionConfig{FileID: testID, PlainMetadata: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if em, ok := dict.KV["EncryptMetadata"].(raw.BoolObj); !ok || em.V {
		t.Fatalf("dictionary should carry EncryptMetadata false")
	}
	xmp := []byte("<x:xmpmeta/>")
	out, err := h.Encrypt(raw.ObjectRef{Num: 3}, xmp, DataClassMetadataStream)
	if err != nil || !bytes.Equal(out, xmp) {
		t.Fatalf("metadata should pass through, got %q (%v)", out, err)
	}
}

func TestUnsupportedHandler(t *testing.T) {
	cases := []struct {
		name string
		dict *raw.DictObj
	}{
		{"public key", func() *raw.DictObj {
			d := raw.Dict()
			d.Put("Filter", raw.NameLiteral("Adobe.PubSec"))
			return d
		}()},
		{"bad revision", func() *raw.DictObj {
			d := raw.Dict()
			d.Put("Filter", raw.NameLiteral("Standard"))
			d.Put("V", raw.NumberInt(2))
			d.Put("R", raw.NumberInt(9))
			return d
		}()},
		{"unknown crypt method", func() *raw.DictObj {
			d := raw.Dict()
			d.Put("Filter", raw.NameLiteral("Standard"))
			d.Put("V", raw.NumberInt(4))
			d.Put("R", raw.NumberInt(4))
			d.Put("CF", stdCF("ROT13", 16))
			d.Put("StmF", raw.NameLiteral("StdCF"))
			return d
		}()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := (&HandlerBuilder{}).WithEncryptDict(tc.dict).WithFileID(testID).Build()
			if !errors.Is(err, ErrUnsupportedEncryption) {
				t.Fatalf("expected ErrUnsupportedEncryption, got %v", err)
			}
		})
	}
}

func TestPermissionsValue(t *testing.T) {
	if got := uint32(PermissionsValue(raw.Permissions{})); got != 0xFFFFF0C0 {
		t.Fatalf("no permissions: got %#x", got)
	}
	if got := PermissionsValue(raw.AllowAll()); got != -4 {
		t.Fatalf("all permissions: got %d want -4", got)
	}
	if got := permissionsFromValue(PermissionsValue(raw.Permissions{Print: true, Assemble: true})); !got.Print || !got.Assemble || got.Modify {
		t.Fatalf("decode mismatch: %+v", got)
	}
}

func TestParseAlgorithm(t *testing.T) {
	for in, want := range map[string]Algorithm{"": AlgorithmAES128, "aes-256": AlgorithmAES256, "rc4": AlgorithmRC4128} {
		got, err := ParseAlgorithm(in)
		if err != nil || got != want {
			t.Fatalf("%q: got %v, %v", in, got, err)
		}
	}
	if _, err := ParseAlgorithm("des"); err == nil {
		t.Fatalf("expected error for des")
	}
}

func TestRecoverUserPassword(t *testing.T) {
	for _, tc := range []struct {
		algo Algorithm
		user string
		ok   bool
	}{
		{AlgorithmRC4128, "user", true},
		{AlgorithmAES128, "", true},
		{AlgorithmAES128, "é-pass", true},
		{AlgorithmAES256, "user", false},
	} {
		t.Run(tc.algo.String()+"/"+tc.user, func(t *testing.T) {
			_, dict, err := NewEncryption(EncryptionConfig{
				Algorithm:     tc.algo,
				UserPassword:  tc.user,
				OwnerPassword: "owner",
				FileID:        testID,
			})
			if err != nil {
				t.Fatalf("new encryption: %v", err)
			}
			h, err := (&HandlerBuilder{}).WithEncryptDict(dict).WithFileID(testID).Build()
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if role, err := h.Authenticate("owner"); err != nil || role != RoleOwner {
				t.Fatalf("authenticate: %v %v", role, err)
			}
			got, ok := RecoverUserPassword(h, "owner")
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && got != tc.user {
				t.Fatalf("user password = %q, want %q", got, tc.user)
			}
		})
	}
}

func TestRetainedEncryption(t *testing.T) {
	_, dict, err := NewEncryption(EncryptionConfig{
		Algorithm:     AlgorithmAES128,
		UserPassword:  "user",
		OwnerPassword: "owner",
		FileID:        testID,
	})
	if err != nil {
		t.Fatalf("new encryption: %v", err)
	}
	loaded, err := (&HandlerBuilder{}).WithEncryptDict(dict).WithFileID(testID).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := loaded.Authenticate("user"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	h, kept, err := NewEncryption(EncryptionConfig{Retain: &Retained{Handler: loaded, Dict: dict, FileID: testID}})
	if err != nil {
		t.Fatalf("retain: %v", err)
	}
	if !bytes.Equal(bytesVal(kept, "O"), bytesVal(dict, "O")) || !bytes.Equal(bytesVal(kept, "U"), bytesVal(dict, "U")) {
		t.Fatalf("retained dictionary changed the password entries")
	}
	ref := raw.ObjectRef{Num: 3}
	enc, err := h.Encrypt(ref, []byte("kept"), DataClassString)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	reader, _ := (&HandlerBuilder{}).WithEncryptDict(kept).WithFileID(testID).Build()
	if role, err := reader.Authenticate("owner"); err != nil || role != RoleOwner {
		t.Fatalf("owner password no longer opens the file: %v %v", role, err)
	}
	if dec, err := reader.Decrypt(ref, enc, DataClassString); err != nil || string(dec) != "kept" {
		t.Fatalf("decrypt: %q %v", dec, err)
	}

	if _, _, err := NewEncryption(EncryptionConfig{Retain: &Retained{Dict: dict}}); !errors.Is(err, ErrUnsupportedEncryption) {
		t.Fatalf("incomplete retain: %v", err)
	}
}
