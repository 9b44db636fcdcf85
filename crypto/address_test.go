package crypto

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	var addr Address
	copy(addr[:], bytes.Repeat([]byte{0xAB}, AddressLength))

	encoded := addr.String()
	if !strings.HasPrefix(encoded, AccountPrefix+"1") {
		t.Fatalf("unexpected prefix in %s", encoded)
	}
	parsed, err := ParseAddress(encoded)
	if err != nil {
		t.Fatalf("parse bech32: %v", err)
	}
	if parsed != addr {
		t.Fatalf("bech32 round trip mismatch")
	}
	fromHex, err := ParseAddress(addr.Hex())
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if fromHex != addr {
		t.Fatalf("hex round trip mismatch")
	}
}

func TestParseAddressRejectsForeignPrefix(t *testing.T) {
	if _, err := ParseAddress("bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"); err == nil {
		t.Fatalf("expected prefix mismatch error")
	}
	if _, err := ParseAddress("  "); err == nil {
		t.Fatalf("expected empty address error")
	}
	if _, err := ParseAddress("0x1234"); err == nil {
		t.Fatalf("expected short hex address error")
	}
}

func TestAddressJSON(t *testing.T) {
	var addr Address
	addr[19] = 7
	payload, err := json.Marshal(struct {
		Who   Address `json:"who"`
		Empty Address `json:"empty"`
	}{Who: addr})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded struct {
		Who   Address `json:"who"`
		Empty Address `json:"empty"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Who != addr || !decoded.Empty.IsZero() {
		t.Fatalf("json round trip mismatch: %+v", decoded)
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "operator.json")
	if err := SaveToKeystore(path, key, "correct horse"); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "correct horse")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Address() != key.Address() {
		t.Fatalf("address mismatch after keystore round trip")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected decrypt failure with wrong passphrase")
	}
}

func TestPrivateKeyFromBytes(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Address() != key.Address() {
		t.Fatalf("address mismatch after byte round trip")
	}
	if MustParseAddress(key.Address().String()) != key.Address() {
		t.Fatalf("MustParseAddress mismatch")
	}
	if _, err := PrivateKeyFromBytes([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for short key")
	}
}
