package vpn

import (
	"errors"
	"strings"
	"testing"
)

func TestGeneratePrivateKey(t *testing.T) {
	k, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey() error = %v", err)
	}
	if k.IsZero() {
		t.Fatal("generated key is zero")
	}
	if k[0]&7 != 0 {
		t.Error("low bits of the first byte must be cleared")
	}
	if k[31]&128 != 0 || k[31]&64 == 0 {
		t.Error("last byte must be clamped")
	}

	other, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey() error = %v", err)
	}
	if k.Equal(other) {
		t.Error("two generated keys should differ")
	}
}

func TestKnownPublicKey(t *testing.T) {
	// RFC 7748 section 6.1 test vector.
	priv, err := ParseKey("dwdtCnMYpX08FsFyUbJmRd9ML4frwJkqsXf7pR25LCo=")
	if err != nil {
		t.Fatalf("ParseKey() error = %v", err)
	}
	want := "hSDwCYkwp1R0i33ctD73Wg2/Og0mOBr066SpjqqbTmo="
	if got := priv.PublicKey().String(); got != want {
		t.Errorf("PublicKey() = %s, want %s", got, want)
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "hSDwCYkwp1R0i33ctD73Wg2/Og0mOBr066SpjqqbTmo=", false},
		{"surrounding space", "  hSDwCYkwp1R0i33ctD73Wg2/Og0mOBr066SpjqqbTmo=\n", false},
		{"empty", "", true},
		{"not base64", "not a key!", true},
		{"too short", "AAAA", true},
		{"too long", strings.Repeat("A", 48), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKey(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("error should wrap ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestKey_StringRoundTrip(t *testing.T) {
	k, err := GeneratePresharedKey()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseKey(k.String())
	if err != nil {
		t.Fatalf("ParseKey(String()) error = %v", err)
	}
	if !parsed.Equal(k) {
		t.Error("round trip changed the key")
	}
	if len(k.Hex()) != 64 {
		t.Errorf("Hex() length = %d, want 64", len(k.Hex()))
	}
}

func TestKey_Wipe(t *testing.T) {
	k, err := GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	k.Wipe()
	if !k.IsZero() {
		t.Error("Wipe() should zero the key")
	}
}
