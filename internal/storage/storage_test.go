package storage

import (
	"errors"
	"strings"
	"testing"
)

func TestNewKey_UniqueWithExtension(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		key := NewKey("image/png")
		if !strings.HasSuffix(key, ".png") {
			t.Fatalf("ключ %q без расширения .png", key)
		}
		if seen[key] {
			t.Fatalf("повтор ключа %q", key)
		}
		seen[key] = true
		if err := ValidateKey(key); err != nil {
			t.Fatalf("сгенерированный ключ невалиден: %v", err)
		}
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
	}{
		{"image/jpeg", ".jpg"},
		{"image/png; charset=binary", ".png"},
		{"image/svg+xml", ".svg"},
		{"", ".bin"},
		{"not a mime", ".bin"},
		{"application/x-unknown-type", ".bin"},
	}
	for _, tt := range tests {
		if got := ExtensionFor(tt.contentType); got != tt.want {
			t.Errorf("ExtensionFor(%q) = %q, ожидалось %q", tt.contentType, got, tt.want)
		}
	}
}

func TestValidateKey(t *testing.T) {
	valid := []string{"abc.png", "0f8fad5b-d9cb-469f-a165-70867728950e.jpg", "a_b-c"}
	for _, k := range valid {
		if err := ValidateKey(k); err != nil {
			t.Errorf("ValidateKey(%q): неожиданная ошибка %v", k, err)
		}
	}

	invalid := []string{"", "../etc/passwd", "a/b.png", ".hidden", "a\\b", "имя.png", strings.Repeat("a", 129)}
	for _, k := range invalid {
		err := ValidateKey(k)
		if !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ValidateKey(%q): ожидалась ErrInvalidKey, получено %v", k, err)
		}
	}
}
