package storage

import (
	"bytes"
	"context"
	"testing"
)

func TestFileStoreWriteRead(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	want := []byte("png bytes")
	key, err := store.Write(context.Background(), "references/subject-1.png", want)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if key != "references/subject-1.png" {
		t.Fatalf("key = %q", key)
	}

	got, err := store.Read(context.Background(), key)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Read = %q, want %q", got, want)
	}
}

func TestSanitizeKeyRejectsTraversal(t *testing.T) {
	cases := []struct {
		key string
		ok  bool
	}{
		{"references/a.png", true},
		{"./references/a.png", true},
		{"/references/a.png", true},
		{"../outside.png", false},
		{"references/../../outside.png", false},
		{"  ", false},
	}
	for _, tc := range cases {
		_, err := sanitizeKey(tc.key)
		if tc.ok && err != nil {
			t.Errorf("sanitizeKey(%q): unexpected error %v", tc.key, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("sanitizeKey(%q): expected error", tc.key)
		}
	}
}
