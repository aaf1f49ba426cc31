package xid

import (
	"regexp"
	"strings"
	"testing"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a := New("oplog")
	b := New("oplog")
	if !strings.HasPrefix(a, "oplog-") {
		t.Fatalf("expected prefix, got %q", a)
	}
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
}

func TestTokenAlphabet(t *testing.T) {
	tok, err := Token(30)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if !regexp.MustCompile(`^[A-Za-z0-9]{30}$`).MatchString(tok) {
		t.Fatalf("unexpected token %q", tok)
	}
}

func TestLetter(t *testing.T) {
	for i := 0; i < 50; i++ {
		l, err := Letter()
		if err != nil {
			t.Fatalf("letter: %v", err)
		}
		if l < 'a' || l > 'z' {
			t.Fatalf("unexpected letter %q", l)
		}
	}
}
