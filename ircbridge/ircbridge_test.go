package ircbridge

import "testing"

func TestSanitizeNickStripsIllegalRunes(t *testing.T) {
	got := sanitizeNick("Alice Smith!!")
	want := "Alice_Smith__"
	if got != want {
		t.Fatalf("sanitizeNick = %q, want %q", got, want)
	}
}

func TestSanitizeNickNeverEmpty(t *testing.T) {
	if got := sanitizeNick("!!!"); got != "___" {
		t.Fatalf("sanitizeNick(%q) = %q, want all underscores", "!!!", got)
	}
	if got := sanitizeNick(""); got != "user" {
		t.Fatalf("sanitizeNick(\"\") = %q, want %q", got, "user")
	}
}

func TestSanitizeNickTruncatesLongNames(t *testing.T) {
	name := "thisdisplaynameiswaytoolongforirc"
	got := sanitizeNick(name)
	if len(got) != 20 {
		t.Fatalf("len(sanitizeNick(...)) = %d, want 20", len(got))
	}
}

func TestEgressMentionsFallsBackToTokenDecimal(t *testing.T) {
	b := &Bridge{}
	got := b.egressMentions("hey <[@42]> look")
	want := "hey @42 look"
	if got != want {
		t.Fatalf("egressMentions = %q, want %q", got, want)
	}
}

func TestIngressMentionsRewritesKnownNick(t *testing.T) {
	b := New(1, Config{}, nil)
	b.nickToUID["alice"] = 7

	got := b.ingressMentions("hi @alice how are you")
	want := "hi <[@7]> how are you"
	if got != want {
		t.Fatalf("ingressMentions = %q, want %q", got, want)
	}
}

func TestIngressMentionsLeavesUnknownNickAlone(t *testing.T) {
	b := New(1, Config{}, nil)
	got := b.ingressMentions("hi @bob")
	if got != "hi @bob" {
		t.Fatalf("ingressMentions = %q, want unchanged", got)
	}
}
