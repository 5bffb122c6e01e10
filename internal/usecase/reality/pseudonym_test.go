package reality

import (
	"strings"
	"testing"
)

func TestPseudonymDeterministicSource(t *testing.T) {
	// fixedRand{v: 2}.Int63n(10) == 2, значение 3 => pseudonymWords[3]
	got := Pseudonym(fixedRand{v: 2}, 10)
	if got != pseudonymWords[3] {
		t.Fatalf("ожидали %q, получили %q", pseudonymWords[3], got)
	}
}

func TestPseudonymSmallestUser(t *testing.T) {
	// для userId=1 значение всегда 1
	if got := Pseudonym(fixedRand{}, 1); got != pseudonymWords[1] {
		t.Fatalf("ожидали %q, получили %q", pseudonymWords[1], got)
	}
}

func TestPseudonymMultiWord(t *testing.T) {
	// значение 65 = 1*64 + 1 => два слова
	got := Pseudonym(fixedRand{v: 64}, 1000)
	want := pseudonymWords[1] + "-" + pseudonymWords[1]
	if got != want {
		t.Fatalf("ожидали %q, получили %q", want, got)
	}
}

func TestPseudonymAlwaysNonEmpty(t *testing.T) {
	src := NewLockedRand(7)
	for i := 0; i < 200; i++ {
		label := Pseudonym(src, int64(i))
		if label == "" {
			t.Fatalf("метка не должна быть пустой (userId=%d)", i)
		}
		for _, word := range strings.Split(label, "-") {
			found := false
			for _, known := range pseudonymWords {
				if word == known {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("неизвестное слово %q в метке %q", word, label)
			}
		}
	}
}
