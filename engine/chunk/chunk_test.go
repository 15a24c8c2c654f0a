package chunk

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/reforma-ai/ragqa/engine/domain"
)

func TestSplitEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t  \n"} {
		got, err := Split(in, 800, 100)
		if err != nil {
			t.Fatalf("Split(%q): %v", in, err)
		}
		if len(got) != 0 {
			t.Fatalf("Split(%q) = %v, want no chunks", in, got)
		}
	}
}

func TestSplitShortTextIsOneChunk(t *testing.T) {
	got, err := Split("  Ставка НДС\n\n 20%   сохраняется. ", 800, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "Ставка НДС 20% сохраняется." {
		t.Fatalf("got %q", got)
	}
}

func TestSplitRejectsBadConfig(t *testing.T) {
	cases := [][2]int{{0, 0}, {100, 100}, {100, 150}, {100, -1}}
	for _, c := range cases {
		_, err := Split("some text", c[0], c[1])
		if !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("Split(size=%d, overlap=%d) err = %v, want config error", c[0], c[1], err)
		}
	}
}

// scenarioText is 1850 characters: 184 nine-letter words plus one ten-letter word.
func scenarioText() string {
	words := make([]string, 0, 185)
	for i := 0; i < 184; i++ {
		words = append(words, "abcdefghi")
	}
	words = append(words, "abcdefghij")
	return strings.Join(words, " ")
}

func TestSplitScenario800By100(t *testing.T) {
	text := scenarioText()
	if n := utf8.RuneCountInString(text); n != 1850 {
		t.Fatalf("fixture length %d", n)
	}
	spans, err := Spans(text, 800, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(spans) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %+v", len(spans), spans)
	}
	want := []Span{{0, 799}, {699, 1499}, {1399, 1850}}
	for i, sp := range spans {
		if sp != want[i] {
			t.Errorf("span %d = %+v, want %+v", i, sp, want[i])
		}
		if sp.Len() > 800 {
			t.Errorf("span %d too long: %d", i, sp.Len())
		}
	}
	chunks, _ := Split(text, 800, 100)
	for i := 1; i < len(chunks); i++ {
		prev, cur := []rune(chunks[i-1]), []rune(chunks[i])
		if string(prev[len(prev)-100:]) != string(cur[:100]) {
			t.Errorf("chunks %d and %d do not overlap by 100 characters", i-1, i)
		}
	}
	for i, c := range chunks[:len(chunks)-1] {
		if strings.HasSuffix(c, " ") {
			t.Errorf("chunk %d ends with the boundary space", i)
		}
	}
}

func TestSplitWithoutSpacesKeepsFullWindow(t *testing.T) {
	text := strings.Repeat("x", 25)
	spans, err := Spans(text, 10, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []Span{{0, 10}, {8, 18}, {16, 25}}
	if len(spans) != len(want) {
		t.Fatalf("got %+v", spans)
	}
	for i := range want {
		if spans[i] != want[i] {
			t.Errorf("span %d = %+v, want %+v", i, spans[i], want[i])
		}
	}
}

func TestSplitBoundaryOnSpace(t *testing.T) {
	// The window [0,5) ends exactly before a space: no trimming, and the
	// space is not part of either chunk when overlap is zero.
	got, err := Split("abcde fghij", 5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "abcde" || got[1] != "fghij" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitOverlapMayStartOnSpace(t *testing.T) {
	got, err := Split("aaaa bbbb cccc", 10, 5)
	if err != nil {
		t.Fatal(err)
	}
	// The overlap is exactly five runes, so the second chunk keeps the
	// space it starts on.
	want := []string{"aaaa bbbb", " bbbb cccc"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSplitNoOverlapReassembles(t *testing.T) {
	text := "Упрощённая система налогообложения будет разделена на режимы с разным набором лимитов и требований к отчётности."
	got, err := Split(text, 30, 0)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, " ") != text {
		t.Fatalf("reassembled text differs:\n%q", strings.Join(got, " "))
	}
}

func TestSplitProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("абвгдежзabcdefgh      \n\t")
	for iter := 0; iter < 300; iter++ {
		n := rng.Intn(3000)
		buf := make([]rune, n)
		for i := range buf {
			buf[i] = alphabet[rng.Intn(len(alphabet))]
		}
		size := 1 + rng.Intn(400)
		overlap := rng.Intn(size)

		norm := []rune(Normalize(string(buf)))
		spans, err := Spans(string(buf), size, overlap)
		if err != nil {
			t.Fatalf("iter %d: %v", iter, err)
		}
		if len(norm) == 0 {
			if len(spans) != 0 {
				t.Fatalf("iter %d: chunks from empty text", iter)
			}
			continue
		}
		if len(spans) == 0 {
			t.Fatalf("iter %d: no chunks for %d runes", iter, len(norm))
		}
		for i, sp := range spans {
			if sp.Len() <= 0 || sp.Len() > size {
				t.Fatalf("iter %d: span %d has length %d (size %d)", iter, i, sp.Len(), size)
			}
			if i > 0 && sp.Start <= spans[i-1].Start {
				t.Fatalf("iter %d: start offsets not increasing at %d", iter, i)
			}
		}
		if last := spans[len(spans)-1]; last.End != len(norm) {
			t.Fatalf("iter %d: last end %d, text length %d", iter, last.End, len(norm))
		}
	}
}

func TestDocumentPositions(t *testing.T) {
	doc := domain.Document{Title: "reform", Text: scenarioText(), Source: "tokens/reform.txt"}
	chunks, err := Document(doc, 800, 100)
	if err != nil {
		t.Fatal(err)
	}
	for i, c := range chunks {
		if c.Position != i+1 || c.ParentTitle != "reform" {
			t.Errorf("chunk %d: %+v", i, c)
		}
	}
}
