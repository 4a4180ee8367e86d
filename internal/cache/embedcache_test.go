package cache

import (
	"context"
	"testing"
)

func TestKeyNormalizesTextOnly(t *testing.T) {
	base := Key("text-embedding-3-small", 1536, "Energy is conserved.")

	same := []string{
		"energy IS conserved.",
		"  Energy   is\tconserved.  ",
		"Energy\nis conserved.",
	}
	for _, text := range same {
		if got := Key("text-embedding-3-small", 1536, text); got != base {
			t.Fatalf("key for %q should equal base key", text)
		}
	}

	different := []struct {
		name  string
		model string
		dim   int
		text  string
	}{
		{"other_text", "text-embedding-3-small", 1536, "Energy is not conserved."},
		{"other_model", "text-embedding-3-large", 1536, "Energy is conserved."},
		{"other_dimension", "text-embedding-3-small", 768, "Energy is conserved."},
	}
	for _, d := range different {
		if got := Key(d.model, d.dim, d.text); got == base {
			t.Fatalf("%s: key must differ from base key", d.name)
		}
	}
}

func TestMemoryCacheRoundtrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Fatalf("get on empty cache must miss")
	}

	vec := []float32{0.1, 0.2, 0.3}
	c.Put(ctx, "k", vec)
	got, ok := c.Get(ctx, "k")
	if !ok {
		t.Fatalf("expected hit after put")
	}
	if len(got) != 3 || got[0] != 0.1 || got[2] != 0.3 {
		t.Fatalf("vector: want=%v got=%v", vec, got)
	}
}

func TestMemoryCacheFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	c.Put(ctx, "k", []float32{1})
	c.Put(ctx, "k", []float32{2})

	got, ok := c.Get(ctx, "k")
	if !ok || len(got) != 1 || got[0] != 1 {
		t.Fatalf("first write must win: got=%v", got)
	}
}
