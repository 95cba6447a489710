package vectorstore

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddVectorAndCount(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if n, err := s.Count(ctx); err != nil || n != 0 {
		t.Fatalf("Count = %d, %v, want 0, nil", n, err)
	}

	id, err := s.AddVector(ctx, "hello world", []float64{1, 0, 0}, "text-embedding-3-small", "openai")
	if err != nil {
		t.Fatalf("AddVector: %v", err)
	}
	if id == 0 {
		t.Errorf("id = 0, want nonzero")
	}

	if n, err := s.Count(ctx); err != nil || n != 1 {
		t.Fatalf("Count = %d, %v, want 1, nil", n, err)
	}
}

func TestFindSimilarRanksByCosineSimilarity(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	s.AddVector(ctx, "exact match", []float64{1, 0, 0}, "m", "p")
	s.AddVector(ctx, "orthogonal", []float64{0, 1, 0}, "m", "p")
	s.AddVector(ctx, "opposite", []float64{-1, 0, 0}, "m", "p")

	matches, err := s.FindSimilar(ctx, []float64{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2", len(matches))
	}
	if matches[0].Text != "exact match" {
		t.Errorf("matches[0].Text = %q, want %q", matches[0].Text, "exact match")
	}
	if matches[0].Similarity < matches[1].Similarity {
		t.Errorf("matches not descending: %+v", matches)
	}
}

func TestFindSimilarReturnsZeroForMismatchedLengths(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	s.AddVector(ctx, "three dims", []float64{1, 0, 0}, "m", "p")

	matches, err := s.FindSimilar(ctx, []float64{1, 0}, 1)
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("len(matches) = %d, want 1", len(matches))
	}
	if matches[0].Similarity != 0.0 {
		t.Errorf("Similarity = %v, want 0.0 for mismatched vector lengths", matches[0].Similarity)
	}
}

func TestVectorBlobRoundTripPreservesApproximateValues(t *testing.T) {
	t.Parallel()
	original := []float64{0.1, -0.25, 3.5, 0.0, -1.0}
	blob := vectorToBlob(original)
	decoded := blobToVector(blob)

	if len(decoded) != len(original) {
		t.Fatalf("len(decoded) = %d, want %d", len(decoded), len(original))
	}
	for i := range original {
		diff := decoded[i] - original[i]
		if diff < 0 {
			diff = -diff
		}
		if diff > 1e-6 {
			t.Errorf("decoded[%d] = %v, want ~%v", i, decoded[i], original[i])
		}
	}
}

func TestGetModelInfoReturnsNilWhenEmpty(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	info, err := s.GetModelInfo(ctx)
	if err != nil {
		t.Fatalf("GetModelInfo: %v", err)
	}
	if info != nil {
		t.Errorf("info = %+v, want nil", info)
	}
}

func TestGetModelInfoReturnsFirstRow(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	s.AddVector(ctx, "first", []float64{1, 0}, "text-embedding-3-small", "openai")
	s.AddVector(ctx, "second", []float64{0, 1}, "other-model", "other-provider")

	info, err := s.GetModelInfo(ctx)
	if err != nil {
		t.Fatalf("GetModelInfo: %v", err)
	}
	if info == nil {
		t.Fatal("info = nil, want non-nil")
	}
	if info.Model != "text-embedding-3-small" || info.Provider != "openai" {
		t.Errorf("info = %+v, want text-embedding-3-small/openai", info)
	}
}
