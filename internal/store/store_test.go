package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.duckdb")

	s, err := Open(Config{Driver: "duckdb", Path: dbPath})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.CreateSchema(context.Background()); err != nil {
		t.Fatalf("CreateSchema: %v", err)
	}
	return s
}

func ptr(f float64) *float64 { return &f }

func testAnnotation(key string) *Annotation {
	return &Annotation{
		VariantKey:            key,
		Gene:                  "BRAF",
		CADD:                  ptr(32.0),
		MLScore:               ptr(0.91),
		MostSevereConsequence: "missense_variant",
		AlleleFreq:            ptr(0.0001),
		MaxAlleleFreq:         ptr(0.0004),
		OMIM:                  "164757",
		ClinSig:               "pathogenic",
		Transcripts: []Transcript{
			{
				TranscriptID:    "ENST00000288602",
				Polyphen:        ptr(0.998),
				ProteinNotation: "p.Val600Glu",
				Revel:           ptr(0.93),
				SpliceAI:        ptr(0.01),
				Mane:            true,
				Loftee:          "HC",
				Impact:          "MODERATE",
				Gerp:            ptr(5.1),
				CDNANotation:    "c.1799T>A",
				Consequences:    "missense_variant",
			},
			{
				TranscriptID: "ENST00000496384",
				Impact:       "MODIFIER",
				Consequences: "upstream_gene_variant",
			},
		},
	}
}

func TestStore_WriteAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := "7:140753336:A>T"

	ok, err := s.HasAnnotation(ctx, key)
	if err != nil {
		t.Fatalf("HasAnnotation: %v", err)
	}
	if ok {
		t.Fatal("HasAnnotation = true on empty store")
	}

	if err := s.WriteBatch(ctx, []*Annotation{testAnnotation(key)}); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	ok, err = s.HasAnnotation(ctx, key)
	if err != nil {
		t.Fatalf("HasAnnotation: %v", err)
	}
	if !ok {
		t.Fatal("HasAnnotation = false after write")
	}

	got, err := s.GetAnnotation(ctx, key)
	if err != nil {
		t.Fatalf("GetAnnotation: %v", err)
	}
	if got == nil {
		t.Fatal("GetAnnotation returned nil")
	}
	if got.Gene != "BRAF" {
		t.Errorf("Gene = %q, want BRAF", got.Gene)
	}
	if got.MLScore == nil || *got.MLScore != 0.91 {
		t.Errorf("MLScore = %v, want 0.91", got.MLScore)
	}
	if len(got.Transcripts) != 2 {
		t.Fatalf("len(Transcripts) = %d, want 2", len(got.Transcripts))
	}
	// Transcript rows are ordered by transcript_id.
	if got.Transcripts[0].TranscriptID != "ENST00000288602" {
		t.Errorf("TranscriptID = %q", got.Transcripts[0].TranscriptID)
	}
	if !got.Transcripts[0].Mane {
		t.Error("Mane = false, want true")
	}
	if got.Transcripts[1].Polyphen != nil {
		t.Errorf("Polyphen = %v, want nil", got.Transcripts[1].Polyphen)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetAnnotation(context.Background(), "1:1:A>G")
	if err != nil {
		t.Fatalf("GetAnnotation: %v", err)
	}
	if got != nil {
		t.Fatalf("GetAnnotation = %+v, want nil", got)
	}
}

func TestStore_ReannotationReplacesTranscripts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := "12:25245350:C>T"
	if err := s.WriteBatch(ctx, []*Annotation{testAnnotation(key)}); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	// Re-annotate with a single different transcript.
	updated := testAnnotation(key)
	updated.Gene = "KRAS"
	updated.MLScore = nil
	updated.Transcripts = []Transcript{
		{TranscriptID: "ENST00000311936", Impact: "MODERATE", Consequences: "missense_variant"},
	}
	if err := s.WriteBatch(ctx, []*Annotation{updated}); err != nil {
		t.Fatalf("WriteBatch (reannotate): %v", err)
	}

	got, err := s.GetAnnotation(ctx, key)
	if err != nil {
		t.Fatalf("GetAnnotation: %v", err)
	}
	if got.Gene != "KRAS" {
		t.Errorf("Gene = %q, want KRAS", got.Gene)
	}
	if got.MLScore != nil {
		t.Errorf("MLScore = %v, want nil", got.MLScore)
	}
	if len(got.Transcripts) != 1 {
		t.Fatalf("len(Transcripts) = %d, want 1 (old rows must be replaced)", len(got.Transcripts))
	}
	if got.Transcripts[0].TranscriptID != "ENST00000311936" {
		t.Errorf("TranscriptID = %q", got.Transcripts[0].TranscriptID)
	}
}

func TestStore_CreateSchemaIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSchema(context.Background()); err != nil {
		t.Fatalf("second CreateSchema: %v", err)
	}
}

func TestStore_Statistics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a1 := testAnnotation("1:100:A>G")
	a2 := testAnnotation("2:200:C>T")
	a2.MLScore = nil
	a2.MostSevereConsequence = "stop_gained"
	a2.Transcripts = a2.Transcripts[:1]

	if err := s.WriteBatch(ctx, []*Annotation{a1, a2}); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	st, err := s.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if st.TotalAnnotations != 2 {
		t.Errorf("TotalAnnotations = %d, want 2", st.TotalAnnotations)
	}
	if st.ScoredAnnotations != 1 {
		t.Errorf("ScoredAnnotations = %d, want 1", st.ScoredAnnotations)
	}
	if st.TranscriptRowsTotal != 3 {
		t.Errorf("TranscriptRowsTotal = %d, want 3", st.TranscriptRowsTotal)
	}
	if st.ConsequenceCounts["missense_variant"] != 1 || st.ConsequenceCounts["stop_gained"] != 1 {
		t.Errorf("ConsequenceCounts = %v", st.ConsequenceCounts)
	}
}
