// Package mlscore computes the pathogenicity score for annotation records
// using a serialized regression-tree ensemble.
package mlscore

import (
	"strings"

	"github.com/inodb/vepcache/internal/store"
)

// NumFeatures is the width of the model's input vector.
const NumFeatures = 9

// Feature vector layout. Order is part of the model contract.
const (
	FeatConsequence = iota
	FeatImpact
	FeatAlleleFreq
	FeatMaxAlleleFreq
	FeatSpliceAI
	FeatGerp
	FeatLoftee
	FeatPolyphen
	FeatCADD
)

// FeatureVector is the fixed nine-dimensional model input.
type FeatureVector [NumFeatures]float64

// Scorer maps a feature vector to a pathogenicity score in [0,1].
type Scorer interface {
	Score(fv FeatureVector) (float64, error)
}

// consequenceSeverity is the training-time encoding of consequence terms.
// Unknown terms encode as 0.
var consequenceSeverity = map[string]float64{
	"3_prime_utr_variant":                 1,
	"5_prime_utr_variant":                 1,
	"coding_sequence_variant":             2,
	"downstream_gene_variant":             0.5,
	"frameshift_variant":                  3,
	"inframe_deletion":                    2.5,
	"inframe_insertion":                   2.5,
	"intron_variant":                      0.1,
	"mature_mirna_variant":                1,
	"missense_variant":                    2,
	"non_coding_transcript_exon_variant":  1,
	"protein_altering_variant":            2,
	"splice_acceptor_variant":             3,
	"splice_donor_5th_base_variant":       3,
	"splice_donor_region_variant":         3,
	"splice_donor_variant":                3,
	"splice_polypyrimidine_tract_variant": 3,
	"splice_region_variant":               3,
	"start_lost":                          3,
	"stop_gained":                         3,
	"stop_lost":                           3,
	"stop_retained_variant":               1,
	"synonymous_variant":                  0.1,
	"transcript_ablation":                 4,
	"upstream_gene_variant":               0.5,
}

// EncodeConsequence maps a consequence term to its severity category.
func EncodeConsequence(term string) float64 {
	return consequenceSeverity[strings.ToLower(strings.TrimSpace(term))]
}

// EncodeImpact maps a VEP impact class to its training-time value.
func EncodeImpact(impact string) float64 {
	switch strings.ToUpper(strings.TrimSpace(impact)) {
	case "HIGH":
		return 1
	case "MODERATE":
		return 0.5
	case "LOW":
		return 0.25
	case "MODIFIER":
		return 0.1
	default:
		return 0
	}
}

// EncodeLoftee maps a LOFTEE confidence class to its training-time value.
func EncodeLoftee(loftee string) float64 {
	switch strings.ToUpper(strings.TrimSpace(loftee)) {
	case "HC":
		return 1
	case "LC":
		return 0.5
	default:
		return 0
	}
}

// FromRecord extracts the feature vector from an annotation record and its
// canonical transcript (MANE-flagged, falling back to the first transcript).
// Null numerics are imputed with the training-time constants: PolyPhen 0.5,
// everything else 0.
func FromRecord(a *store.Annotation) FeatureVector {
	fv := FeatureVector{}
	fv[FeatConsequence] = EncodeConsequence(a.MostSevereConsequence)
	fv[FeatPolyphen] = 0.5

	if a.AlleleFreq != nil {
		fv[FeatAlleleFreq] = *a.AlleleFreq
	}
	if a.MaxAlleleFreq != nil {
		fv[FeatMaxAlleleFreq] = *a.MaxAlleleFreq
	}
	if a.CADD != nil {
		fv[FeatCADD] = *a.CADD
	}

	t := canonicalTranscript(a)
	if t == nil {
		return fv
	}
	fv[FeatImpact] = EncodeImpact(t.Impact)
	fv[FeatLoftee] = EncodeLoftee(t.Loftee)
	if t.SpliceAI != nil {
		fv[FeatSpliceAI] = *t.SpliceAI
	}
	if t.Gerp != nil {
		fv[FeatGerp] = *t.Gerp
	}
	if t.Polyphen != nil {
		fv[FeatPolyphen] = *t.Polyphen
	}
	return fv
}

func canonicalTranscript(a *store.Annotation) *store.Transcript {
	if len(a.Transcripts) == 0 {
		return nil
	}
	for i := range a.Transcripts {
		if a.Transcripts[i].Mane {
			return &a.Transcripts[i]
		}
	}
	return &a.Transcripts[0]
}
