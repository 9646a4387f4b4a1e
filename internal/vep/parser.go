package vep

import (
	"math"
	"strings"

	"github.com/inodb/vepcache/internal/store"
	"github.com/inodb/vepcache/internal/variant"
)

// ReasonNoAnnotation marks a requested variant for which the service returned
// no usable content (no transcripts and no colocated summary, or no response
// block at all). Non-retriable.
const ReasonNoAnnotation = "no_annotation_returned"

// impact and LOFTEE classes accepted verbatim; anything else becomes empty.
var (
	validImpacts = map[string]bool{"HIGH": true, "MODERATE": true, "LOW": true, "MODIFIER": true}
	validLoftee  = map[string]bool{"HC": true, "LC": true}
)

// Parse transforms a batch response into annotation records keyed by variant
// key. Response blocks that do not correspond to a requested key are ignored;
// requested keys without a usable response block are reported in the failure
// map with ReasonNoAnnotation.
func Parse(results []Result, requested []string) (map[string]*store.Annotation, map[string]string) {
	parsed := make(map[string]*store.Annotation, len(requested))
	failures := make(map[string]string)

	want := make(map[string]bool, len(requested))
	for _, key := range requested {
		want[key] = true
	}

	for _, r := range results {
		key, err := variant.KeyFromRegion(r.Input)
		if err != nil || !want[key] {
			continue
		}
		if len(r.TranscriptConsequences) == 0 && len(r.ColocatedVariants) == 0 {
			failures[key] = ReasonNoAnnotation
			continue
		}
		parsed[key] = parseResult(key, &r)
	}

	for _, key := range requested {
		if _, ok := parsed[key]; ok {
			continue
		}
		if _, ok := failures[key]; ok {
			continue
		}
		failures[key] = ReasonNoAnnotation
	}

	return parsed, failures
}

// parseResult builds the variant-level record and its transcript rows.
func parseResult(key string, r *Result) *store.Annotation {
	a := &store.Annotation{
		VariantKey:            key,
		MostSevereConsequence: r.MostSevereConsequence,
	}

	if canonical := canonicalTranscript(r); canonical != nil {
		a.Gene = canonical.GeneSymbol
		if canonical.CADDPhred != nil {
			v := *canonical.CADDPhred
			a.CADD = &v
		}
	}

	a.AlleleFreq, a.MaxAlleleFreq = colocatedFrequencies(r)
	a.ClinSig = colocatedClinSig(r)
	a.OMIM = clinvarOmimID(r)

	for i := range r.TranscriptConsequences {
		a.Transcripts = append(a.Transcripts, parseTranscript(&r.TranscriptConsequences[i]))
	}

	return a
}

// canonicalTranscript picks the transcript the variant-level fields come
// from: the MANE-flagged transcript when present, otherwise the transcript
// matching the response's own most severe consequence, otherwise the first.
func canonicalTranscript(r *Result) *TranscriptConsequence {
	tcs := r.TranscriptConsequences
	if len(tcs) == 0 {
		return nil
	}
	for i := range tcs {
		if len(tcs[i].Mane) > 0 {
			return &tcs[i]
		}
	}
	if r.MostSevereConsequence != "" {
		for i := range tcs {
			for _, term := range tcs[i].ConsequenceTerms {
				if term == r.MostSevereConsequence {
					return &tcs[i]
				}
			}
		}
	}
	return &tcs[0]
}

func parseTranscript(tc *TranscriptConsequence) store.Transcript {
	t := store.Transcript{
		TranscriptID:    tc.TranscriptID,
		ProteinNotation: stripNotationPrefix(tc.HGVSp),
		CDNANotation:    stripNotationPrefix(tc.HGVSc),
		Mane:            len(tc.Mane) > 0,
		Consequences:    strings.Join(tc.ConsequenceTerms, ","),
	}

	if validImpacts[strings.ToUpper(tc.Impact)] {
		t.Impact = strings.ToUpper(tc.Impact)
	}
	if validLoftee[strings.ToUpper(tc.Lof)] {
		t.Loftee = strings.ToUpper(tc.Lof)
	}
	if tc.PolyphenScore != nil {
		v := *tc.PolyphenScore
		t.Polyphen = &v
	}
	if tc.Revel != nil {
		v := *tc.Revel
		t.Revel = &v
	}
	if tc.Gerp != nil {
		v := float64(*tc.Gerp)
		t.Gerp = &v
	}
	if s := maxSpliceAIDelta(tc.SpliceAI); s != nil {
		t.SpliceAI = s
	}

	return t
}

// stripNotationPrefix drops the transcript accession from an HGVS string
// ("ENST00000288602.11:c.1799T>A" -> "c.1799T>A").
func stripNotationPrefix(hgvs string) string {
	if hgvs == "" {
		return ""
	}
	if i := strings.Index(hgvs, ":"); i >= 0 {
		return hgvs[i+1:]
	}
	return hgvs
}

// maxSpliceAIDelta returns the maximum absolute delta score, or nil when no
// delta scores are present.
func maxSpliceAIDelta(s *SpliceAI) *float64 {
	if s == nil {
		return nil
	}
	var best *float64
	for _, d := range []*float64{s.AcceptorGain, s.AcceptorLoss, s.DonorGain, s.DonorLoss} {
		if d == nil {
			continue
		}
		v := math.Abs(*d)
		if best == nil || v > *best {
			b := v
			best = &b
		}
	}
	return best
}

// colocatedFrequencies extracts the gnomAD allele frequency and the maximum
// frequency across all reported populations from the first colocated variant
// carrying a frequency block.
func colocatedFrequencies(r *Result) (af, maxAF *float64) {
	for _, col := range r.ColocatedVariants {
		for _, freqs := range col.Frequencies {
			if v, ok := freqs["gnomadg"]; ok {
				af = &v
			} else if v, ok := freqs["af"]; ok {
				af = &v
			}
			var best *float64
			for _, v := range freqs {
				if best == nil || v > *best {
					b := v
					best = &b
				}
			}
			return af, best
		}
	}
	return nil, nil
}

// colocatedClinSig joins the clinical-significance terms of the first
// colocated variant that carries any.
func colocatedClinSig(r *Result) string {
	for _, col := range r.ColocatedVariants {
		if len(col.ClinSig) > 0 {
			return strings.Join(col.ClinSig, ",")
		}
	}
	return ""
}

// clinvarOmimID returns the first per-transcript ClinVar OMIM cross-reference.
// Multiple ids keep the upstream "&" delimiter.
func clinvarOmimID(r *Result) string {
	for _, tc := range r.TranscriptConsequences {
		if tc.ClinvarOmimID != "" {
			return string(tc.ClinvarOmimID)
		}
	}
	return ""
}
