package vep

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func missenseResult(input string) Result {
	return Result{
		Input:                 input,
		SeqRegionName:         "7",
		MostSevereConsequence: "missense_variant",
		TranscriptConsequences: []TranscriptConsequence{
			{
				TranscriptID:     "ENST00000496384",
				GeneSymbol:       "BRAF",
				Impact:           "MODIFIER",
				ConsequenceTerms: []string{"upstream_gene_variant"},
			},
			{
				TranscriptID:     "ENST00000288602",
				GeneSymbol:       "BRAF",
				Impact:           "MODERATE",
				PolyphenScore:    f(0.998),
				Revel:            f(0.93),
				CADDPhred:        f(32.0),
				SpliceAI:         &SpliceAI{AcceptorGain: f(0.01), DonorLoss: f(-0.2)},
				Lof:              "HC",
				Mane:             []string{"MANE_Select"},
				HGVSc:            "ENST00000288602.11:c.1799T>A",
				HGVSp:            "ENSP00000288602.6:p.Val600Glu",
				ConsequenceTerms: []string{"missense_variant"},
				ClinvarOmimID:    "164757&601728",
			},
		},
		ColocatedVariants: []ColocatedVariant{
			{ClinSig: []string{"pathogenic", "likely_pathogenic"}},
			{Frequencies: map[string]map[string]float64{
				"T": {"af": 0.0001, "gnomadg": 0.0002, "eas": 0.0004},
			}},
		},
	}
}

func TestParse_ExtractionRules(t *testing.T) {
	key := "7:140753336:A>T"
	results := []Result{missenseResult("7 140753336 140753336 A/T +")}

	parsed, failures := Parse(results, []string{key})
	require.Empty(t, failures)
	require.Contains(t, parsed, key)

	a := parsed[key]
	// Gene and CADD come from the MANE transcript, not the first one.
	assert.Equal(t, "BRAF", a.Gene)
	require.NotNil(t, a.CADD)
	assert.Equal(t, 32.0, *a.CADD)
	assert.Equal(t, "missense_variant", a.MostSevereConsequence)

	require.NotNil(t, a.AlleleFreq)
	assert.Equal(t, 0.0002, *a.AlleleFreq) // gnomadg preferred over af
	require.NotNil(t, a.MaxAlleleFreq)
	assert.Equal(t, 0.0004, *a.MaxAlleleFreq)

	assert.Equal(t, "pathogenic,likely_pathogenic", a.ClinSig)
	assert.Equal(t, "164757&601728", a.OMIM)

	require.Len(t, a.Transcripts, 2)
	mane := a.Transcripts[1]
	assert.True(t, mane.Mane)
	assert.Equal(t, "c.1799T>A", mane.CDNANotation)
	assert.Equal(t, "p.Val600Glu", mane.ProteinNotation)
	assert.Equal(t, "HC", mane.Loftee)
	assert.Equal(t, "MODERATE", mane.Impact)
	require.NotNil(t, mane.SpliceAI)
	assert.Equal(t, 0.2, *mane.SpliceAI) // max absolute delta score

	first := a.Transcripts[0]
	assert.False(t, first.Mane)
	assert.Nil(t, first.Polyphen) // missing fields stay null
	assert.Nil(t, first.SpliceAI)
	assert.Equal(t, "", first.Loftee)
}

func TestParse_CanonicalFallbacks(t *testing.T) {
	// No MANE transcript: fall back to the one matching most_severe_consequence.
	r := missenseResult("7 140753336 140753336 A/T +")
	r.TranscriptConsequences[1].Mane = nil
	r.TranscriptConsequences[1].GeneSymbol = "BRAF-MS"

	parsed, _ := Parse([]Result{r}, []string{"7:140753336:A>T"})
	require.Contains(t, parsed, "7:140753336:A>T")
	assert.Equal(t, "BRAF-MS", parsed["7:140753336:A>T"].Gene)

	// Neither MANE nor a matching consequence: first transcript wins.
	r.MostSevereConsequence = "stop_gained"
	parsed, _ = Parse([]Result{r}, []string{"7:140753336:A>T"})
	assert.Equal(t, "BRAF", parsed["7:140753336:A>T"].Gene)
}

func TestParse_NoAnnotationReturned(t *testing.T) {
	// Result with no transcripts and no colocated summary.
	bare := Result{Input: "1 100 100 A/T +"}
	parsed, failures := Parse([]Result{bare}, []string{"1:100:A>T"})
	assert.Empty(t, parsed)
	assert.Equal(t, ReasonNoAnnotation, failures["1:100:A>T"])
}

func TestParse_MissingAndUnrequested(t *testing.T) {
	// Empty response array: every requested key fails.
	parsed, failures := Parse(nil, []string{"1:1:A>G", "2:2:C>T"})
	assert.Empty(t, parsed)
	assert.Equal(t, ReasonNoAnnotation, failures["1:1:A>G"])
	assert.Equal(t, ReasonNoAnnotation, failures["2:2:C>T"])

	// Unrequested response blocks are ignored.
	parsed, failures = Parse([]Result{missenseResult("7 140753336 140753336 A/T +")},
		[]string{"1:1:A>G"})
	assert.Empty(t, parsed)
	assert.Len(t, failures, 1)
}

func TestParse_ChrPrefixedInput(t *testing.T) {
	// The echoed input may carry a chr prefix; it maps onto the bare key.
	r := missenseResult("chr7 140753336 140753336 A/T +")
	parsed, failures := Parse([]Result{r}, []string{"7:140753336:A>T"})
	assert.Empty(t, failures)
	assert.Contains(t, parsed, "7:140753336:A>T")
}

func TestFlexFields_Unmarshal(t *testing.T) {
	var tc TranscriptConsequence
	blob := `{"transcript_id":"ENST1","gerp++_rs":"5.28","clinvar_omim_id":164757}`
	require.NoError(t, json.Unmarshal([]byte(blob), &tc))
	require.NotNil(t, tc.Gerp)
	assert.Equal(t, 5.28, float64(*tc.Gerp))
	assert.Equal(t, "164757", string(tc.ClinvarOmimID))

	blob = `{"gerp++_rs":4.5,"clinvar_omim_id":"164757&601728"}`
	var tc2 TranscriptConsequence
	require.NoError(t, json.Unmarshal([]byte(blob), &tc2))
	assert.Equal(t, 4.5, float64(*tc2.Gerp))
	assert.Equal(t, "164757&601728", string(tc2.ClinvarOmimID))
}
