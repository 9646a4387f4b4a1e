// Package vep provides the batch client and response parser for the external
// variant-effect prediction REST API.
package vep

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Result is one per-variant block of the VEP batch response.
type Result struct {
	Input                  string                  `json:"input"`
	SeqRegionName          string                  `json:"seq_region_name"`
	MostSevereConsequence  string                  `json:"most_severe_consequence"`
	TranscriptConsequences []TranscriptConsequence `json:"transcript_consequences"`
	ColocatedVariants      []ColocatedVariant      `json:"colocated_variants"`
}

// TranscriptConsequence is one per-transcript block inside a result.
type TranscriptConsequence struct {
	TranscriptID     string     `json:"transcript_id"`
	GeneSymbol       string     `json:"gene_symbol"`
	Impact           string     `json:"impact"`
	PolyphenScore    *float64   `json:"polyphen_score"`
	Revel            *float64   `json:"revel"`
	CADDPhred        *float64   `json:"cadd_phred"`
	SpliceAI         *SpliceAI  `json:"spliceai"`
	Gerp             *FlexFloat `json:"gerp++_rs"`
	Lof              string     `json:"lof"`
	Mane             []string   `json:"mane"`
	HGVSc            string     `json:"hgvsc"`
	HGVSp            string     `json:"hgvsp"`
	ConsequenceTerms []string   `json:"consequence_terms"`
	ClinvarOmimID    FlexString `json:"clinvar_omim_id"`
}

// SpliceAI carries the four splice-site delta scores.
type SpliceAI struct {
	AcceptorGain *float64 `json:"DS_AG"`
	AcceptorLoss *float64 `json:"DS_AL"`
	DonorGain    *float64 `json:"DS_DG"`
	DonorLoss    *float64 `json:"DS_DL"`
}

// ColocatedVariant carries the colocated-variant summary (population
// frequencies keyed by allele, clinical significance).
type ColocatedVariant struct {
	Frequencies map[string]map[string]float64 `json:"frequencies"`
	ClinSig     []string                      `json:"clin_sig"`
}

// FlexFloat decodes a JSON number that the upstream service sometimes emits
// as a quoted string (notably gerp++_rs from dbNSFP).
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*f = FlexFloat(v)
	return nil
}

// FlexString decodes a JSON value that may be a string or a bare number.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = FlexString(str)
		return nil
	}
	*s = FlexString(data)
	return nil
}
