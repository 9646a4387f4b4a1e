// Package variant provides variant identity and key normalization.
package variant

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Variant represents a single genomic change at a position.
type Variant struct {
	Chrom string // Chromosome name without "chr" prefix (e.g., "12", "X")
	Pos   int64  // 1-based genomic position
	Ref   string // Reference allele
	Alt   string // Alternate allele
}

var (
	chromRe = regexp.MustCompile(`(?i)^(?:chr)?([1-9]|1[0-9]|2[0-2]|[XY]|MT?)$`)
	baseRe  = regexp.MustCompile(`^[ACGTacgt]+$`)
)

// New builds a normalized variant from raw submission fields.
// The chromosome is canonicalized to its bare form (leading "chr" stripped)
// and alleles are upper-cased. Returns an error for anything that is not a
// human chromosome, a positive position, or ACGT alleles.
func New(chrom string, pos int64, ref, alt string) (Variant, error) {
	m := chromRe.FindStringSubmatch(chrom)
	if m == nil {
		return Variant{}, fmt.Errorf("invalid chromosome %q", chrom)
	}
	if pos <= 0 {
		return Variant{}, fmt.Errorf("invalid position %d", pos)
	}
	if !baseRe.MatchString(ref) {
		return Variant{}, fmt.Errorf("invalid REF allele %q", ref)
	}
	if !baseRe.MatchString(alt) {
		return Variant{}, fmt.Errorf("invalid ALT allele %q", alt)
	}

	chrom = strings.ToUpper(m[1])
	// "M" and "MT" name the same chromosome; "MT" (the Ensembl spelling) is
	// the canonical form so both submissions hit the same cache key.
	if chrom == "M" {
		chrom = "MT"
	}

	return Variant{
		Chrom: chrom,
		Pos:   pos,
		Ref:   strings.ToUpper(ref),
		Alt:   strings.ToUpper(alt),
	}, nil
}

// Key returns the canonical variant key "{chrom}:{pos}:{ref}>{alt}".
func (v Variant) Key() string {
	return fmt.Sprintf("%s:%d:%s>%s", v.Chrom, v.Pos, v.Ref, v.Alt)
}

// ParseKey parses and normalizes a variant key string.
func ParseKey(key string) (Variant, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		return Variant{}, fmt.Errorf("invalid variant key %q", key)
	}
	pos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Variant{}, fmt.Errorf("invalid position in key %q", key)
	}
	alleles := strings.SplitN(parts[2], ">", 2)
	if len(alleles) != 2 {
		return Variant{}, fmt.Errorf("invalid alleles in key %q", key)
	}
	return New(parts[0], pos, alleles[0], alleles[1])
}

// IsSNV returns true if the variant is a single nucleotide variant.
func (v Variant) IsSNV() bool {
	return len(v.Ref) == 1 && len(v.Alt) == 1
}

// IsInsertion returns true if the variant is an insertion.
func (v Variant) IsInsertion() bool {
	return len(v.Alt) > len(v.Ref)
}

// Region formats the variant as a VEP region string
// ("{chrom} {start} {end} {ref}/{alt} +"). For deletions and same-length
// substitutions the end position covers the reference allele; SNVs and
// insertions keep start == end (single anchor base).
func (v Variant) Region() string {
	end := v.Pos
	if !v.IsSNV() && !v.IsInsertion() {
		end = v.Pos + int64(len(v.Ref)) - 1
	}
	return fmt.Sprintf("%s %d %d %s/%s +", v.Chrom, v.Pos, end, v.Ref, v.Alt)
}

// KeyFromRegion converts an echoed VEP region string
// ("2 148483494 148483494 C/A +") back into a canonical variant key.
func KeyFromRegion(region string) (string, error) {
	fields := strings.Fields(region)
	if len(fields) < 4 {
		return "", fmt.Errorf("invalid region string %q", region)
	}
	alleles := strings.SplitN(fields[3], "/", 2)
	if len(alleles) != 2 {
		return "", fmt.Errorf("invalid alleles in region %q", region)
	}
	pos, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid position in region %q", region)
	}
	v, err := New(fields[0], pos, alleles[0], alleles[1])
	if err != nil {
		return "", err
	}
	return v.Key(), nil
}
