// Package store provides the relational annotation cache.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/marcboeker/go-duckdb"
)

// Annotation is the variant-level cache record. Pointer fields are nullable
// columns; nil means the upstream annotation did not carry the value.
type Annotation struct {
	VariantKey            string       `json:"variant_key"`
	Gene                  string       `json:"gene"`
	CADD                  *float64     `json:"cadd"`
	MLScore               *float64     `json:"ml_score"`
	MostSevereConsequence string       `json:"most_severe_consequence"`
	AlleleFreq            *float64     `json:"allele_freq"`
	MaxAlleleFreq         *float64     `json:"max_allele_freq"`
	OMIM                  string       `json:"omim"`
	ClinSig               string       `json:"clin_sig"`
	Transcripts           []Transcript `json:"transcripts"`
}

// Transcript is one transcript-level annotation row for a variant.
type Transcript struct {
	TranscriptID    string   `json:"transcript_id"`
	Polyphen        *float64 `json:"polyphen"`
	ProteinNotation string   `json:"protein_notation"`
	Revel           *float64 `json:"revel"`
	SpliceAI        *float64 `json:"splice_ai"`
	Mane            bool     `json:"mane"`
	Loftee          string   `json:"loftee"`
	Impact          string   `json:"impact"`
	Gerp            *float64 `json:"gerp"`
	CDNANotation    string   `json:"cdna_notation"`
	Consequences    string   `json:"consequences"`
}

// Statistics summarizes the cache contents for the statistics endpoint.
type Statistics struct {
	TotalAnnotations    int            `json:"total_annotations"`
	ScoredAnnotations   int            `json:"scored_annotations"`
	ConsequenceCounts   map[string]int `json:"consequence_counts"`
	TranscriptRowsTotal int            `json:"transcript_rows_total"`
}

// Config selects and configures the database backend.
type Config struct {
	Driver   string // "duckdb" or "mysql"
	Path     string // duckdb database file
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// Store provides the annotation cache operations on top of database/sql.
type Store struct {
	db     *sql.DB
	driver string
}

// Open opens a connection to the configured backend. The schema is not
// created here; call CreateSchema once at startup.
func Open(cfg Config) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "duckdb"
	}

	var dsn string
	switch driver {
	case "duckdb":
		dsn = cfg.Path
	case "mysql":
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateSchema creates the annotation tables idempotently.
// HGVS notations can exceed 255 characters, so both notation columns are TEXT.
func (s *Store) CreateSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS annotations (
			variant_key VARCHAR(255) PRIMARY KEY,
			gene VARCHAR(255),
			cadd DOUBLE,
			ml_score DOUBLE,
			most_severe_consequence VARCHAR(255),
			allele_freq DOUBLE,
			max_allele_freq DOUBLE,
			omim VARCHAR(255),
			clin_sig TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS transcripts (
			variant_key VARCHAR(255) NOT NULL,
			transcript_id VARCHAR(255),
			polyphen DOUBLE,
			protein_notation TEXT,
			revel DOUBLE,
			splice_ai DOUBLE,
			mane BOOLEAN DEFAULT FALSE,
			loftee VARCHAR(255),
			impact VARCHAR(255),
			gerp DOUBLE,
			cdna_notation TEXT,
			consequences TEXT,
			FOREIGN KEY (variant_key) REFERENCES annotations(variant_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transcripts_variant ON transcripts(variant_key)`,
		`CREATE INDEX IF NOT EXISTS idx_transcripts_id ON transcripts(transcript_id)`,
	}
	if s.driver == "mysql" {
		// MySQL has no CREATE INDEX IF NOT EXISTS; the FK already indexes
		// variant_key, so only the transcript_id index needs guarding below.
		stmts = stmts[:2]
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	if s.driver == "mysql" {
		// Idempotent index creation via information_schema.
		var n int
		err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM information_schema.statistics
			WHERE table_name = 'transcripts' AND index_name = 'idx_transcripts_id'
			  AND table_schema = DATABASE()
		`).Scan(&n)
		if err != nil {
			return fmt.Errorf("check index: %w", err)
		}
		if n == 0 {
			if _, err := s.db.ExecContext(ctx,
				`CREATE INDEX idx_transcripts_id ON transcripts(transcript_id)`); err != nil {
				return fmt.Errorf("create index: %w", err)
			}
		}
	}
	return nil
}

// HasAnnotation reports whether a variant-level row exists for the key.
func (s *Store) HasAnnotation(ctx context.Context, variantKey string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM annotations WHERE variant_key = ?`, variantKey).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query annotation: %w", err)
	}
	return n > 0, nil
}

// GetAnnotation returns the annotation record for a variant key, including
// its transcript rows, or nil when the key is not cached.
func (s *Store) GetAnnotation(ctx context.Context, variantKey string) (*Annotation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT variant_key, gene, cadd, ml_score, most_severe_consequence,
		       allele_freq, max_allele_freq, omim, clin_sig
		FROM annotations
		WHERE variant_key = ?
	`, variantKey)

	a := &Annotation{}
	var gene, msc, omim, clinSig sql.NullString
	var cadd, mlScore, af, maxAF sql.NullFloat64
	err := row.Scan(&a.VariantKey, &gene, &cadd, &mlScore, &msc, &af, &maxAF, &omim, &clinSig)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan annotation: %w", err)
	}

	a.Gene = gene.String
	a.MostSevereConsequence = msc.String
	a.OMIM = omim.String
	a.ClinSig = clinSig.String
	a.CADD = nullableFloat(cadd)
	a.MLScore = nullableFloat(mlScore)
	a.AlleleFreq = nullableFloat(af)
	a.MaxAlleleFreq = nullableFloat(maxAF)

	if err := s.loadTranscripts(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) loadTranscripts(ctx context.Context, a *Annotation) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transcript_id, polyphen, protein_notation, revel, splice_ai,
		       mane, loftee, impact, gerp, cdna_notation, consequences
		FROM transcripts
		WHERE variant_key = ?
		ORDER BY transcript_id
	`, a.VariantKey)
	if err != nil {
		return fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t Transcript
		var id, prot, loftee, impact, cdna, cons sql.NullString
		var polyphen, revel, spliceAI, gerp sql.NullFloat64
		var mane sql.NullBool
		err := rows.Scan(&id, &polyphen, &prot, &revel, &spliceAI,
			&mane, &loftee, &impact, &gerp, &cdna, &cons)
		if err != nil {
			return fmt.Errorf("scan transcript: %w", err)
		}
		t.TranscriptID = id.String
		t.ProteinNotation = prot.String
		t.Loftee = loftee.String
		t.Impact = impact.String
		t.CDNANotation = cdna.String
		t.Consequences = cons.String
		t.Mane = mane.Bool
		t.Polyphen = nullableFloat(polyphen)
		t.Revel = nullableFloat(revel)
		t.SpliceAI = nullableFloat(spliceAI)
		t.Gerp = nullableFloat(gerp)
		a.Transcripts = append(a.Transcripts, t)
	}
	return rows.Err()
}

// WriteBatch persists a batch of annotation records in a single transaction.
// For each record the existing transcript rows are deleted, the variant-level
// row is upserted, and the new transcript rows inserted, so re-annotation
// replaces the transcript set atomically.
func (s *Store) WriteBatch(ctx context.Context, records []*Annotation) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO annotations (variant_key, gene, cadd, ml_score,
		                         most_severe_consequence, allele_freq,
		                         max_allele_freq, omim, clin_sig)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (variant_key) DO UPDATE SET
			gene = excluded.gene,
			cadd = excluded.cadd,
			ml_score = excluded.ml_score,
			most_severe_consequence = excluded.most_severe_consequence,
			allele_freq = excluded.allele_freq,
			max_allele_freq = excluded.max_allele_freq,
			omim = excluded.omim,
			clin_sig = excluded.clin_sig`
	if s.driver == "mysql" {
		upsert = `
		INSERT INTO annotations (variant_key, gene, cadd, ml_score,
		                         most_severe_consequence, allele_freq,
		                         max_allele_freq, omim, clin_sig)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) AS new
		ON DUPLICATE KEY UPDATE
			gene = new.gene,
			cadd = new.cadd,
			ml_score = new.ml_score,
			most_severe_consequence = new.most_severe_consequence,
			allele_freq = new.allele_freq,
			max_allele_freq = new.max_allele_freq,
			omim = new.omim,
			clin_sig = new.clin_sig`
	}

	for _, a := range records {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM transcripts WHERE variant_key = ?`, a.VariantKey); err != nil {
			return fmt.Errorf("delete transcripts %s: %w", a.VariantKey, err)
		}

		_, err := tx.ExecContext(ctx, upsert,
			a.VariantKey, nullString(a.Gene), nullFloat(a.CADD), nullFloat(a.MLScore),
			nullString(a.MostSevereConsequence), nullFloat(a.AlleleFreq),
			nullFloat(a.MaxAlleleFreq), nullString(a.OMIM), nullString(a.ClinSig))
		if err != nil {
			return fmt.Errorf("upsert annotation %s: %w", a.VariantKey, err)
		}

		for _, t := range a.Transcripts {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO transcripts (variant_key, transcript_id, polyphen,
				                         protein_notation, revel, splice_ai, mane,
				                         loftee, impact, gerp, cdna_notation, consequences)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, a.VariantKey, nullString(t.TranscriptID), nullFloat(t.Polyphen),
				nullString(t.ProteinNotation), nullFloat(t.Revel), nullFloat(t.SpliceAI),
				t.Mane, nullString(t.Loftee), nullString(t.Impact), nullFloat(t.Gerp),
				nullString(t.CDNANotation), nullString(t.Consequences))
			if err != nil {
				return fmt.Errorf("insert transcript %s/%s: %w", a.VariantKey, t.TranscriptID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Statistics returns aggregate cache counts.
func (s *Store) Statistics(ctx context.Context) (*Statistics, error) {
	st := &Statistics{ConsequenceCounts: make(map[string]int)}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM annotations`).Scan(&st.TotalAnnotations)
	if err != nil {
		return nil, fmt.Errorf("count annotations: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM annotations WHERE ml_score IS NOT NULL`).Scan(&st.ScoredAnnotations)
	if err != nil {
		return nil, fmt.Errorf("count scored: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transcripts`).Scan(&st.TranscriptRowsTotal)
	if err != nil {
		return nil, fmt.Errorf("count transcripts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT most_severe_consequence, COUNT(*)
		FROM annotations
		WHERE most_severe_consequence IS NOT NULL
		GROUP BY most_severe_consequence
	`)
	if err != nil {
		return nil, fmt.Errorf("consequence histogram: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var consequence string
		var n int
		if err := rows.Scan(&consequence, &n); err != nil {
			return nil, fmt.Errorf("scan histogram: %w", err)
		}
		st.ConsequenceCounts[consequence] = n
	}
	return st, rows.Err()
}

// nullString returns nil if s is empty, otherwise s.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullFloat returns nil if f is nil, otherwise its value.
func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

// nullableFloat converts a scanned nullable column to a pointer.
func nullableFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
