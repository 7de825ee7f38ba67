// Package ingestion reads and validates the RNA sequence input for a run.
package ingestion

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Record is one FASTA entry.
type Record struct {
	Header   string
	Sequence string
}

// ID returns the first whitespace-delimited token of the header.
func (r Record) ID() string {
	fields := strings.Fields(r.Header)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// ReadFASTA parses a FASTA file. Sequences are uppercased; blank lines are
// ignored.
func ReadFASTA(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read FASTA %s: %w", path, err)
	}

	var records []Record
	var header string
	var seq strings.Builder
	flush := func() {
		if header != "" {
			records = append(records, Record{Header: header, Sequence: seq.String()})
		}
		seq.Reset()
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			flush()
			header = strings.TrimSpace(line[1:])
			continue
		}
		seq.WriteString(strings.ToUpper(line))
	}
	flush()
	return records, nil
}

// WriteFASTA writes records wrapped at 80 columns.
func WriteFASTA(records []Record, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", path, err)
	}
	var sb strings.Builder
	for _, rec := range records {
		sb.WriteString(">")
		sb.WriteString(rec.Header)
		sb.WriteString("\n")
		for i := 0; i < len(rec.Sequence); i += 80 {
			end := min(i+80, len(rec.Sequence))
			sb.WriteString(rec.Sequence[i:end])
			sb.WriteString("\n")
		}
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write FASTA %s: %w", path, err)
	}
	return nil
}

// CopyInput validates the input FASTA (exactly one RNA record) and copies it
// into the run directory as input/query.fasta, returning the copied path. An
// existing copy is left untouched so resumed runs keep their original input.
func CopyInput(fastaPath, runDir string) (Record, string, error) {
	records, err := ReadFASTA(fastaPath)
	if err != nil {
		return Record{}, "", err
	}
	if len(records) == 0 {
		return Record{}, "", fmt.Errorf("no sequences found in %s", fastaPath)
	}
	if len(records) > 1 {
		return Record{}, "", fmt.Errorf("expected a single sequence in %s, found %d", fastaPath, len(records))
	}
	rec := records[0]
	if err := validateRNA(rec.Sequence); err != nil {
		return Record{}, "", fmt.Errorf("sequence %s: %w", rec.ID(), err)
	}

	dest := filepath.Join(runDir, "input", "query.fasta")
	if _, err := os.Stat(dest); err == nil {
		return rec, dest, nil
	}
	if err := WriteFASTA(records, dest); err != nil {
		return Record{}, "", err
	}
	return rec, dest, nil
}

func validateRNA(seq string) error {
	if seq == "" {
		return fmt.Errorf("empty sequence")
	}
	for i, c := range seq {
		switch c {
		case 'A', 'C', 'G', 'U', 'T', 'N':
		default:
			return fmt.Errorf("invalid nucleotide %q at position %d", c, i+1)
		}
	}
	return nil
}
