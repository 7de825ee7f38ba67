package ingestion

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFasta(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.fasta")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadFASTA_SingleRecord(t *testing.T) {
	path := writeFasta(t, ">seq1 test RNA\nacgu\nACGU\n")

	records, err := ReadFASTA(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "seq1 test RNA", records[0].Header)
	assert.Equal(t, "ACGUACGU", records[0].Sequence, "lines joined and uppercased")
	assert.Equal(t, "seq1", records[0].ID())
}

func TestReadFASTA_MultipleRecords(t *testing.T) {
	path := writeFasta(t, ">a\nACGU\n\n>b\nGGCC\n")

	records, err := ReadFASTA(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "ACGU", records[0].Sequence)
	assert.Equal(t, "GGCC", records[1].Sequence)
}

func TestWriteFASTA_WrapsAt80Columns(t *testing.T) {
	long := strings.Repeat("ACGU", 30) // 120 nt
	path := filepath.Join(t.TempDir(), "out", "query.fasta")
	require.NoError(t, WriteFASTA([]Record{{Header: "seq1", Sequence: long}}, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, ">seq1", lines[0])
	assert.Len(t, lines[1], 80)
	assert.Len(t, lines[2], 40)
}

func TestCopyInput_ValidSequence(t *testing.T) {
	src := writeFasta(t, ">seq1\nACGUN\n")
	runDir := t.TempDir()

	rec, dest, err := CopyInput(src, runDir)
	require.NoError(t, err)
	assert.Equal(t, "ACGUN", rec.Sequence)
	assert.Equal(t, filepath.Join(runDir, "input", "query.fasta"), dest)
	assert.FileExists(t, dest)
}

func TestCopyInput_PreservesExistingCopy(t *testing.T) {
	src := writeFasta(t, ">seq1\nACGU\n")
	runDir := t.TempDir()

	_, dest, err := CopyInput(src, runDir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dest, []byte(">seq1\nACGU\n# marker\n"), 0o644))

	_, _, err = CopyInput(src, runDir)
	require.NoError(t, err)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "marker", "resumed runs keep their original input copy")
}

func TestCopyInput_RejectsMultipleSequences(t *testing.T) {
	src := writeFasta(t, ">a\nACGU\n>b\nGGCC\n")
	_, _, err := CopyInput(src, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "single sequence")
}

func TestCopyInput_RejectsEmptyFile(t *testing.T) {
	src := writeFasta(t, "")
	_, _, err := CopyInput(src, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sequences")
}

func TestCopyInput_RejectsInvalidNucleotides(t *testing.T) {
	src := writeFasta(t, ">seq1\nACGX\n")
	_, _, err := CopyInput(src, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid nucleotide")
	assert.Contains(t, err.Error(), "position 4")
}

func TestCopyInput_AcceptsDNAAlphabet(t *testing.T) {
	// T is tolerated on input; backends receive the sequence as given.
	src := writeFasta(t, ">seq1\nACGT\n")
	_, _, err := CopyInput(src, t.TempDir())
	assert.NoError(t, err)
}
