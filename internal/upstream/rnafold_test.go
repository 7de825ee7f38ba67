package upstream

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRNAfoldOutput(t *testing.T) {
	stdout := `>seq1
GGGAAACCC
(((...))) ( -1.20)
 free energy of ensemble = -1.50 kcal/mol
`
	structure, mfe, ok := ParseRNAfoldOutput(stdout)
	require.True(t, ok)
	assert.Equal(t, "(((...)))", structure)
	assert.Equal(t, -1.2, mfe)
}

func TestParseRNAfoldOutput_NoSpaceBeforeSign(t *testing.T) {
	structure, mfe, ok := ParseRNAfoldOutput("(((....))). (-12.30)\n")
	require.True(t, ok)
	assert.Equal(t, "(((....))).", structure)
	assert.Equal(t, -12.3, mfe)
}

func TestParseRNAfoldOutput_UnpairedStructure(t *testing.T) {
	structure, mfe, ok := ParseRNAfoldOutput("......... (  0.00)\n")
	require.True(t, ok)
	assert.Equal(t, ".........", structure)
	assert.Zero(t, mfe)
}

func TestParseRNAfoldOutput_NoStructureLine(t *testing.T) {
	_, _, ok := ParseRNAfoldOutput(">seq1\nGGGAAACCC\n")
	assert.False(t, ok)
}

func TestBpseqToDotBracket_Nested(t *testing.T) {
	bpseq := `1 G 9
2 G 8
3 G 7
4 A 0
5 A 0
6 A 0
7 C 3
8 C 2
9 C 1
`
	structure, err := BpseqToDotBracket(bpseq)
	require.NoError(t, err)
	assert.Equal(t, "(((...)))", structure)
}

func TestBpseqToDotBracket_Pseudoknot(t *testing.T) {
	// Pairs (1,5) and (3,7) cross; the second goes to the bracket layer.
	bpseq := `1 G 5
2 A 0
3 G 7
4 A 0
5 C 1
6 A 0
7 C 3
`
	structure, err := BpseqToDotBracket(bpseq)
	require.NoError(t, err)
	assert.Equal(t, "(.[.).]", structure)
}

func TestBpseqToDotBracket_Empty(t *testing.T) {
	_, err := BpseqToDotBracket("")
	assert.Error(t, err)
}

func TestParseTblout_TopHit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tblout.txt")
	content := `# cmscan :: search sequence(s) against a CM database
#idx target name accession query name accession clan name mdl mdl from mdl to seq from seq to strand trunc pass score E-value inc description
#--- ----------- --------- ---------- --------- --------- --- -------- ------ -------- ------ ------ ----- ---- ----- ------- --- -----------
1    RF00005     -         seq1       -         CL00001   cm  1        71     1        71     +      no    1    62.5  3.4e-14 !   tRNA
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	family, evalue, err := parseTblout(path)
	require.NoError(t, err)
	assert.Equal(t, "RF00005", family)
	assert.Equal(t, 3.4e-14, evalue)
}

func TestParseTblout_NoHits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tblout.txt")
	require.NoError(t, os.WriteFile(path, []byte("# cmscan\n# no hits\n"), 0o644))

	family, _, err := parseTblout(path)
	require.NoError(t, err)
	assert.Empty(t, family)
}

func TestParseTblout_MissingFile(t *testing.T) {
	_, _, err := parseTblout(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestRecover_RestoresFamilyAndMSA(t *testing.T) {
	dir := t.TempDir()
	tblout := `# cmscan
1    RF00005     -         seq1       -         CL00001   cm  1        71     1        71     +      no    1    62.5  3.4e-14 !   tRNA
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cmscan_tblout.txt"), []byte(tblout), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alignment.sto"), []byte("# STOCKHOLM 1.0\n//\n"), 0o644))

	res := Recover(dir)
	assert.Equal(t, "RF00005", res.Family)
	assert.Equal(t, 3.4e-14, res.EValue)
	assert.Equal(t, filepath.Join(dir, "alignment.sto"), res.MSAPath)
}

func TestRecover_EmptyDirectory(t *testing.T) {
	res := Recover(t.TempDir())
	assert.Empty(t, res.Family)
	assert.Empty(t, res.MSAPath)
}
