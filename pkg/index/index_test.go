package index_test

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apache/archiva-sub036/pkg/dbtest"
	"github.com/apache/archiva-sub036/pkg/index"
	"github.com/apache/archiva-sub036/pkg/types"
)

const dump = `# path	groupId	artifactId	version	sha1
abbot/abbot/0.12.3/abbot-0.12.3.jar	abbot	abbot	0.12.3	51d28a27d919ce8690a40f4f335b9d591ceb16e9
abbot/abbot/0.12.3/abbot-0.12.3-sources.jar	abbot	abbot	0.12.3	N/A
abbot/abbot/1.4.0/abbot-1.4.0.jar	abbot	other	1.4.0	a2363646a9dd05955633b450010b59a21af8a423
abbot/abbot/1.4.0/abbot-1.4.0.pom	abbot	abbot	1.4.0	zz
README	-	-	-	N/A
`

func TestImport(t *testing.T) {
	dbc := dbtest.InitDB(t, nil)

	n, err := index.Import(index.NewReader(strings.NewReader(dump)), "central", dbc, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	paths, err := dbc.SelectPaths("central")
	require.NoError(t, err)
	assert.Equal(t, []string{"abbot/abbot/0.12.3/abbot-0.12.3-sources.jar", "abbot/abbot/0.12.3/abbot-0.12.3.jar"}, paths)

	got, ok, err := dbc.SelectIndex("central", "abbot/abbot/0.12.3/abbot-0.12.3-sources.jar")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sources", got.Classifier)
	assert.Equal(t, "java-source", got.Type)
	assert.Empty(t, got.SHA1)
}

func TestImport_MalformedLine(t *testing.T) {
	const dump = "abbot/abbot/0.12.3/abbot-0.12.3.jar\tabbot\tabbot\t0.12.3\tN/A\n" +
		"a\tb\n" +
		"abbot/abbot/1.0\"/abbot-1.0.jar\tabbot\tabbot\t1.0\tN/A\n" +
		"abbot/abbot/1.4.0/abbot-1.4.0.jar\tabbot\tabbot\t1.4.0\tN/A\n"
	dbc := dbtest.InitDB(t, nil)

	n, err := index.Import(index.NewReader(strings.NewReader(dump)), "central", dbc, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	paths, err := dbc.SelectPaths("central")
	require.NoError(t, err)
	assert.Equal(t, []string{"abbot/abbot/0.12.3/abbot-0.12.3.jar", "abbot/abbot/1.4.0/abbot-1.4.0.jar"}, paths)
}

func TestReader(t *testing.T) {
	r := index.NewReader(strings.NewReader(dump))
	defer r.Close()

	rec, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, index.Record{
		Path:       "abbot/abbot/0.12.3/abbot-0.12.3.jar",
		GroupID:    "abbot",
		ArtifactID: "abbot",
		Version:    "0.12.3",
		SHA1:       "51d28a27d919ce8690a40f4f335b9d591ceb16e9",
	}, rec)
}

func TestWriter(t *testing.T) {
	sha1, _ := hex.DecodeString("51d28a27d919ce8690a40f4f335b9d591ceb16e9")
	rows := []types.Index{
		{GroupID: "abbot", ArtifactID: "abbot", Version: "0.12.3", Path: "abbot/abbot/0.12.3/abbot-0.12.3.jar", SHA1: sha1},
		{GroupID: "abbot", ArtifactID: "abbot", Version: "0.12.3", Path: "abbot/abbot/0.12.3/abbot-0.12.3.pom"},
	}

	var buf bytes.Buffer
	require.NoError(t, index.NewWriter(&buf).Write(rows...))
	assert.Equal(t, "abbot/abbot/0.12.3/abbot-0.12.3.jar\tabbot\tabbot\t0.12.3\t51d28a27d919ce8690a40f4f335b9d591ceb16e9\n"+
		"abbot/abbot/0.12.3/abbot-0.12.3.pom\tabbot\tabbot\t0.12.3\tN/A\n", buf.String())

	// a dump can be imported again
	dbc := dbtest.InitDB(t, nil)
	n, err := index.Import(index.NewReader(&buf), "central", dbc, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
