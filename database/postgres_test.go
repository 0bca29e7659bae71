package database

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSQLStatements(t *testing.T) {
	content := `
-- leading comment
CREATE TABLE a (
    id INT
);

CREATE INDEX idx ON a (id);
-- trailing comment
SELECT 1`

	stmts := parseSQLStatements(content)
	require.Len(t, stmts, 3)
	assert.Equal(t, "CREATE TABLE a ( id INT )", stmts[0])
	assert.Equal(t, "CREATE INDEX idx ON a (id)", stmts[1])
	assert.Equal(t, "SELECT 1", stmts[2])
}

func TestSchemaFileParses(t *testing.T) {
	content, err := os.ReadFile("schema.sql")
	require.NoError(t, err)

	stmts := parseSQLStatements(string(content))
	assert.Len(t, stmts, 4)
	for _, stmt := range stmts {
		assert.NotContains(t, stmt, "--")
	}
}
