package sqlitedb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDSN(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "sqlite://:memory:", want: ":memory:"},
		{in: "sqlite:///var/lib/graphsync.db", want: "/var/lib/graphsync.db"},
		{in: "sqlite://./state.db", want: "./state.db"},
		{in: "sqlite://state.db", want: "./state.db"},
		{in: "sqlite://my%20state.db?_pragma=x", want: "./my state.db?_pragma=x"},
		{in: "postgres://localhost/db", wantErr: true},
		{in: "sqlite://", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseDSN(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSplitStatementsKeepsTriggerBodies(t *testing.T) {
	ddl := `
-- comment
CREATE TABLE a (id INTEGER);
CREATE TRIGGER a_ai AFTER INSERT ON a BEGIN
	INSERT INTO b VALUES (new.id);
	INSERT INTO c VALUES (new.id);
END;
CREATE INDEX idx_a ON a (id);
`
	stmts := SplitStatements(ddl)
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[1], "INSERT INTO c")
	assert.Contains(t, stmts[1], "END;")
}

func TestOpenFileDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(ctx, "sqlite://"+path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Exec(ctx, db, "CREATE TABLE t (id INTEGER);\nINSERT INTO t VALUES (1);"))
	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT count(*) FROM t").Scan(&n))
	assert.Equal(t, 1, n)
}
