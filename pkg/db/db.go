package db

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/xerrors"

	_ "modernc.org/sqlite"

	"github.com/apache/archiva-sub036/pkg/types"
)

const (
	dbFileName    = "archiva.db"
	SchemaVersion = 1

	// WAL lets the server read while a scan is writing
	dsnParams = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
)

type DB struct {
	client *sql.DB
	dir    string
}

func Path(cacheDir string) string {
	dbPath := filepath.Join(cacheDir, dbFileName)
	return dbPath
}

func New(cacheDir string) (DB, error) {
	dbPath := Path(cacheDir)
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0700); err != nil {
		return DB{}, xerrors.Errorf("failed to mkdir: %w", err)
	}

	// open db
	db, err := sql.Open("sqlite", dbPath+dsnParams)
	if err != nil {
		return DB{}, xerrors.Errorf("can't open db: %w", err)
	}

	return DB{
		client: db,
		dir:    dbDir,
	}, nil
}

var schema = []struct {
	name string
	stmt string
}{
	{"artifacts", `CREATE TABLE IF NOT EXISTS artifacts(id INTEGER PRIMARY KEY, group_id TEXT NOT NULL, artifact_id TEXT NOT NULL)`},
	{"indices", `CREATE TABLE IF NOT EXISTS indices(
		id INTEGER PRIMARY KEY,
		artifact_id INTEGER NOT NULL,
		repository_id TEXT NOT NULL,
		version TEXT NOT NULL,
		classifier TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		path TEXT NOT NULL,
		sha1 BLOB,
		md5 BLOB,
		size INTEGER NOT NULL DEFAULT 0,
		last_modified INTEGER NOT NULL DEFAULT 0,
		packaging TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		licenses TEXT NOT NULL DEFAULT '[]',
		foreign key (artifact_id) references artifacts(id))`},
	{"classes", `CREATE TABLE IF NOT EXISTS classes(index_id INTEGER NOT NULL, name TEXT NOT NULL,
		foreign key (index_id) references indices(id) ON DELETE CASCADE)`},
	{"scan_stats", `CREATE TABLE IF NOT EXISTS scan_stats(
		id INTEGER PRIMARY KEY,
		repository_id TEXT NOT NULL,
		started INTEGER NOT NULL,
		finished INTEGER NOT NULL,
		total_files INTEGER NOT NULL,
		new_files INTEGER NOT NULL,
		invalid_files INTEGER NOT NULL,
		errors INTEGER NOT NULL,
		total_size INTEGER NOT NULL,
		consumers TEXT NOT NULL DEFAULT '{}')`},
	{"artifacts_idx", `CREATE UNIQUE INDEX IF NOT EXISTS artifacts_idx ON artifacts(group_id, artifact_id)`},
	{"indices_path_idx", `CREATE UNIQUE INDEX IF NOT EXISTS indices_path_idx ON indices(repository_id, path)`},
	{"indices_sha1_idx", `CREATE INDEX IF NOT EXISTS indices_sha1_idx ON indices(sha1)`},
	{"classes_name_idx", `CREATE INDEX IF NOT EXISTS classes_name_idx ON classes(name)`},
	{"scan_stats_repo_idx", `CREATE INDEX IF NOT EXISTS scan_stats_repo_idx ON scan_stats(repository_id, finished)`},
}

// Init creates the tables and indexes. It is safe to call on an existing database.
func (db *DB) Init() error {
	for _, s := range schema {
		if _, err := db.client.Exec(s.stmt); err != nil {
			return xerrors.Errorf("unable to create '%s': %w", s.name, err)
		}
	}
	return nil
}

func (db *DB) Dir() string {
	return db.dir
}

func (db *DB) Close() error {
	return db.client.Close()
}

func (db *DB) VacuumDB() error {
	if _, err := db.client.Exec("VACUUM"); err != nil {
		return xerrors.Errorf("vacuum database error: %w", err)
	}
	return nil
}

//////////////////////////////////////
// functions to interaction with DB //
//////////////////////////////////////

// InsertIndexes stores the rows in one transaction. A row replaces the
// previous row of the same repository and path, classes included.
func (db *DB) InsertIndexes(indexes []types.Index) error {
	if len(indexes) == 0 {
		return nil
	}
	tx, err := db.client.Begin()
	if err != nil {
		return xerrors.Errorf("unable to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, i := range indexes {
		_, err = tx.Exec(`INSERT INTO artifacts(group_id, artifact_id) VALUES (?, ?) ON CONFLICT(group_id, artifact_id) DO NOTHING`,
			i.GroupID, i.ArtifactID)
		if err != nil {
			return xerrors.Errorf("unable to insert to 'artifacts' table: %w", err)
		}

		licenses, err := json.Marshal(lo.Ternary(i.Licenses == nil, []string{}, i.Licenses))
		if err != nil {
			return xerrors.Errorf("unable to marshal licenses: %w", err)
		}

		var id int64
		row := tx.QueryRow(`INSERT INTO indices(artifact_id, repository_id, version, classifier, type, path, sha1, md5, size, last_modified, packaging, name, licenses)
			VALUES ((SELECT id FROM artifacts WHERE group_id=? AND artifact_id=?), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(repository_id, path) DO UPDATE SET
				artifact_id=excluded.artifact_id, version=excluded.version, classifier=excluded.classifier, type=excluded.type,
				sha1=excluded.sha1, md5=excluded.md5, size=excluded.size, last_modified=excluded.last_modified,
				packaging=excluded.packaging, name=excluded.name, licenses=excluded.licenses
			RETURNING id`,
			i.GroupID, i.ArtifactID, i.RepositoryID, i.Version, i.Classifier, i.Type, i.Path,
			i.SHA1, i.MD5, i.Size, unix(i.LastModified), i.Packaging, i.Name, string(licenses))
		if err = row.Scan(&id); err != nil {
			return xerrors.Errorf("unable to insert to 'indices' table: %w", err)
		}

		if _, err = tx.Exec(`DELETE FROM classes WHERE index_id = ?`, id); err != nil {
			return xerrors.Errorf("unable to clear 'classes': %w", err)
		}
		for _, class := range lo.Uniq(i.Classes) {
			if _, err = tx.Exec(`INSERT INTO classes(index_id, name) VALUES (?, ?)`, id, class); err != nil {
				return xerrors.Errorf("unable to insert to 'classes' table: %w", err)
			}
		}
	}
	return tx.Commit()
}

const selectIndex = `SELECT i.repository_id, a.group_id, a.artifact_id, i.version, i.classifier, i.type, i.path,
	i.sha1, i.md5, i.size, i.last_modified, i.packaging, i.name, i.licenses
	FROM indices i JOIN artifacts a ON a.id = i.artifact_id`

func (db *DB) SelectIndexBySha1(sha1 string) (types.Index, error) {
	sha1b, err := hex.DecodeString(sha1)
	if err != nil {
		return types.Index{}, xerrors.Errorf("sha1 decode error: %w", err)
	}
	index, err := scanIndex(db.client.QueryRow(selectIndex+` WHERE i.sha1 = ? ORDER BY i.id LIMIT 1`, sha1b))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return types.Index{}, xerrors.Errorf("select index error: %w", err)
	}
	return index, nil
}

// SelectIndex returns the row stored for a repository path.
func (db *DB) SelectIndex(repoID, path string) (types.Index, bool, error) {
	index, err := scanIndex(db.client.QueryRow(selectIndex+` WHERE i.repository_id = ? AND i.path = ?`, repoID, path))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Index{}, false, nil
	} else if err != nil {
		return types.Index{}, false, xerrors.Errorf("select index error: %w", err)
	}
	return index, true, nil
}

func (db *DB) SelectIndexesByGA(groupID, artifactID string) ([]types.Index, error) {
	return db.selectIndexes(selectIndex+` WHERE a.group_id = ? AND a.artifact_id = ? ORDER BY i.repository_id, i.path`,
		groupID, artifactID)
}

// SelectIndexesByRepository returns every row of a repository ordered by path.
func (db *DB) SelectIndexesByRepository(repoID string) ([]types.Index, error) {
	return db.selectIndexes(selectIndex+` WHERE i.repository_id = ? ORDER BY i.path`, repoID)
}

// Search matches term against group id, artifact id, name and class names.
// When repoIDs are given only rows of those repositories are returned.
func (db *DB) Search(term string, limit int, repoIDs ...string) ([]types.Index, error) {
	if limit <= 0 {
		limit = 100
	}
	like := "%" + escapeLike(term) + "%"
	query := selectIndex + ` WHERE (a.group_id LIKE ? ESCAPE '\' OR a.artifact_id LIKE ? ESCAPE '\' OR i.name LIKE ? ESCAPE '\'
		OR EXISTS (SELECT 1 FROM classes c WHERE c.index_id = i.id AND c.name LIKE ? ESCAPE '\'))`
	args := []any{like, like, like, like}
	if len(repoIDs) > 0 {
		query += ` AND i.repository_id IN (` + strings.TrimSuffix(strings.Repeat("?, ", len(repoIDs)), ", ") + `)`
		args = append(args, lo.ToAnySlice(repoIDs)...)
	}
	query += ` ORDER BY a.group_id, a.artifact_id, i.version LIMIT ?`
	return db.selectIndexes(query, append(args, limit)...)
}

// SelectByClass finds rows containing a class. A name without a package
// matches any package.
func (db *DB) SelectByClass(name string) ([]types.Index, error) {
	return db.selectIndexes(selectIndex+` WHERE EXISTS (SELECT 1 FROM classes c WHERE c.index_id = i.id AND (c.name = ? OR c.name LIKE ? ESCAPE '\'))
		ORDER BY a.group_id, a.artifact_id, i.version`, name, "%."+escapeLike(name))
}

// SelectClasses returns the class names stored for a repository path.
func (db *DB) SelectClasses(repoID, path string) ([]string, error) {
	rows, err := db.client.Query(`SELECT c.name FROM classes c JOIN indices i ON i.id = c.index_id
		WHERE i.repository_id = ? AND i.path = ? ORDER BY c.name`, repoID, path)
	if err != nil {
		return nil, xerrors.Errorf("select classes error: %w", err)
	}
	defer rows.Close()

	var classes []string
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, xerrors.Errorf("scan row error: %w", err)
		}
		classes = append(classes, name)
	}
	return classes, rows.Err()
}

// SelectPaths lists every indexed path of a repository.
func (db *DB) SelectPaths(repoID string) ([]string, error) {
	rows, err := db.client.Query(`SELECT path FROM indices WHERE repository_id = ? ORDER BY path`, repoID)
	if err != nil {
		return nil, xerrors.Errorf("select paths error: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err = rows.Scan(&p); err != nil {
			return nil, xerrors.Errorf("scan row error: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (db *DB) DeleteByPath(repoID string, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	tx, err := db.client.Begin()
	if err != nil {
		return xerrors.Errorf("unable to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range paths {
		if _, err = tx.Exec(`DELETE FROM indices WHERE repository_id = ? AND path = ?`, repoID, p); err != nil {
			return xerrors.Errorf("unable to delete %s: %w", p, err)
		}
	}
	return tx.Commit()
}

func (db *DB) DeleteRepository(repoID string) error {
	if _, err := db.client.Exec(`DELETE FROM indices WHERE repository_id = ?`, repoID); err != nil {
		return xerrors.Errorf("unable to delete repository %s: %w", repoID, err)
	}
	if _, err := db.client.Exec(`DELETE FROM scan_stats WHERE repository_id = ?`, repoID); err != nil {
		return xerrors.Errorf("unable to delete scan statistics of %s: %w", repoID, err)
	}
	return nil
}

func (db *DB) InsertScanStatistics(stats types.ScanStatistics) error {
	consumers, err := json.Marshal(lo.Ternary(stats.Consumers == nil, map[string]int64{}, stats.Consumers))
	if err != nil {
		return xerrors.Errorf("unable to marshal consumer counts: %w", err)
	}
	_, err = db.client.Exec(`INSERT INTO scan_stats(repository_id, started, finished, total_files, new_files, invalid_files, errors, total_size, consumers)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stats.RepositoryID, stats.Started.UnixMilli(), stats.Finished.UnixMilli(), stats.TotalFileCount,
		stats.NewFileCount, stats.InvalidFileCount, stats.ErrorCount, stats.TotalSize, string(consumers))
	if err != nil {
		return xerrors.Errorf("unable to insert to 'scan_stats' table: %w", err)
	}
	return nil
}

// LastScan returns the most recent statistics of a repository. ok is false
// when the repository was never scanned.
func (db *DB) LastScan(repoID string) (stats types.ScanStatistics, ok bool, err error) {
	var started, finished int64
	var consumers string
	row := db.client.QueryRow(`SELECT repository_id, started, finished, total_files, new_files, invalid_files, errors, total_size, consumers
		FROM scan_stats WHERE repository_id = ? ORDER BY finished DESC, id DESC LIMIT 1`, repoID)
	err = row.Scan(&stats.RepositoryID, &started, &finished, &stats.TotalFileCount, &stats.NewFileCount,
		&stats.InvalidFileCount, &stats.ErrorCount, &stats.TotalSize, &consumers)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ScanStatistics{}, false, nil
	} else if err != nil {
		return types.ScanStatistics{}, false, xerrors.Errorf("select scan statistics error: %w", err)
	}
	stats.Started = time.UnixMilli(started).UTC()
	stats.Finished = time.UnixMilli(finished).UTC()
	if err = json.Unmarshal([]byte(consumers), &stats.Consumers); err != nil {
		return types.ScanStatistics{}, false, xerrors.Errorf("unable to unmarshal consumer counts: %w", err)
	}
	return stats, true, nil
}

func (db *DB) selectIndexes(query string, args ...any) ([]types.Index, error) {
	rows, err := db.client.Query(query, args...)
	if err != nil {
		return nil, xerrors.Errorf("select indexes error: %w", err)
	}
	defer rows.Close()

	var indexes []types.Index
	for rows.Next() {
		index, err := scanIndex(rows)
		if err != nil {
			return nil, xerrors.Errorf("scan row error: %w", err)
		}
		indexes = append(indexes, index)
	}
	return indexes, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIndex(row scanner) (types.Index, error) {
	var index types.Index
	var lastModified int64
	var licenses string
	err := row.Scan(&index.RepositoryID, &index.GroupID, &index.ArtifactID, &index.Version, &index.Classifier,
		&index.Type, &index.Path, &index.SHA1, &index.MD5, &index.Size, &lastModified, &index.Packaging,
		&index.Name, &licenses)
	if err != nil {
		return types.Index{}, err
	}
	if lastModified > 0 {
		index.LastModified = time.Unix(lastModified, 0).UTC()
	}
	if err = json.Unmarshal([]byte(licenses), &index.Licenses); err != nil {
		return types.Index{}, xerrors.Errorf("licenses decode error: %w", err)
	}
	if len(index.Licenses) == 0 {
		index.Licenses = nil
	}
	return index, nil
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
