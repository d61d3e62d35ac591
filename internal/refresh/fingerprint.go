package refresh

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
)

const (
	fingerprintStructural  = "structural"
	fingerprintLightweight = "lightweight"
	fingerprintUnknown     = "unknown"
)

type fingerprintDetails struct {
	Value      string
	Mode       string
	Components map[string]string
}

type fingerprintComponent struct {
	name  string
	query string
}

// Structural mode fingerprints only behavior-relevant catalog metadata.
// Comments are excluded so documentation edits do not trigger rebuilds.
var structuralComponents = []fingerprintComponent{
	{
		name: "tables",
		query: `
			SELECT TABLE_NAME, TABLE_TYPE
			FROM INFORMATION_SCHEMA.TABLES
			WHERE TABLE_SCHEMA = ?
				AND TABLE_TYPE = 'BASE TABLE'
			ORDER BY TABLE_NAME
		`,
	},
	{
		name: "columns",
		query: `
			SELECT
				TABLE_NAME,
				COLUMN_NAME,
				CAST(ORDINAL_POSITION AS CHAR),
				DATA_TYPE,
				COLUMN_TYPE,
				IS_NULLABLE,
				COALESCE(COLUMN_DEFAULT, ''),
				EXTRA
			FROM INFORMATION_SCHEMA.COLUMNS
			WHERE TABLE_SCHEMA = ?
			ORDER BY TABLE_NAME, ORDINAL_POSITION, COLUMN_NAME
		`,
	},
	{
		name: "primary_keys",
		query: `
			SELECT
				TABLE_NAME,
				COLUMN_NAME,
				CAST(ORDINAL_POSITION AS CHAR)
			FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
			WHERE TABLE_SCHEMA = ?
				AND CONSTRAINT_NAME = 'PRIMARY'
			ORDER BY TABLE_NAME, ORDINAL_POSITION, COLUMN_NAME
		`,
	},
	{
		name: "foreign_keys",
		query: `
			SELECT
				TABLE_NAME,
				CONSTRAINT_NAME,
				COLUMN_NAME,
				COALESCE(REFERENCED_TABLE_NAME, ''),
				COALESCE(REFERENCED_COLUMN_NAME, ''),
				CAST(ORDINAL_POSITION AS CHAR)
			FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
			WHERE TABLE_SCHEMA = ?
				AND REFERENCED_TABLE_NAME IS NOT NULL
			ORDER BY TABLE_NAME, CONSTRAINT_NAME, ORDINAL_POSITION, COLUMN_NAME
		`,
	},
	{
		name: "indexes",
		query: `
			SELECT
				TABLE_NAME,
				INDEX_NAME,
				CAST(NON_UNIQUE AS CHAR),
				CAST(SEQ_IN_INDEX AS CHAR),
				COALESCE(COLUMN_NAME, ''),
				COALESCE(CAST(SUB_PART AS CHAR), '')
			FROM INFORMATION_SCHEMA.STATISTICS
			WHERE TABLE_SCHEMA = ?
			ORDER BY TABLE_NAME, INDEX_NAME, SEQ_IN_INDEX, COLUMN_NAME
		`,
	},
}

// Lightweight mode only watches table create/update timestamps. It misses
// in-place alterations on some engines but never needs metadata privileges
// beyond SHOW TABLES.
const lightweightFingerprintQuery = `
	SELECT
		TABLE_NAME,
		COALESCE(CAST(CREATE_TIME AS CHAR), ''),
		COALESCE(CAST(UPDATE_TIME AS CHAR), '')
	FROM INFORMATION_SCHEMA.TABLES
	WHERE TABLE_SCHEMA = ?
		AND TABLE_TYPE = 'BASE TABLE'
	ORDER BY TABLE_NAME
`

func structuralFingerprint(ctx context.Context, db *sql.DB, database string) (fingerprintDetails, error) {
	hashes := make(map[string]string, len(structuralComponents))
	for _, component := range structuralComponents {
		hash, err := hashComponentQuery(ctx, db, component.query, database)
		if err != nil {
			return fingerprintDetails{}, fmt.Errorf("hash %s component: %w", component.name, err)
		}
		hashes[component.name] = hash
	}
	return fingerprintDetails{
		Value:      combineComponentHashes(hashes),
		Mode:       fingerprintStructural,
		Components: hashes,
	}, nil
}

func lightweightFingerprint(ctx context.Context, db *sql.DB, database string) (fingerprintDetails, error) {
	hash, err := hashComponentQuery(ctx, db, lightweightFingerprintQuery, database)
	if err != nil {
		return fingerprintDetails{}, err
	}
	hashes := map[string]string{"table_timestamps": hash}
	return fingerprintDetails{
		Value:      combineComponentHashes(hashes),
		Mode:       fingerprintLightweight,
		Components: hashes,
	}, nil
}

func hashComponentQuery(ctx context.Context, db *sql.DB, query string, args ...any) (string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = rows.Close()
	}()

	columns, err := rows.Columns()
	if err != nil {
		return "", err
	}
	values := make([]sql.NullString, len(columns))
	targets := make([]any, len(columns))
	for i := range values {
		targets[i] = &values[i]
	}

	hash := sha256.New()
	for rows.Next() {
		if err := rows.Scan(targets...); err != nil {
			return "", err
		}
		// Length-prefixed cells avoid hash ambiguity from delimiter collisions.
		for _, value := range values {
			cell := ""
			if value.Valid {
				cell = value.String
			}
			_, _ = fmt.Fprintf(hash, "%d:%s|", len(cell), cell)
		}
		_, _ = hash.Write([]byte{'\n'})
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func combineComponentHashes(hashes map[string]string) string {
	if len(hashes) == 0 {
		return ""
	}
	keys := make([]string, 0, len(hashes))
	for key := range hashes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	hash := sha256.New()
	for _, key := range keys {
		_, _ = fmt.Fprintf(hash, "%s=%s\n", key, hashes[key])
	}
	return hex.EncodeToString(hash.Sum(nil))
}

// changedComponents compares over the union of keys so added or removed
// components surface in the diff too.
func changedComponents(previous, current map[string]string) []string {
	keySet := make(map[string]struct{}, len(previous)+len(current))
	for key := range previous {
		keySet[key] = struct{}{}
	}
	for key := range current {
		keySet[key] = struct{}{}
	}
	keys := make([]string, 0, len(keySet))
	for key := range keySet {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	changed := make([]string, 0, len(keys))
	for _, key := range keys {
		if previous[key] != current[key] {
			changed = append(changed, key)
		}
	}
	return changed
}
