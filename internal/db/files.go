package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

const fileColumns = `filename, url, description_url, sha1, size, width, height, mime_type, uploader, timestamp, updated_at`

// UpsertFile stores file metadata. The row is only rewritten when the content
// hash or upload time changed; changed reports whether anything was written.
func (db *DB) UpsertFile(ctx context.Context, f *FileAsset) (changed bool, err error) {
	if f.Filename == "" {
		return false, integrityf("upsert file", "file without a name")
	}

	tag, err := db.Pool.Exec(ctx, `
		INSERT INTO file_assets (
			filename, url, description_url, sha1, size, width, height,
			mime_type, uploader, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (filename) DO UPDATE SET
			url = EXCLUDED.url,
			description_url = EXCLUDED.description_url,
			sha1 = EXCLUDED.sha1,
			size = EXCLUDED.size,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			mime_type = EXCLUDED.mime_type,
			uploader = EXCLUDED.uploader,
			timestamp = EXCLUDED.timestamp,
			updated_at = NOW()
		WHERE (file_assets.sha1, file_assets.timestamp)
			IS DISTINCT FROM (EXCLUDED.sha1, EXCLUDED.timestamp)
	`,
		f.Filename, f.URL, f.DescriptionURL, f.SHA1, f.Size, f.Width, f.Height,
		f.MimeType, f.Uploader, f.Timestamp,
	)
	if err != nil {
		return false, classify("upsert file", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetFile retrieves file metadata by filename. Returns nil if not found.
func (db *DB) GetFile(ctx context.Context, filename string) (*FileAsset, error) {
	rows, _ := db.Pool.Query(ctx, `SELECT `+fileColumns+` FROM file_assets WHERE filename = $1`, filename)
	f, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[FileAsset])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get file", err)
	}
	return f, nil
}

// FindDuplicateFiles returns every file whose content hash is sha1
func (db *DB) FindDuplicateFiles(ctx context.Context, sha1 string) ([]*FileAsset, error) {
	rows, _ := db.Pool.Query(ctx, `
		SELECT `+fileColumns+` FROM file_assets
		WHERE sha1 = $1
		ORDER BY filename
	`, sha1)
	files, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[FileAsset])
	if err != nil {
		return nil, classify("find duplicate files", err)
	}
	return files, nil
}
