package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// createdAtLayout is fixed width so that text ordering equals time ordering.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z"

var imageColumns = []string{
	"id", "filename", "mime_type", "parent_id", "prompt",
	"created_at", "is_uploaded", "is_favorite", "is_rejected",
}

type imageRow struct {
	ID         string         `db:"id"`
	Filename   string         `db:"filename"`
	MimeType   string         `db:"mime_type"`
	ParentID   sql.NullString `db:"parent_id"`
	Prompt     sql.NullString `db:"prompt"`
	CreatedAt  string         `db:"created_at"`
	IsUploaded bool           `db:"is_uploaded"`
	IsFavorite bool           `db:"is_favorite"`
	IsRejected bool           `db:"is_rejected"`
}

func (row imageRow) toImage() (*Image, error) {
	createdAt, err := time.Parse(createdAtLayout, row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at of image %s: %w", row.ID, err)
	}
	image := &Image{
		ID:         row.ID,
		Filename:   row.Filename,
		MimeType:   row.MimeType,
		CreatedAt:  createdAt,
		IsUploaded: row.IsUploaded,
		IsFavorite: row.IsFavorite,
		IsRejected: row.IsRejected,
	}
	if row.ParentID.Valid {
		parentID := row.ParentID.String
		image.ParentID = &parentID
	}
	if row.Prompt.Valid {
		prompt := row.Prompt.String
		image.Prompt = &prompt
	}
	return image, nil
}

type SQLiteDatabase struct {
	db               *sqlx.DB
	connectionString string
	now              func() time.Time
}

func NewSQLiteDatabase(connectionString string) (DatabaseService, error) {
	db, err := sqlx.Open("sqlite", connectionString)
	if err != nil {
		return nil, err
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// from splitting into one database per pooled connection.
	db.SetMaxOpenConns(1)

	return &SQLiteDatabase{
		db:               db,
		connectionString: connectionString,
		now:              time.Now,
	}, nil
}

func (s *SQLiteDatabase) CreateDatabase() error {
	if _, err := s.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if !strings.Contains(s.connectionString, ":memory:") {
		if _, err := s.db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			return fmt.Errorf("failed to enable WAL journal: %w", err)
		}
	}

	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS images (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		mime_type TEXT NOT NULL DEFAULT '',
		parent_id TEXT,
		prompt TEXT,
		created_at TEXT NOT NULL,
		is_uploaded INTEGER NOT NULL DEFAULT 0,
		is_favorite INTEGER NOT NULL DEFAULT 0,
		is_rejected INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (parent_id) REFERENCES images(id)
	)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec("CREATE INDEX IF NOT EXISTS idx_images_parent_id ON images(parent_id)")
	return err
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteDatabase) DoesDatabaseExist() bool {
	// In SQLite, the database file is created when you connect to it.
	// So we can assume it exists if we can successfully ping the database.
	err := s.db.Ping()
	return err == nil
}

func (s *SQLiteDatabase) CreateImage(ctx context.Context, image NewImage) (*Image, error) {
	id, err := generateID()
	if err != nil {
		return nil, err
	}
	createdAt := s.now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin transaction: %v", ErrStorage, err)
	}
	defer func() {
		_ = tx.Rollback() // no-op after a successful commit
	}()

	if image.ParentID != nil {
		var exists int
		if err := tx.GetContext(ctx, &exists, "SELECT COUNT(1) FROM images WHERE id = ?", *image.ParentID); err != nil {
			return nil, fmt.Errorf("%w: failed to look up parent image: %v", ErrStorage, err)
		}
		if exists == 0 {
			return nil, fmt.Errorf("%w: parent image %s does not exist", ErrStorage, *image.ParentID)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO images (id, filename, mime_type, parent_id, prompt, created_at, is_uploaded)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, image.Filename, image.MimeType, nullable(image.ParentID), nullable(image.Prompt),
		createdAt.Format(createdAtLayout), boolToInt(image.IsUploaded))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to insert image: %v", ErrStorage, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: failed to commit image: %v", ErrStorage, err)
	}

	created, err := time.Parse(createdAtLayout, createdAt.Format(createdAtLayout))
	if err != nil {
		return nil, err
	}
	return &Image{
		ID:         id,
		Filename:   image.Filename,
		MimeType:   image.MimeType,
		ParentID:   image.ParentID,
		Prompt:     image.Prompt,
		CreatedAt:  created,
		IsUploaded: image.IsUploaded,
	}, nil
}

func (s *SQLiteDatabase) GetImage(ctx context.Context, id string) (*Image, error) {
	query, args, err := sq.Select(imageColumns...).From("images").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	var row imageRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return row.toImage()
}

func (s *SQLiteDatabase) ListImages(ctx context.Context, filter Filter) ([]*Image, error) {
	builder := sq.Select(imageColumns...).From("images").Where(sq.Eq{"is_rejected": 0})
	if filter == FilterFavorites {
		builder = builder.Where(sq.Eq{"is_favorite": 1})
	}
	return s.selectImages(ctx, builder.OrderBy("created_at DESC", "rowid DESC"))
}

func (s *SQLiteDatabase) GetImageWithLineage(ctx context.Context, id string) (*Lineage, error) {
	image, err := s.GetImage(ctx, id)
	if err != nil {
		return nil, err
	}

	lineage := &Lineage{Image: image}
	if image.ParentID != nil {
		parent, err := s.GetImage(ctx, *image.ParentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load parent of image %s: %w", id, err)
		}
		lineage.Parent = parent
	}

	children, err := s.selectImages(ctx, sq.Select(imageColumns...).From("images").
		Where(sq.Eq{"parent_id": id, "is_rejected": 0}).
		OrderBy("created_at DESC", "rowid DESC"))
	if err != nil {
		return nil, fmt.Errorf("failed to load children of image %s: %w", id, err)
	}
	lineage.Children = children
	return lineage, nil
}

func (s *SQLiteDatabase) ToggleFavorite(ctx context.Context, id string) (bool, error) {
	var favorite bool
	err := s.db.GetContext(ctx, &favorite,
		"UPDATE images SET is_favorite = 1 - is_favorite WHERE id = ? RETURNING is_favorite", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return false, fmt.Errorf("%w: failed to toggle favorite: %v", ErrStorage, err)
	}
	return favorite, nil
}

func (s *SQLiteDatabase) MarkRejected(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "UPDATE images SET is_rejected = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: failed to mark image rejected: %v", ErrStorage, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to read affected rows: %v", ErrStorage, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteDatabase) DescendantCount(ctx context.Context, id string) (int, error) {
	if _, err := s.GetImage(ctx, id); err != nil {
		return 0, err
	}
	var count int
	err := s.db.GetContext(ctx, &count, `
		WITH RECURSIVE descendants(id) AS (
			SELECT id FROM images WHERE parent_id = ? AND is_rejected = 0
			UNION ALL
			SELECT i.id FROM images i JOIN descendants d ON i.parent_id = d.id WHERE i.is_rejected = 0
		)
		SELECT COUNT(*) FROM descendants`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to count descendants of image %s: %w", id, err)
	}
	return count, nil
}

func (s *SQLiteDatabase) LoadForest(ctx context.Context) (*Forest, error) {
	var nodes []LineageNode
	if err := s.db.SelectContext(ctx, &nodes, "SELECT id, parent_id, is_rejected FROM images"); err != nil {
		return nil, fmt.Errorf("failed to load lineage: %w", err)
	}
	return NewForest(nodes), nil
}

func (s *SQLiteDatabase) selectImages(ctx context.Context, builder sq.SelectBuilder) ([]*Image, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	var rows []imageRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	images := make([]*Image, 0, len(rows))
	for _, row := range rows {
		image, err := row.toImage()
		if err != nil {
			return nil, err
		}
		images = append(images, image)
	}
	return images, nil
}

func nullable(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
