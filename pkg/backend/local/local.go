package local

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"strata/pkg/strata"
)

func init() {
	strata.Register("local", func(ctx context.Context, settings map[string]string) (strata.Client, error) {
		dir := settings["dir"]
		if dir == "" {
			return nil, fmt.Errorf("%w: the local driver requires a dir setting", strata.ErrInvalidArgument)
		}

		return Open(ctx, dir)
	})
}

const metadataPrefix = "x-obj-meta-"

var containerNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)

// Client stores object payloads on the local filesystem under a
// content-addressed layout and keeps all object metadata in a SQLite
// database next to them. It implements strata.Client along with the
// chunked-upload and server-side copy capabilities, which makes it a
// complete stand-in for a hosted provider in development setups.
type Client struct {
	dataDir  string
	db       *sql.DB
	payloads *payloadStore

	mu      sync.Mutex
	uploads map[string]*uploadSession
}

// Open opens the local store rooted at dataDir, creating the directory
// and the metadata database on first use.
func Open(ctx context.Context, dataDir string) (*Client, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := filepath.Join(dataDir, "metadata.sqlite") + "?_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Client{
		dataDir:  dataDir,
		db:       db,
		payloads: newPayloadStore(filepath.Join(dataDir, "objects")),
		uploads:  make(map[string]*uploadSession),
	}, nil
}

// Close closes the metadata database. Payload files need no teardown.
func (c *Client) Close() error {
	return c.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS containers (
			name TEXT PRIMARY KEY,
			region TEXT NOT NULL DEFAULT '',
			storage_class TEXT NOT NULL DEFAULT '',
			acl TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS objects (
			container TEXT NOT NULL,
			path TEXT NOT NULL,
			hash TEXT NOT NULL,
			size INTEGER NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			md5 TEXT NOT NULL DEFAULT '',
			sha1 TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			modified_at TIMESTAMP NOT NULL,
			PRIMARY KEY (container, path),
			FOREIGN KEY(container) REFERENCES containers(name) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_objects_hash ON objects(hash);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

func (c *Client) Provider() string { return "local" }

func (c *Client) Constraints() strata.Constraints {
	return strata.Constraints{
		MinChunkSize:   1,
		MetadataPrefix: metadataPrefix,
	}
}

// validContainerName enforces the bucket naming rules the hosted
// providers share: 3 to 63 characters, lowercase letters, digits, dots
// and hyphens, alphanumeric at both ends, no ".." runs and nothing that
// parses as an IP address.
func validContainerName(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if !containerNamePattern.MatchString(name) {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	if net.ParseIP(name) != nil {
		return false
	}

	return true
}

func (c *Client) CreateContainer(ctx context.Context, name string, opts strata.ContainerOptions) error {
	if !validContainerName(name) {
		return fmt.Errorf("%w: container name %q", strata.ErrInvalidArgument, name)
	}

	res, err := c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO containers (name, region, storage_class, acl, created_at) VALUES (?, ?, ?, ?, ?)`,
		name, opts.Region, opts.StorageClass, opts.ACL, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("container %q: %w", name, strata.ErrAlreadyExists)
	}

	return nil
}

func (c *Client) DeleteContainer(ctx context.Context, name string) error {
	var objects int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects WHERE container = ?`, name).Scan(&objects)
	if err != nil {
		return fmt.Errorf("count objects: %w", err)
	}
	if objects > 0 {
		return fmt.Errorf("container %q is not empty", name)
	}

	res, err := c.db.ExecContext(ctx, `DELETE FROM containers WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete container: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete container: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("container %q: %w", name, strata.ErrNotFound)
	}

	return c.payloads.dropContainer(name)
}

func (c *Client) ContainerExists(ctx context.Context, name string) (bool, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM containers WHERE name = ?`, name).Scan(&n); err != nil {
		return false, fmt.Errorf("container lookup: %w", err)
	}

	return n > 0, nil
}

func (c *Client) ListContainers(ctx context.Context) ([]strata.ContainerInfo, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name, created_at FROM containers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	defer rows.Close()

	var infos []strata.ContainerInfo
	for rows.Next() {
		var info strata.ContainerInfo
		if err := rows.Scan(&info.Name, &info.Created); err != nil {
			return nil, fmt.Errorf("list containers: %w", err)
		}
		infos = append(infos, info)
	}

	return infos, rows.Err()
}

func (c *Client) requireContainer(ctx context.Context, name string) error {
	exists, err := c.ContainerExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("container %q: %w", name, strata.ErrNotFound)
	}

	return nil
}

// storedMetadata is the JSON shape of the objects.metadata column.
type storedMetadata struct {
	Standard map[string]string `json:"standard,omitempty"`
	Custom   map[string]string `json:"custom,omitempty"`
}

func (c *Client) PutObject(ctx context.Context, container, path string, data []byte, req strata.PutRequest) error {
	if err := c.requireContainer(ctx, container); err != nil {
		return err
	}

	sum := sha256.Sum256(data)
	hashHex := hex.EncodeToString(sum[:])
	md5Sum := md5.Sum(data)
	sha1Sum := sha1.Sum(data)

	if err := c.payloads.put(container, hashHex, data); err != nil {
		return fmt.Errorf("store payload: %w", err)
	}

	return c.insertObject(ctx, container, path, hashHex, int64(len(data)), req.Meta,
		hex.EncodeToString(md5Sum[:]), hex.EncodeToString(sha1Sum[:]))
}

func (c *Client) insertObject(ctx context.Context, container, path, hashHex string, size int64, meta strata.NormalizedMetadata, md5Hex, sha1Hex string) error {
	metaJSON, err := json.Marshal(storedMetadata{Standard: meta.Standard, Custom: meta.Custom})
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	now := time.Now().UTC()
	// Re-uploading a path replaces everything but the creation timestamp.
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO objects (container, path, hash, size, content_type, metadata, md5, sha1, created_at, modified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(container, path) DO UPDATE SET
		 	hash=excluded.hash,
		 	size=excluded.size,
		 	content_type=excluded.content_type,
		 	metadata=excluded.metadata,
		 	md5=excluded.md5,
		 	sha1=excluded.sha1,
		 	modified_at=excluded.modified_at`,
		container, path, hashHex, size, meta.ContentType(), string(metaJSON), md5Hex, sha1Hex, now, now)
	if err != nil {
		return fmt.Errorf("record object: %w", err)
	}

	return nil
}

func (c *Client) GetObject(ctx context.Context, container, path string) (io.ReadCloser, error) {
	var hashHex string
	err := c.db.QueryRowContext(ctx, `SELECT hash FROM objects WHERE container = ? AND path = ?`, container, path).Scan(&hashHex)
	if errors.Is(err, sql.ErrNoRows) {
		if cerr := c.requireContainer(ctx, container); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("object %q: %w", path, strata.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("object lookup: %w", err)
	}

	return c.payloads.open(container, hashHex)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (strata.ObjectEntry, error) {
	var (
		entry    strata.ObjectEntry
		metaJSON string
	)
	err := row.Scan(&entry.Path, &entry.Size, &entry.ContentType, &metaJSON, &entry.ContentMD5, &entry.ContentSHA1, &entry.CreationTime, &entry.LastModified)
	if err != nil {
		return strata.ObjectEntry{}, err
	}

	var meta storedMetadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return strata.ObjectEntry{}, fmt.Errorf("decode metadata: %w", err)
	}
	if len(meta.Custom) > 0 {
		entry.Metadata = meta.Custom
	}

	return entry, nil
}

const entryColumns = `path, size, content_type, metadata, md5, sha1, created_at, modified_at`

func (c *Client) StatObject(ctx context.Context, container, path string) (strata.ObjectEntry, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM objects WHERE container = ? AND path = ?`, container, path)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		if cerr := c.requireContainer(ctx, container); cerr != nil {
			return strata.ObjectEntry{}, cerr
		}
		return strata.ObjectEntry{}, fmt.Errorf("object %q: %w", path, strata.ErrNotFound)
	}
	if err != nil {
		return strata.ObjectEntry{}, fmt.Errorf("object lookup: %w", err)
	}

	return entry, nil
}

func (c *Client) DeleteObject(ctx context.Context, container, path string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM objects WHERE container = ? AND path = ?`, container, path)
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	if n == 0 {
		if cerr := c.requireContainer(ctx, container); cerr != nil {
			return cerr
		}
		return fmt.Errorf("object %q: %w", path, strata.ErrNotFound)
	}

	// The payload file stays behind: other objects may share it by hash.
	// Garbage collection of unreferenced payloads is a separate concern.
	return nil
}

// CopyObject copies an object between containers without reading the
// payload back. The destination row points at the same content hash and
// the payload is hard linked into the destination container.
func (c *Client) CopyObject(ctx context.Context, srcContainer, srcPath, dstContainer, dstPath string) error {
	if err := c.requireContainer(ctx, dstContainer); err != nil {
		return err
	}

	var (
		hashHex     string
		size        int64
		contentType string
		metaJSON    string
		md5Hex      string
		sha1Hex     string
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT hash, size, content_type, metadata, md5, sha1 FROM objects WHERE container = ? AND path = ?`,
		srcContainer, srcPath).Scan(&hashHex, &size, &contentType, &metaJSON, &md5Hex, &sha1Hex)
	if errors.Is(err, sql.ErrNoRows) {
		if cerr := c.requireContainer(ctx, srcContainer); cerr != nil {
			return cerr
		}
		return fmt.Errorf("object %q: %w", srcPath, strata.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("object lookup: %w", err)
	}

	if err := c.payloads.link(srcContainer, dstContainer, hashHex); err != nil {
		return fmt.Errorf("copy payload: %w", err)
	}

	now := time.Now().UTC()
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO objects (container, path, hash, size, content_type, metadata, md5, sha1, created_at, modified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(container, path) DO UPDATE SET
		 	hash=excluded.hash,
		 	size=excluded.size,
		 	content_type=excluded.content_type,
		 	metadata=excluded.metadata,
		 	md5=excluded.md5,
		 	sha1=excluded.sha1,
		 	modified_at=excluded.modified_at`,
		dstContainer, dstPath, hashHex, size, contentType, metaJSON, md5Hex, sha1Hex, now, now)
	if err != nil {
		return fmt.Errorf("record object: %w", err)
	}

	return nil
}
