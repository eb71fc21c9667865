package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"strata/pkg/strata"

	_ "strata/pkg/backend/local"
)

// getenv returns the value of the environment variable named by key or
// fallback if the variable is not present.
func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

const (
	ContainerName   = "example-container"
	OtherContainer  = "another-container"
	ObjectName      = "example.txt"
	ObjectContent   = "Hello from strata!\n"
	NestedObject     = "home/demo/documents/report.txt"
	ChunkedObject    = "archives/payload.bin"
	ChunkedSize      = 3*1024*1024 + 512*1024
	ExampleChunkSize = 1024 * 1024
)

// EnsureContainer creates a container if it does not already exist.
func EnsureContainer(ctx context.Context, store *strata.Store, name string) error {
	if err := store.EnsureContainer(ctx, name, strata.ContainerOptions{}); err != nil {
		return fmt.Errorf("failed to ensure container %q: %w", name, err)
	}
	return nil
}

// UploadText uploads a text object with its content type recorded.
func UploadText(ctx context.Context, store *strata.Store, container, name, content string) error {
	opts := strata.PutOptions{
		Metadata: strata.Metadata{
			strata.MetaContentType: "text/plain",
			"origin":               "example",
		},
	}

	if err := store.PutObject(ctx, container, name, strata.String(content), opts); err != nil {
		return fmt.Errorf("failed to upload object %q to container %q: %w", name, container, err)
	}

	slog.Info("Uploaded object to container", "object", name, "container", container)
	return nil
}

// ListEntries lists the entries directly under a prefix in the container.
func ListEntries(ctx context.Context, store *strata.Store, container, prefix string) error {
	entries, err := store.ListObjects(ctx, container, prefix)
	if err != nil {
		return fmt.Errorf("failed to list objects in container %q: %w", container, err)
	}

	slog.Info("Entries in container", "container", container, "prefix", prefix)
	for _, entry := range entries {
		if entry.IsPrefix() {
			slog.Info("Prefix in container", "prefix", entry.Name())
			continue
		}
		if obj, ok := entry.(strata.ObjectEntry); ok {
			slog.Info("Object in container", "key", obj.Path, "size", obj.Size)
		}
	}
	return nil
}

// DownloadObject downloads an object to a local file.
func DownloadObject(ctx context.Context, store *strata.Store, container, name, downloadPath string) error {
	rc, err := store.GetObject(ctx, container, name)
	if err != nil {
		return fmt.Errorf("failed to fetch object %q from container %q: %w", name, container, err)
	}
	defer rc.Close()

	f, err := os.Create(downloadPath)
	if err != nil {
		return fmt.Errorf("failed to create download file: %w", err)
	}

	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write download file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close download file: %w", err)
	}

	slog.Info("Downloaded object", "path", downloadPath)
	return nil
}

// CopyObject copies an object, using the provider's server-side copy
// when it has one.
func CopyObject(ctx context.Context, store *strata.Store, srcContainer, srcObject, destContainer, destObject string) error {
	if err := store.CopyObject(ctx, srcContainer, srcObject, destContainer, destObject); err != nil {
		return fmt.Errorf("failed to copy object from %q/%q to %q/%q: %w", srcContainer, srcObject, destContainer, destObject, err)
	}

	slog.Info("Copied object", "source_object", srcObject, "dest_object", destObject, "source_container", srcContainer, "dest_container", destContainer)
	return nil
}

// ChunkedUploadExample uploads a payload big enough to take the chunked
// path, using a second store tuned to a small chunk size so the split
// happens without multi-megabyte noise in the log.
func ChunkedUploadExample(ctx context.Context, settings map[string]string) error {
	store, err := strata.Open(ctx, "local", settings, strata.WithChunkSize(ExampleChunkSize))
	if err != nil {
		return fmt.Errorf("failed to open chunking store: %w", err)
	}
	defer store.Close()

	if err := EnsureContainer(ctx, store, ContainerName); err != nil {
		return err
	}

	payload := bytes.Repeat([]byte("strata"), ChunkedSize/6)
	src := strata.ReaderN(bytes.NewReader(payload), int64(len(payload)))

	opts := strata.PutOptions{
		Metadata: strata.Metadata{strata.MetaContentType: "application/octet-stream"},
	}
	if err := store.PutObject(ctx, ContainerName, ChunkedObject, src, opts); err != nil {
		return fmt.Errorf("failed to run chunked upload: %w", err)
	}

	entry, err := store.StatObject(ctx, ContainerName, ChunkedObject)
	if err != nil {
		return fmt.Errorf("failed to stat assembled object: %w", err)
	}

	slog.Info("Completed chunked upload", "object", ChunkedObject, "size", entry.Size, "content_type", entry.ContentType)
	return nil
}

func Run(ctx context.Context, store *strata.Store, settings map[string]string) error {
	// Ensure the container exists.
	if err := EnsureContainer(ctx, store, ContainerName); err != nil {
		return err
	}

	// 1. Upload an example.txt file.
	if err := UploadText(ctx, store, ContainerName, ObjectName, ObjectContent); err != nil {
		return err
	}

	// 2. List the contents of the container.
	if err := ListEntries(ctx, store, ContainerName, ""); err != nil {
		return err
	}

	// 3. Download the file.
	downloadPath := filepath.Join(".", "downloaded_"+ObjectName)
	if err := DownloadObject(ctx, store, ContainerName, ObjectName, downloadPath); err != nil {
		return err
	}

	// 4. Copy the object within the same container, flat and nested.
	if err := CopyObject(ctx, store, ContainerName, ObjectName, ContainerName, "example_copy.txt"); err != nil {
		return err
	}
	if err := CopyObject(ctx, store, ContainerName, ObjectName, ContainerName, "some/path/example_copy.txt"); err != nil {
		return err
	}

	// 5. Ensure another-container exists.
	if err := EnsureContainer(ctx, store, OtherContainer); err != nil {
		return err
	}

	// 6. Copy example_copy.txt into the other container.
	if err := CopyObject(ctx, store, ContainerName, "example_copy.txt", OtherContainer, "some/path/example_copy_cross_container.txt"); err != nil {
		return err
	}

	// 7. Upload a longer text under a nested path.
	longText := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 120)
	if err := UploadText(ctx, store, OtherContainer, NestedObject, longText); err != nil {
		return err
	}

	// 8. List the contents of the second container.
	if err := ListEntries(ctx, store, OtherContainer, ""); err != nil {
		return err
	}

	// 9. Demonstrate the chunked upload path.
	if err := ChunkedUploadExample(ctx, settings); err != nil {
		return err
	}

	return nil
}

func main() {
	dir := getenv("STRATA_DIR", "./example-data")
	settings := map[string]string{"dir": dir}

	ctx := context.Background()

	store, err := strata.Open(ctx, "local", settings)
	if err != nil {
		slog.Error("failed to open local storage", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := Run(ctx, store, settings); err != nil {
		slog.Error("error running example", "err", err)
		os.Exit(1)
	}
}
