package objectclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrInvalidKey = errors.New("object key escapes the storage root")

// LocalClient keeps objects as files under a root directory.
type LocalClient struct {
	root      string
	urlPrefix string
}

func NewLocalClient(root, urlPrefix string) (*LocalClient, error) {
	if root == "" {
		return nil, fmt.Errorf("local image dir not set")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &LocalClient{root: root, urlPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

// Root is the directory served for image URLs.
func (c *LocalClient) Root() string { return c.root }

func (c *LocalClient) resolve(key string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(c.root, filepath.FromSlash(clean[1:])), nil
}

func (c *LocalClient) UploadFile(_ context.Context, key string, data []byte, _ string) (string, error) {
	p, err := c.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	return c.urlPrefix + "/" + strings.TrimLeft(key, "/"), nil
}

func (c *LocalClient) DeleteFile(_ context.Context, key string) error {
	p, err := c.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// DeletePrefix treats prefix as a directory and removes it with its files.
func (c *LocalClient) DeletePrefix(_ context.Context, prefix string) (int, error) {
	dir, err := c.resolve(prefix)
	if err != nil {
		return 0, err
	}
	count := 0
	err = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("list objects: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("delete objects: %w", err)
	}
	return count, nil
}

func (c *LocalClient) GetObjectReader(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := c.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}
