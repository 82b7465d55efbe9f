package content

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

type localStore struct {
	dir       string
	publicURL string
}

// NewLocalStore writes content under dir, one file per blake3 digest. When
// publicURL is set the returned address is publicURL/<digest>, otherwise a
// file:// URI.
func NewLocalStore(dir, publicURL string) (Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create content dir: %w", err)
	}
	return &localStore{dir: abs, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

func (s *localStore) Put(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyContent
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	digest := Digest(data)
	path := filepath.Join(s.dir, digest)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		tmp, err := os.CreateTemp(s.dir, digest+".*.tmp")
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		_, werr := tmp.Write(data)
		cerr := tmp.Close()
		if werr != nil || cerr != nil {
			os.Remove(tmp.Name())
			return "", fmt.Errorf("%w: write %s: %v", ErrStoreUnavailable, digest, errors.Join(werr, cerr))
		}
		if err := os.Rename(tmp.Name(), path); err != nil {
			os.Remove(tmp.Name())
			return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		log.WithField("digest", digest).Debug("content stored")
	} else if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if s.publicURL != "" {
		return s.publicURL + "/" + digest, nil
	}
	return "file://" + filepath.ToSlash(path), nil
}
