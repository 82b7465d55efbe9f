package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

type IPFSConfig struct {
	APIURL        string // e.g. https://ipfs.infura.io:5001
	ProjectID     string
	ProjectSecret string
	GatewayURL    string // e.g. https://ipfs.io/ipfs/
	Timeout       time.Duration
}

type ipfsStore struct {
	cfg    IPFSConfig
	client *http.Client
}

func NewIPFSStore(cfg IPFSConfig) Store {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = "https://ipfs.io/ipfs/"
	}
	if !strings.HasSuffix(cfg.GatewayURL, "/") {
		cfg.GatewayURL += "/"
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &ipfsStore{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

func (s *ipfsStore) Put(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyContent
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", Digest(data))
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIURL+"/api/v0/add?pin=true", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if s.cfg.ProjectID != "" {
		req.SetBasicAuth(s.cfg.ProjectID, s.cfg.ProjectSecret)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: ipfs add returned %d: %s", ErrStoreUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out addResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode ipfs response: %v", ErrStoreUnavailable, err)
	}
	if out.Hash == "" {
		return "", fmt.Errorf("%w: ipfs response without hash", ErrStoreUnavailable)
	}

	log.WithFields(log.Fields{"cid": out.Hash, "size": out.Size}).Debug("content pinned")
	return s.cfg.GatewayURL + out.Hash, nil
}
