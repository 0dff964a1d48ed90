package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	shell "github.com/ipfs/go-ipfs-api"
	"github.com/multiformats/go-multihash"

	"github.com/ruteri/identity-verification-dapp/validation"
)

var (
	// ErrNodeUnavailable is returned when the IPFS API does not answer.
	ErrNodeUnavailable = errors.New("IPFS node unavailable")
	// ErrNotRegistrable is returned when a CID cannot be stored in the
	// registry, which only accepts CIDv0 sha2-256 hashes.
	ErrNotRegistrable = errors.New("content hash is not a CIDv0 sha2-256 hash")
)

// DefaultTimeout bounds calls to the IPFS API.
const DefaultTimeout = 30 * time.Second

// ParseContentHash decodes a registrable content hash.
func ParseContentHash(hash string) (cid.Cid, error) {
	hash = strings.TrimSpace(hash)
	if !validation.ValidateContentHash(hash) {
		return cid.Undef, ErrNotRegistrable
	}

	c, err := cid.Decode(hash)
	if err != nil {
		return cid.Undef, fmt.Errorf("decoding content hash: %w", err)
	}
	if c.Version() != 0 {
		return cid.Undef, ErrNotRegistrable
	}

	decoded, err := multihash.Decode(c.Hash())
	if err != nil {
		return cid.Undef, fmt.Errorf("decoding multihash: %w", err)
	}
	if decoded.Code != multihash.SHA2_256 {
		return cid.Undef, ErrNotRegistrable
	}
	return c, nil
}

// GatewayURL returns the public URL of hash on gateway, e.g.
// https://ipfs.io/ipfs/Qm...
func GatewayURL(gateway, hash string) (string, error) {
	c, err := ParseContentHash(hash)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(gateway)
	if err != nil {
		return "", fmt.Errorf("parsing gateway URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported gateway scheme %q", u.Scheme)
	}
	return strings.TrimSuffix(gateway, "/") + "/" + c.String(), nil
}

// IPFSUploader publishes documents through an IPFS node's HTTP API so
// that their hash can be registered.
type IPFSUploader struct {
	shell  *shell.Shell
	apiURL string
	log    *slog.Logger
}

// NewIPFSUploader creates an uploader for the node API at apiURL
// (host:port or a URL).
func NewIPFSUploader(apiURL string, timeout time.Duration, log *slog.Logger) *IPFSUploader {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	sh := shell.NewShell(apiURL)
	sh.SetTimeout(timeout)
	return &IPFSUploader{
		shell:  sh,
		apiURL: apiURL,
		log:    log,
	}
}

// Available checks if the IPFS node is accessible.
func (u *IPFSUploader) Available(ctx context.Context) bool {
	return u.shell.IsUp()
}

// Upload adds the document read from r as a CIDv0 and pins it. The
// returned hash can be passed to registration unchanged.
func (u *IPFSUploader) Upload(ctx context.Context, r io.Reader) (string, error) {
	start := time.Now()

	if !u.shell.IsUp() {
		u.log.Warn("IPFS node unavailable", slog.String("api", u.apiURL))
		return "", ErrNodeUnavailable
	}

	hash, err := u.shell.Add(r, shell.CidVersion(0), shell.Pin(true))
	if err != nil {
		return "", fmt.Errorf("failed to add data to IPFS: %w", err)
	}
	if _, err := ParseContentHash(hash); err != nil {
		return "", fmt.Errorf("IPFS returned %q: %w", hash, err)
	}

	u.log.Debug("Stored content in IPFS",
		slog.String("hash", hash),
		slog.Duration("duration", time.Since(start)))
	return hash, nil
}

// Cat reads a registered document back from the node.
func (u *IPFSUploader) Cat(ctx context.Context, hash string) ([]byte, error) {
	c, err := ParseContentHash(hash)
	if err != nil {
		return nil, err
	}

	if !u.shell.IsUp() {
		return nil, ErrNodeUnavailable
	}

	reader, err := u.shell.Cat("/ipfs/" + c.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch data from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data from IPFS: %w", err)
	}
	return data, nil
}
