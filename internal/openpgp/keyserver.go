package openpgp

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ProtonMail/gopenpgp/v3/crypto"
	"github.com/cockroachdb/errors"
)

// DefaultKeyserver is queried when no keyserver is configured.
const DefaultKeyserver = "hkps://keys.gentoo.org"

// maxKeyResponse bounds the keyserver response body. Signed keys with many
// certifications stay well under this.
const maxKeyResponse = 5 << 20

// Keyserver fetches key material over the HKP lookup interface.
type Keyserver struct {
	base   *url.URL
	client *http.Client
}

// NewKeyserver parses an hkp(s):// or http(s):// keyserver URL. Timeouts
// are governed by the context passed to Fetch, not by the client.
func NewKeyserver(raw string) (*Keyserver, error) {
	if raw == "" {
		raw = DefaultKeyserver
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parsing keyserver URL")
	}
	switch u.Scheme {
	case "hkps":
		u.Scheme = "https"
	case "hkp":
		u.Scheme = "http"
	case "https", "http":
	default:
		return nil, errors.New("unsupported keyserver scheme: " + u.Scheme)
	}
	return &Keyserver{base: u, client: &http.Client{}}, nil
}

// Fetch retrieves the current key material for the given fingerprint.
func (k *Keyserver) Fetch(ctx context.Context, fingerprint string) (*crypto.Key, error) {
	lookup := *k.base
	lookup.Path = "/pks/lookup"
	lookup.RawQuery = url.Values{
		"op":      {"get"},
		"options": {"mr"},
		"search":  {"0x" + strings.ToUpper(fingerprint)},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookup.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "building keyserver request")
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "querying keyserver")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("keyserver returned HTTP %d for %s", resp.StatusCode, fingerprint)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeyResponse))
	if err != nil {
		return nil, errors.Wrap(err, "reading keyserver response")
	}

	key, err := crypto.NewKeyFromArmored(string(body))
	if err != nil {
		return nil, errors.Wrap(err, "parsing keyserver response")
	}
	return key, nil
}
