package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/zonemedia/internal/client/models"
	"github.com/dmitrijs2005/zonemedia/internal/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxManifestBytes = 4 << 20

// HTTPManifestClient reads manifests from GET <baseURL>/<zoneId>.
type HTTPManifestClient struct {
	baseURL     string
	httpClient  *http.Client
	accessToken string
}

func NewHTTPManifestClient(baseURL string, timeout time.Duration, accessToken string) *HTTPManifestClient {
	return &HTTPManifestClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		accessToken: accessToken,
	}
}

// manifestEntry accepts both {url, mediaType} and the older {url, type}.
type manifestEntry struct {
	URL       string `json:"url"`
	MediaType string `json:"mediaType"`
	Type      string `json:"type"`
}

type zoneRecord struct {
	ID    string          `json:"id"`
	Media []manifestEntry `json:"media"`
}

func (s *HTTPManifestClient) GetZoneMedia(ctx context.Context, zoneID string) ([]models.RemoteMediaRecord, error) {
	endpoint := s.baseURL + "/" + url.PathEscape(zoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.accessToken)
		req.Header.Set(common.AccessTokenHeaderName, s.accessToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("manifest request failed: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return decodeManifest(zoneID, body)
}

func (s *HTTPManifestClient) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// decodeManifest accepts a list of zone records, a single zone record, or a
// bare list of media entries. Records of other zones are ignored.
func decodeManifest(zoneID string, body []byte) ([]models.RemoteMediaRecord, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}

	var raw []json.RawMessage
	if body[0] == '{' {
		raw = []json.RawMessage{body}
	} else if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadManifest, err)
	}

	var result []models.RemoteMediaRecord
	for _, item := range raw {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(item, &probe); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadManifest, err)
		}

		if _, isZone := probe["media"]; isZone {
			var z zoneRecord
			if err := json.Unmarshal(item, &z); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadManifest, err)
			}
			if z.ID != "" && z.ID != zoneID {
				continue
			}
			for _, m := range z.Media {
				result = appendEntry(result, m)
			}
			continue
		}

		var m manifestEntry
		if err := json.Unmarshal(item, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadManifest, err)
		}
		result = appendEntry(result, m)
	}
	return result, nil
}

func appendEntry(dst []models.RemoteMediaRecord, m manifestEntry) []models.RemoteMediaRecord {
	if m.URL == "" {
		return dst
	}
	mt := m.MediaType
	if mt == "" {
		mt = m.Type
	}
	return append(dst, models.RemoteMediaRecord{URL: m.URL, MediaType: mt})
}
