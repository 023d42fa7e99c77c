package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	httpTimeout = 5 * time.Second
)

// ErrAPINotFound marks a 404 from the REST surface so callers can branch on
// "no such snippet or code" without string matching.
var ErrAPINotFound = errors.New("not found")

// SnippetAPI is the REST client for the snippet endpoints. It also backs the
// autosave hook on the code engine.
type SnippetAPI struct {
	baseURL string
	client  *http.Client
}

func NewSnippetAPI(baseURL string) *SnippetAPI {
	return &SnippetAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: httpTimeout},
	}
}

func (api *SnippetAPI) CreateSnippet(req createSnippetRequest) (*SnippetDTO, error) {
	var dto SnippetDTO
	if err := api.doJSONRequest(http.MethodPost, api.baseURL+"/api/snippets", req, &dto); err != nil {
		return nil, err
	}
	return &dto, nil
}

func (api *SnippetAPI) FetchSnippet(id string) (*SnippetDTO, error) {
	var dto SnippetDTO
	if err := api.doJSONRequest(http.MethodGet, api.baseURL+"/api/snippets/"+url.PathEscape(id), nil, &dto); err != nil {
		return nil, err
	}
	return &dto, nil
}

func (api *SnippetAPI) UpdateSnippet(id string, patch updateSnippetRequest) (*SnippetDTO, error) {
	var dto SnippetDTO
	if err := api.doJSONRequest(http.MethodPut, api.baseURL+"/api/snippets/"+url.PathEscape(id), patch, &dto); err != nil {
		return nil, err
	}
	return &dto, nil
}

func (api *SnippetAPI) DeleteSnippet(id string) error {
	return api.doJSONRequest(http.MethodDelete, api.baseURL+"/api/snippets/"+url.PathEscape(id), nil, nil)
}

func (api *SnippetAPI) ResolveShareCode(code string) (*SnippetDTO, error) {
	var dto SnippetDTO
	if err := api.doJSONRequest(http.MethodGet, api.baseURL+"/api/share/"+url.PathEscape(code), nil, &dto); err != nil {
		return nil, err
	}
	return &dto, nil
}

func (api *SnippetAPI) RoomExists(room string) (bool, error) {
	endpoint := api.baseURL + "/exists?room=" + url.QueryEscape(room)
	resp, err := api.client.Get(endpoint)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, fmt.Errorf("server returned %d", resp.StatusCode)
}

// SaveSnippet implements the autosave hook: the live code and metadata go
// out as one sparse update.
func (api *SnippetAPI) SaveSnippet(ctx context.Context, snippetID string, code CodeState, meta Metadata) error {
	patch := updateSnippetRequest{
		Code:        &code.Code,
		Title:       &meta.Title,
		Description: &meta.Description,
		Tags:        &meta.Tags,
	}
	if code.Language != "" {
		patch.Language = &code.Language
	}
	buf, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	endpoint := api.baseURL + "/api/snippets/" + url.PathEscape(snippetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewBuffer(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := api.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, readResponseError(resp.Body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (api *SnippetAPI) doJSONRequest(method, endpoint string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(buf)
	}
	req, err := http.NewRequest(method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := api.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrAPINotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, readResponseError(resp.Body))
	}
	if out != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func readResponseError(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return "request failed"
	}
	var parsed map[string]string
	if err := json.Unmarshal(data, &parsed); err == nil {
		if msg, ok := parsed["error"]; ok {
			return msg
		}
	}
	return strings.TrimSpace(string(data))
}

// httpBaseFromJoinURL turns the websocket server url into the REST base url.
func httpBaseFromJoinURL(wsURL string) (string, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %s", parsed.Scheme)
	}
	parsed.Path = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}
