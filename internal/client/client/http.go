package client

import (
	"bytes"
	"context"
	"strconv"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/go-resty/resty/v2"
)

// HTTPClient implements Client over JSON/HTTP.
type HTTPClient struct {
	http *resty.Client
}

// NewHTTPClient creates a client for the API rooted at baseURL. timeout bounds
// every request; the caller's context may cut it shorter.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &HTTPClient{http: c}
}

// Resty exposes the underlying client, e.g. to set an auth header supplied
// by the host application.
func (c *HTTPClient) Resty() *resty.Client {
	return c.http
}

func (c *HTTPClient) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Head("/health")
	return mapError(resp, err)
}

func (c *HTTPClient) ListEntities(ctx context.Context, t models.EntityType, parentID int64) ([]Entity, error) {
	var out []Entity
	req := c.http.R().SetContext(ctx).
		SetPathParam("type", string(t)).
		SetResult(&out)
	if parentID != 0 {
		req.SetQueryParam("parentId", strconv.FormatInt(parentID, 10))
	}
	resp, err := req.Get("/entities/{type}")
	if err := mapError(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CreateEntity(ctx context.Context, t models.EntityType, e Entity) (*Entity, error) {
	out := &Entity{}
	resp, err := c.http.R().SetContext(ctx).
		SetPathParam("type", string(t)).
		SetBody(e).
		SetResult(out).
		Post("/entities/{type}")
	if err := mapError(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) UpdateEntity(ctx context.Context, t models.EntityType, id int64, e Entity) (*Entity, error) {
	out := &Entity{}
	resp, err := c.http.R().SetContext(ctx).
		SetPathParams(map[string]string{"type": string(t), "id": strconv.FormatInt(id, 10)}).
		SetBody(e).
		SetResult(out).
		Patch("/entities/{type}/{id}")
	if err := mapError(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) DeleteEntity(ctx context.Context, t models.EntityType, id int64) error {
	resp, err := c.http.R().SetContext(ctx).
		SetPathParams(map[string]string{"type": string(t), "id": strconv.FormatInt(id, 10)}).
		Delete("/entities/{type}/{id}")
	return mapError(resp, err)
}

func (c *HTTPClient) UploadPhoto(ctx context.Context, up UploadRequest) (string, error) {
	form := map[string]string{
		"photoId":     up.PhotoID,
		"location":    up.Location,
		"description": up.Description,
		"timestamp":   strconv.FormatInt(up.Timestamp.UnixMilli(), 10),
	}
	if up.FolderID != 0 {
		form["folderId"] = strconv.FormatInt(up.FolderID, 10)
	}

	out := &UploadResult{}
	resp, err := c.http.R().SetContext(ctx).
		SetFileReader("file", up.PhotoID+".jpg", bytes.NewReader(up.Blob)).
		SetFormData(form).
		SetResult(out).
		Post("/upload")
	if err := mapError(resp, err); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *HTTPClient) ListEntries(ctx context.Context, since time.Time) ([]Entry, error) {
	var out []Entry
	req := c.http.R().SetContext(ctx).SetResult(&out)
	if !since.IsZero() {
		req.SetQueryParam("since", strconv.FormatInt(since.UnixMilli(), 10))
	}
	resp, err := req.Get("/entries")
	if err := mapError(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CreateEntry(ctx context.Context, e Entry) (*Entry, error) {
	out := &Entry{}
	resp, err := c.http.R().SetContext(ctx).SetBody(e).SetResult(out).Post("/entries")
	if err := mapError(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) CreatePhotoRecord(ctx context.Context, p PhotoRecord) (*PhotoRecord, error) {
	out := &PhotoRecord{}
	resp, err := c.http.R().SetContext(ctx).SetBody(p).SetResult(out).Post("/photos")
	if err := mapError(resp, err); err != nil {
		return nil, err
	}
	return out, nil
}
