// internal/clients/catalog_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"libris/internal/catalog"
)

// CatalogClient calls the catalog service over HTTP. It satisfies the
// circulation service's Catalog collaborator.
type CatalogClient struct {
	baseURL string
	client  *http.Client
}

func NewCatalogClient(baseURL string) *CatalogClient {
	return &CatalogClient{baseURL: baseURL, client: http.DefaultClient}
}

func (c *CatalogClient) GetBook(ctx context.Context, title string) (*catalog.Book, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/books/%s", c.baseURL, url.PathEscape(title)), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, catalog.ErrNotFound
	default:
		return nil, fmt.Errorf("catalog service: unexpected status code: %d", resp.StatusCode)
	}

	var book catalog.Book
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *CatalogClient) UpdateCopies(ctx context.Context, title string, newTotal, newAvailable int) error {
	updateReq := struct {
		TotalCopies     int `json:"total_copies"`
		AvailableCopies int `json:"available_copies"`
	}{
		TotalCopies:     newTotal,
		AvailableCopies: newAvailable,
	}

	body, err := json.Marshal(updateReq)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		fmt.Sprintf("%s/books/%s/copies", c.baseURL, url.PathEscape(title)), bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return catalog.ErrNotFound
	default:
		return fmt.Errorf("catalog service: unexpected status code: %d", resp.StatusCode)
	}
}
