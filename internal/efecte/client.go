package efecte

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/errors"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/logging"
)

// DefaultTimeout bounds every Efecte API call.
const DefaultTimeout = 30 * time.Second

// entitySet is the wire envelope of query responses and import payloads.
type entitySet struct {
	XMLName  xml.Name       `xml:"entityset"`
	Entities []EntityRecord `xml:"entity"`
}

// Client talks to the Efecte data card API. Queries use the search endpoint
// with an expression built by Query; mutations post an XML entity import
// payload.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

// NewClient creates an Efecte API client.
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		http:     &http.Client{Timeout: DefaultTimeout},
	}
}

// Query runs a search expression against one template and returns the
// matching entity records.
func (c *Client) Query(ctx context.Context, templateCode, query string) ([]EntityRecord, error) {
	params := url.Values{}
	params.Set("template", templateCode)
	params.Set("query", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/search.ws?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.WrapAPI("efecte", 0, err)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var set entitySet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, errors.WrapAPI("efecte", 0, fmt.Errorf("decoding query response: %w", err))
	}

	logging.FromContext(ctx).Debug().
		Str("template", templateCode).
		Int("count", len(set.Entities)).
		Msg("Efecte query completed")

	return set.Entities, nil
}

// CreateEntity imports a new data card.
func (c *Client) CreateEntity(ctx context.Context, entity *EntityRecord) error {
	return c.importEntity(ctx, entity, "create")
}

// UpdateEntity imports attribute changes to an existing data card.
// Attributes absent from the payload are left untouched by Efecte.
func (c *Client) UpdateEntity(ctx context.Context, entity *EntityRecord) error {
	if entity.ID == "" && entity.KeyID() == "" {
		return errors.NewValidationError("id", nil, "update payload carries no identifier")
	}
	return c.importEntity(ctx, entity, "update")
}

// importEntity posts one entity to the import endpoint.
func (c *Client) importEntity(ctx context.Context, entity *EntityRecord, operation string) error {
	payload, err := xml.Marshal(entitySet{Entities: []EntityRecord{*entity}})
	if err != nil {
		return errors.WrapAPI("efecte", 0, fmt.Errorf("encoding %s payload: %w", operation, err))
	}

	params := url.Values{}
	params.Set("operation", operation)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/import.ws?"+params.Encode(), bytes.NewReader(payload))
	if err != nil {
		return errors.WrapAPI("efecte", 0, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	if _, err := c.do(req); err != nil {
		return err
	}

	logging.FromContext(ctx).Debug().
		Str("operation", operation).
		Str("template", entity.TemplateCode).
		Str("entity_id", entity.ID).
		Msg("Efecte import completed")

	return nil
}

// do executes one authenticated request and returns the response body.
func (c *Client) do(req *http.Request) ([]byte, error) {
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "text/xml")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.WrapAPI("efecte", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapAPI("efecte", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewAPIError("efecte", resp.StatusCode, string(body))
	}

	return body, nil
}
