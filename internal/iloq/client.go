package iloq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/errors"
	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/logging"
)

// DefaultTimeout bounds every iLOQ API call.
const DefaultTimeout = 30 * time.Second

// sessionHeader carries the session token on every authenticated request.
const sessionHeader = "SessionId"

// Credentials identify one iLOQ tenant login.
type Credentials struct {
	CustomerCode string
	Username     string
	Password     string
}

// Client talks to the iLOQ public API. Calls are authenticated by a session
// token obtained from CreateSession for the currently selected customer
// code; switching credentials drops the session so the next call logs in to
// the new tenant.
type Client struct {
	baseURL string
	http    *http.Client

	mu        sync.Mutex
	creds     Credentials
	sessionID string
}

// NewClient creates an iLOQ API client without a session. Credentials must
// be set before the first call.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

// SetCredentials selects the tenant to talk to. Any existing session is
// discarded.
func (c *Client) SetCredentials(creds Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
	c.sessionID = ""
}

// CustomerCode returns the customer code of the currently selected tenant.
func (c *Client) CustomerCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds.CustomerCode
}

// ensureSession logs in if no session token is held.
func (c *Client) ensureSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionID != "" {
		return c.sessionID, nil
	}
	if c.creds.CustomerCode == "" {
		return "", errors.NewConfigError("iloq", "no credentials selected", nil)
	}

	payload := map[string]string{
		"customerCode": c.creds.CustomerCode,
		"username":     c.creds.Username,
		"password":     c.creds.Password,
	}
	var response struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.postJSON(ctx, "/api/v2/CreateSession", "", payload, &response); err != nil {
		return "", err
	}
	if response.SessionID == "" {
		return "", errors.NewAPIError("iloq", 0, "CreateSession returned no session id")
	}

	c.sessionID = response.SessionID
	logging.FromContext(ctx).Debug().
		Str("customer_code", c.creds.CustomerCode).
		Msg("iLOQ session established")

	return c.sessionID, nil
}

// GetKey fetches one key by id.
func (c *Client) GetKey(ctx context.Context, keyID string) (*LockKey, error) {
	var key LockKey
	if err := c.get(ctx, "/api/v2/Keys/"+keyID, &key); err != nil {
		return nil, err
	}
	return &key, nil
}

// ListKeys fetches all keys visible to the current tenant.
func (c *Client) ListKeys(ctx context.Context) ([]LockKey, error) {
	var keys []LockKey
	if err := c.get(ctx, "/api/v2/Keys", &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// CreateKey creates a key and returns its id.
func (c *Client) CreateKey(ctx context.Context, key *LockKey) (string, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return "", err
	}
	var response struct {
		KeyID string `json:"keyId"`
	}
	if err := c.postJSON(ctx, "/api/v2/Keys", session, key, &response); err != nil {
		return "", err
	}
	if response.KeyID == "" {
		return "", errors.NewAPIError("iloq", 0, "CreateKey returned no key id")
	}
	return response.KeyID, nil
}

// UpdateKey replaces the mutable fields of a key.
func (c *Client) UpdateKey(ctx context.Context, key *LockKey) error {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return err
	}
	return c.send(ctx, http.MethodPut, "/api/v2/Keys/"+key.KeyID, session, key, nil)
}

// UpdateSecurityAccesses replaces the full security access set of a key.
// Passing an empty set clears all accesses, which disables the key.
func (c *Client) UpdateSecurityAccesses(ctx context.Context, keyID string, accessIDs []string) error {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return err
	}
	if accessIDs == nil {
		accessIDs = []string{}
	}
	payload := map[string][]string{"securityAccessIds": accessIDs}
	return c.send(ctx, http.MethodPut, "/api/v2/Keys/"+keyID+"/SecurityAccesses", session, payload, nil)
}

// GetKeySecurityAccesses fetches the security accesses attached to a key.
func (c *Client) GetKeySecurityAccesses(ctx context.Context, keyID string) ([]SecurityAccess, error) {
	var accesses []SecurityAccess
	if err := c.get(ctx, "/api/v2/Keys/"+keyID+"/SecurityAccesses", &accesses); err != nil {
		return nil, err
	}
	return accesses, nil
}

// CreatePerson creates a person and returns its id.
func (c *Client) CreatePerson(ctx context.Context, person *Person) (string, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return "", err
	}
	var response struct {
		PersonID string `json:"personId"`
	}
	if err := c.postJSON(ctx, "/api/v2/Persons", session, person, &response); err != nil {
		return "", err
	}
	if response.PersonID == "" {
		return "", errors.NewAPIError("iloq", 0, "CreatePerson returned no person id")
	}
	return response.PersonID, nil
}

// GetPersonByExternalID fetches persons carrying the given external id.
// The API treats the external id as a filter, so the result is a list.
func (c *Client) GetPersonByExternalID(ctx context.Context, externalID string) ([]Person, error) {
	var persons []Person
	if err := c.get(ctx, "/api/v2/Persons/GetByExternalId/"+externalID, &persons); err != nil {
		return nil, err
	}
	return persons, nil
}

// ListPersons fetches all persons visible to the current tenant.
func (c *Client) ListPersons(ctx context.Context) ([]Person, error) {
	var persons []Person
	if err := c.get(ctx, "/api/v2/Persons", &persons); err != nil {
		return nil, err
	}
	return persons, nil
}

// get performs an authenticated GET and decodes the JSON response.
func (c *Client) get(ctx context.Context, path string, out any) error {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return err
	}
	return c.send(ctx, http.MethodGet, path, session, nil, out)
}

// postJSON performs a POST and decodes the JSON response.
func (c *Client) postJSON(ctx context.Context, path, session string, in, out any) error {
	return c.send(ctx, http.MethodPost, path, session, in, out)
}

// send executes one request. A 401 or 403 drops the cached session so the
// next call re-authenticates.
func (c *Client) send(ctx context.Context, method, path, session string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return errors.WrapAPI("iloq", 0, fmt.Errorf("encoding request: %w", err))
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.WrapAPI("iloq", 0, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != "" {
		req.Header.Set(sessionHeader, session)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WrapAPI("iloq", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WrapAPI("iloq", resp.StatusCode, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.mu.Lock()
		c.sessionID = ""
		c.mu.Unlock()
		return errors.NewAPIError("iloq", resp.StatusCode, "session rejected")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.NewAPIError("iloq", resp.StatusCode, string(data))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.WrapAPI("iloq", resp.StatusCode, fmt.Errorf("decoding response: %w", err))
		}
	}
	return nil
}
