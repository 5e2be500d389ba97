// Package workspace is the Google Workspace Admin Directory client. It
// authenticates with a domain-wide-delegated service account: an RS256
// assertion is exchanged for an access token impersonating the given
// admin, which is cached until shortly before expiry and used on the
// directory REST API.
package workspace

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultDirectoryURL is the production Admin SDK directory root.
	DefaultDirectoryURL = "https://admin.googleapis.com/admin/directory/v1"

	// ScopeDirectoryUser grants full directory user management.
	ScopeDirectoryUser = "https://www.googleapis.com/auth/admin.directory.user"

	jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	defaultRequestTimeout = 30 * time.Second
	assertionLifetime     = time.Hour

	// tokenExpirySlack keeps a cached token from being used right at the
	// edge of its lifetime.
	tokenExpirySlack = time.Minute
)

// Config holds service account credentials and endpoints.
type Config struct {
	ClientEmail   string
	PrivateKeyID  string
	PrivateKeyPEM []byte
	TokenURI      string
	DirectoryURL  string
	Timeout       time.Duration
}

// Client talks to the Admin Directory API on behalf of an impersonated
// admin.
type Client struct {
	http         *http.Client
	clientEmail  string
	privateKeyID string
	privateKey   *rsa.PrivateKey
	tokenURI     string
	directoryURL string
	logger       *slog.Logger

	mu          sync.Mutex
	cachedToken string
	cachedKey   string
	tokenExpiry time.Time
}

// NewClient parses the service account key and builds a client.
func NewClient(cfg *Config, logger *slog.Logger) (*Client, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account private key: %w", err)
	}

	directoryURL := cfg.DirectoryURL
	if directoryURL == "" {
		directoryURL = DefaultDirectoryURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Client{
		http:         &http.Client{Timeout: timeout},
		clientEmail:  cfg.ClientEmail,
		privateKeyID: cfg.PrivateKeyID,
		privateKey:   key,
		tokenURI:     cfg.TokenURI,
		directoryURL: directoryURL,
		logger:       logger,
	}, nil
}

// assertionToken mints the signed JWT the token endpoint exchanges for an
// access token. sub carries the impersonated admin.
func (c *Client) assertionToken(impersonate, scope string) (string, error) {
	now := time.Now()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   c.clientEmail,
		"aud":   c.tokenURI,
		"sub":   impersonate,
		"scope": scope,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
	})
	token.Header["kid"] = c.privateKeyID

	signed, err := token.SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion token: %w", err)
	}

	return signed, nil
}

// accessToken returns a bearer token for the given admin and scope. A
// token from a previous exchange is reused until shortly before its
// expiry; only then is a fresh assertion minted and exchanged.
func (c *Client) accessToken(ctx context.Context, impersonate, scope string) (string, error) {
	key := impersonate + "\x00" + scope

	c.mu.Lock()
	if c.cachedKey == key && time.Now().Before(c.tokenExpiry) {
		token := c.cachedToken
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	assertion, err := c.assertionToken(impersonate, scope)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrantType)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURI, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return "", fmt.Errorf("token endpoint returned %d: %s", res.StatusCode, string(body))
	}

	var tokenRes accessTokenResponse
	if err := json.NewDecoder(res.Body).Decode(&tokenRes); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	c.mu.Lock()
	c.cachedToken = tokenRes.AccessToken
	c.cachedKey = key
	c.tokenExpiry = time.Now().Add(time.Duration(tokenRes.ExpiresIn)*time.Second - tokenExpirySlack)
	c.mu.Unlock()

	return tokenRes.AccessToken, nil
}

// CreateUser provisions one directory account as the impersonated admin.
func (c *Client) CreateUser(ctx context.Context, asAdmin string, user CreateUser) error {
	token, err := c.accessToken(ctx, asAdmin, ScopeDirectoryUser)
	if err != nil {
		return err
	}

	body, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	uri := c.directoryURL + "/users"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build create user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("create user request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		resBody, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return fmt.Errorf("directory returned %d creating user: %s", res.StatusCode, string(resBody))
	}

	c.logger.Info("Directory account created",
		slog.String("primary_email", user.PrimaryEmail),
	)

	return nil
}

// DeleteUser removes one directory account by primary email.
func (c *Client) DeleteUser(ctx context.Context, asAdmin, primaryEmail string) error {
	token, err := c.accessToken(ctx, asAdmin, ScopeDirectoryUser)
	if err != nil {
		return err
	}

	uri := c.directoryURL + "/users/" + url.PathEscape(primaryEmail)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, uri, nil)
	if err != nil {
		return fmt.Errorf("failed to build delete user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete user request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		resBody, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return fmt.Errorf("directory returned %d deleting user: %s", res.StatusCode, string(resBody))
	}

	c.logger.Info("Directory account deleted",
		slog.String("primary_email", primaryEmail),
	)

	return nil
}

// ListUsers returns every account in the customer's directory, following
// page tokens.
func (c *Client) ListUsers(ctx context.Context, asAdmin string) ([]User, error) {
	token, err := c.accessToken(ctx, asAdmin, ScopeDirectoryUser)
	if err != nil {
		return nil, err
	}

	var (
		users     []User
		pageToken string
	)

	for {
		query := url.Values{}
		query.Set("customer", "my_customer")
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.directoryURL+"/users?"+query.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build list users request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		res, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("list users request failed: %w", err)
		}

		var page listUsersResponse
		decodeErr := json.NewDecoder(res.Body).Decode(&page)
		res.Body.Close()

		if res.StatusCode < 200 || res.StatusCode > 299 {
			return nil, fmt.Errorf("directory returned %d listing users", res.StatusCode)
		}
		if decodeErr != nil {
			return nil, fmt.Errorf("failed to decode list users response: %w", decodeErr)
		}

		users = append(users, page.Users...)
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	return users, nil
}
