package capabilities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"buildforge/internal/logging"
)

// npmDistTags is the slice of the npm package-metadata document the
// classifier and registry adapter actually need: the dist-tags map.
type npmDistTags struct {
	DistTags map[string]string `json:"dist-tags"`
}

// NPMRegistryClient implements RegistryClient against an npm-compatible
// registry: GET /<name> returns dist-tags.latest on success, 404 on a
// never-published package.
type NPMRegistryClient struct {
	BaseURL string
	Token   string
	client  *http.Client
	backoff Backoff
	limiter *rate.Limiter

	// oauthConfig, when set, is used instead of Token for publish auth —
	// registries that gate `npm publish`-equivalent uploads behind an
	// OAuth2 client-credentials flow rather than a static token.
	oauthConfig *clientcredentials.Config
}

// NewNPMRegistryClient builds a registry client for an npm-shaped
// endpoint. baseURL defaults to the public npm registry when empty.
// Outbound calls are throttled to 10/s with a burst of 5 so a large wave
// of concurrent pipelines can't hammer a shared registry.
func NewNPMRegistryClient(baseURL, token string) *NPMRegistryClient {
	if baseURL == "" {
		baseURL = "https://registry.npmjs.org"
	}
	return &NPMRegistryClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		client:  &http.Client{Timeout: time.Minute},
		backoff: DefaultBackoff(),
		limiter: rate.NewLimiter(rate.Limit(10), 5),
	}
}

// WithOAuth2 configures client-credentials OAuth2 for publish calls,
// for registries that don't accept a bare bearer token.
func (c *NPMRegistryClient) WithOAuth2(tokenURL, clientID, clientSecret string, scopes []string) *NPMRegistryClient {
	c.oauthConfig = &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
	return c
}

// Lookup performs the single HTTP GET contract: 404 -> not published;
// 2xx -> published with version from dist-tags.latest. Transport errors,
// 429 and 5xx responses are retried with backoff and become an error once
// the attempts run out; any other status is treated as not published, with
// a warning logged.
func (c *NPMRegistryClient) Lookup(ctx context.Context, name string) (RegistryLookup, error) {
	pkgURL := fmt.Sprintf("%s/%s", c.BaseURL, url.PathEscape(name))

	var lastErr error
	for attempt := 1; attempt <= c.backoff.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return RegistryLookup{}, fmt.Errorf("registry lookup %s: rate limiter: %w", name, err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pkgURL, nil)
		if err != nil {
			return RegistryLookup{}, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(c.backoff.Delay(attempt))
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return RegistryLookup{Published: false}, nil
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			wait := RetryAfter(resp, c.backoff.Delay(attempt))
			resp.Body.Close()
			lastErr = fmt.Errorf("registry lookup %s: transient status %d", name, resp.StatusCode)
			time.Sleep(wait)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			logging.S().Warnw("registry lookup returned unexpected status, treating as unpublished",
				"package", name, "status", resp.StatusCode, "body", string(body))
			return RegistryLookup{Published: false}, nil
		}

		var doc npmDistTags
		decodeErr := json.NewDecoder(resp.Body).Decode(&doc)
		resp.Body.Close()
		if decodeErr != nil {
			return RegistryLookup{}, fmt.Errorf("registry lookup %s: decode: %w", name, decodeErr)
		}
		return RegistryLookup{Published: true, Version: doc.DistTags["latest"]}, nil
	}
	return RegistryLookup{}, fmt.Errorf("registry lookup %s failed after %d attempts: %w", name, c.backoff.MaxAttempts, lastErr)
}

// Publish shells out to the package manager's own publish command with the
// token passed via environment, per the §6.1 publish contract.
func (c *NPMRegistryClient) Publish(ctx context.Context, name, path, token string) (PublishResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return PublishResult{}, fmt.Errorf("publish %s: rate limiter: %w", name, err)
	}
	start := time.Now()
	if token == "" {
		token = c.Token
	}
	if token == "" && c.oauthConfig != nil {
		tok, err := c.oauthConfig.Token(ctx)
		if err != nil {
			return PublishResult{}, fmt.Errorf("publish %s: oauth2 token: %w", name, err)
		}
		token = tok.AccessToken
	}

	cmd := exec.CommandContext(ctx, "npm", "publish", "--registry", c.BaseURL)
	cmd.Dir = path
	cmd.Env = append(cmd.Env, "NPM_TOKEN="+token, "NODE_AUTH_TOKEN="+token)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	dur := time.Since(start)

	if err != nil {
		return PublishResult{OK: false, Stdout: out.String(), Duration: dur}, fmt.Errorf("publish failed: %w", err)
	}
	return PublishResult{OK: true, Stdout: out.String(), Duration: dur}, nil
}

var _ RegistryClient = (*NPMRegistryClient)(nil)
