package wiki

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/imroc/req/v3"
	"github.com/openmined/kbsync/internal/retry"
	"github.com/openmined/kbsync/internal/utils"
	"github.com/openmined/kbsync/internal/version"
	"golang.org/x/time/rate"
)

const (
	pathTenantToken = "/auth/v3/tenant_access_token/internal"
	pathSpaces      = "/wiki/v2/spaces"
	pathNodes       = "/wiki/v2/spaces/{space_id}/nodes"
	pathDocContent  = "/docs/v1/content"

	// refresh the tenant token this long before the server side expiry
	tokenRefreshMargin = 5 * time.Minute
)

// Client talks to the wiki open API. Each method performs a single logical
// call without retrying; callers wrap methods in a retry.Executor.
type Client struct {
	cfg     Config
	client  *req.Client
	limiter *rate.Limiter

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

func NewClient(cfg *Config) *Client {
	c := cfg.withDefaults()

	limit := rate.Inf
	if c.RateLimit > 0 {
		limit = rate.Limit(c.RateLimit)
	}

	client := req.C().
		SetBaseURL(c.BaseURL).
		SetTimeout(c.Timeout).
		SetUserAgent(fmt.Sprintf("%s/%s", version.AppName, version.Version)).
		SetCommonHeader("Content-Type", "application/json; charset=utf-8").
		SetJsonMarshal(json.Marshal).
		SetJsonUnmarshal(json.Unmarshal)

	return &Client{
		cfg:     c,
		client:  client,
		limiter: rate.NewLimiter(limit, c.RateBurst),
		now:     time.Now,
	}
}

// Authenticate exchanges the app credentials for a fresh tenant token
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshTokenLocked(ctx)
}

func (c *Client) refreshTokenLocked(ctx context.Context) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", limiterError(ctx, "tenant token", err)
	}

	var out tokenResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&tokenRequest{AppID: c.cfg.AppID, AppSecret: c.cfg.AppSecret}).
		SetSuccessResult(&out).
		SetErrorResult(&out).
		Post(pathTenantToken)
	if err := handleAPIError(resp, err, "tenant token", out.Code, out.Msg); err != nil {
		return "", err
	}
	if out.TenantAccessToken == "" {
		return "", retry.NewError(retry.KindAuth, "tenant token", ErrEmptyToken)
	}

	c.token = out.TenantAccessToken
	c.tokenExpiry = c.now().Add(time.Duration(out.Expire) * time.Second)
	slog.Debug("wiki tenant token refreshed", "app_id", c.cfg.AppID, "token", utils.MaskSecret(c.token), "expire", out.Expire)
	return c.token, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Add(tokenRefreshMargin).Before(c.tokenExpiry) {
		return c.token, nil
	}
	return c.refreshTokenLocked(ctx)
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// request prepares an authenticated, rate limited request
func (c *Client) request(ctx context.Context, op string) (*req.Request, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, limiterError(ctx, op, err)
	}
	return c.client.R().SetContext(ctx).SetBearerAuthToken(token), nil
}

func limiterError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return retry.NewError(retry.Classify(ctxErr), op, ctxErr)
	}
	// the wait would outlive the attempt deadline
	return retry.NewError(retry.KindTransient, op, err)
}

// checkAuth drops the cached token when the server rejected it, so the next
// attempt authenticates again.
func (c *Client) checkAuth(err error) error {
	if retry.Classify(err) == retry.KindAuth {
		c.invalidateToken()
	}
	return err
}

// ListSpaces returns every space visible to the app, following all pages
func (c *Client) ListSpaces(ctx context.Context) ([]Space, error) {
	var spaces []Space
	pageToken := ""

	for {
		r, err := c.request(ctx, "list spaces")
		if err != nil {
			return nil, err
		}

		var out envelope[page[Space]]
		r.SetQueryParam("page_size", fmt.Sprint(c.cfg.PageSize)).
			SetSuccessResult(&out).
			SetErrorResult(&out)
		if pageToken != "" {
			r.SetQueryParam("page_token", pageToken)
		}

		resp, err := r.Get(pathSpaces)
		if err := handleAPIError(resp, err, "list spaces", out.Code, out.Msg); err != nil {
			return nil, c.checkAuth(err)
		}

		spaces = append(spaces, out.Data.Items...)
		if !out.Data.HasMore || out.Data.PageToken == "" {
			break
		}
		pageToken = out.Data.PageToken
	}

	return spaces, nil
}

// ListNodes returns the direct children of parentToken, or the root nodes of
// the space when parentToken is empty. All pages are followed.
func (c *Client) ListNodes(ctx context.Context, spaceID, parentToken string) ([]Node, error) {
	var nodes []Node
	pageToken := ""

	for {
		r, err := c.request(ctx, "list nodes")
		if err != nil {
			return nil, err
		}

		var out envelope[page[Node]]
		r.SetPathParam("space_id", spaceID).
			SetQueryParam("page_size", fmt.Sprint(c.cfg.PageSize)).
			SetSuccessResult(&out).
			SetErrorResult(&out)
		if parentToken != "" {
			r.SetQueryParam("parent_node_token", parentToken)
		}
		if pageToken != "" {
			r.SetQueryParam("page_token", pageToken)
		}

		resp, err := r.Get(pathNodes)
		if err := handleAPIError(resp, err, "list nodes", out.Code, out.Msg); err != nil {
			return nil, c.checkAuth(err)
		}

		for _, node := range out.Data.Items {
			if node.SpaceID == "" {
				node.SpaceID = spaceID
			}
			if node.ParentNodeToken == "" {
				node.ParentNodeToken = parentToken
			}
			nodes = append(nodes, node)
		}

		if !out.Data.HasMore || out.Data.PageToken == "" {
			break
		}
		pageToken = out.Data.PageToken
	}

	return nodes, nil
}

// FetchBody downloads a docx document rendered as markdown
func (c *Client) FetchBody(ctx context.Context, docID string) ([]byte, error) {
	r, err := c.request(ctx, "fetch body")
	if err != nil {
		return nil, err
	}

	var out envelope[contentData]
	resp, err := r.
		SetQueryParam("doc_token", docID).
		SetQueryParam("doc_type", DocxType).
		SetQueryParam("content_type", "markdown").
		SetQueryParam("lang", "zh").
		SetSuccessResult(&out).
		SetErrorResult(&out).
		Get(pathDocContent)
	if err := handleAPIError(resp, err, "fetch body", out.Code, out.Msg); err != nil {
		return nil, c.checkAuth(err)
	}

	if out.Data.Content == "" {
		return nil, retry.NewError(retry.KindInvalid, "fetch body", fmt.Errorf("%w: %s", ErrEmptyBody, docID))
	}
	return []byte(out.Data.Content), nil
}
