package baremetal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-logr/logr"
	"github.com/gophercloud/gophercloud/v2"

	"github.com/metal3-io/ironic-conformance/pkg/ironic/clients"
)

const (
	// DefaultDriver is used for nodes created without an explicit driver.
	DefaultDriver = "fake-hardware"
)

// Client issues requests to the Ironic API. It is immutable: methods that
// change the microversion return a new Client.
type Client struct {
	service      *gophercloud.ServiceClient
	microversion clients.Microversion
	driver       string
	log          logr.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithLogger sets the logger used for requests.
func WithLogger(log logr.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithDefaultDriver sets the driver used by CreateNode when none is given.
func WithDefaultDriver(driver string) Option {
	return func(c *Client) {
		c.driver = driver
	}
}

// WithRequestMicroversion sets the microversion of the new Client.
func WithRequestMicroversion(v clients.Microversion) Option {
	return func(c *Client) {
		c.microversion = v
	}
}

// New wraps a gophercloud service client. Requests ask for the latest
// microversion unless configured otherwise.
func New(service *gophercloud.ServiceClient, opts ...Option) *Client {
	c := &Client{
		service:      service,
		microversion: clients.Latest,
		driver:       DefaultDriver,
		log:          logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithMicroversion returns a Client that pins v on every request. The
// receiver is not modified.
func (c *Client) WithMicroversion(v clients.Microversion) *Client {
	clone := *c
	clone.microversion = v
	return &clone
}

// Microversion returns the version pinned on requests.
func (c *Client) Microversion() clients.Microversion {
	return c.microversion
}

// DefaultDriver returns the driver used for new nodes.
func (c *Client) DefaultDriver() string {
	return c.driver
}

// serviceClient returns a copy of the gophercloud client carrying this
// Client's microversion, so concurrent Clients never share version state.
func (c *Client) serviceClient() *gophercloud.ServiceClient {
	sc := *c.service
	sc.Microversion = c.microversion.String()
	return &sc
}

func (c *Client) resourceURL(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.service.ServiceURL(escaped...)
}

func (c *Client) checkVersion(header http.Header) error {
	if err := clients.ValidateResponseVersion(c.microversion, header); err != nil {
		return fmt.Errorf("microversion mismatch: %w", err)
	}
	return nil
}

// extract returns the decoded body of a gophercloud result.
func (c *Client) extract(r gophercloud.Result) (map[string]any, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	if err := c.checkVersion(r.Header); err != nil {
		return nil, err
	}
	body, _ := r.Body.(map[string]any)
	return body, nil
}

func (c *Client) checkResponse(resp *http.Response, err error) error {
	if err != nil {
		return err
	}
	if resp != nil {
		return c.checkVersion(resp.Header)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string) (map[string]any, error) {
	var body map[string]any
	resp, err := c.serviceClient().Get(ctx, endpoint, &body, &gophercloud.RequestOpts{
		OkCodes: []int{http.StatusOK},
	})
	if err := c.checkResponse(resp, err); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) create(ctx context.Context, endpoint string, reqBody any) (map[string]any, error) {
	c.log.V(1).Info("creating resource", "url", endpoint)
	var body map[string]any
	resp, err := c.serviceClient().Post(ctx, endpoint, reqBody, &body, &gophercloud.RequestOpts{
		OkCodes: []int{http.StatusCreated},
	})
	if err := c.checkResponse(resp, err); err != nil {
		return nil, err
	}
	return body, nil
}

// action posts a request that answers without a body.
func (c *Client) action(ctx context.Context, endpoint string, reqBody any, okCodes ...int) error {
	resp, err := c.serviceClient().Post(ctx, endpoint, reqBody, nil, &gophercloud.RequestOpts{
		OkCodes: okCodes,
	})
	return c.checkResponse(resp, err)
}

func (c *Client) put(ctx context.Context, endpoint string, reqBody any, okCodes ...int) error {
	resp, err := c.serviceClient().Put(ctx, endpoint, reqBody, nil, &gophercloud.RequestOpts{
		OkCodes: okCodes,
	})
	return c.checkResponse(resp, err)
}

func (c *Client) patch(ctx context.Context, endpoint string, ops []clients.PatchOperation) (map[string]any, error) {
	clients.LogPatch(c.log.WithValues("url", endpoint), ops)
	if ops == nil {
		ops = []clients.PatchOperation{}
	}
	var body map[string]any
	resp, err := c.serviceClient().Patch(ctx, endpoint, ops, &body, &gophercloud.RequestOpts{
		OkCodes: []int{http.StatusOK},
	})
	if err := c.checkResponse(resp, err); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) delete(ctx context.Context, endpoint string, okCodes ...int) error {
	if len(okCodes) == 0 {
		okCodes = []int{http.StatusNoContent}
	}
	c.log.V(1).Info("deleting resource", "url", endpoint)
	resp, err := c.serviceClient().Delete(ctx, endpoint, &gophercloud.RequestOpts{
		OkCodes: okCodes,
	})
	return c.checkResponse(resp, err)
}

// list fetches a collection and returns the items under key.
func (c *Client) list(ctx context.Context, key string, query url.Values, parts ...string) ([]map[string]any, error) {
	u := c.resourceURL(parts...)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	raw, _ := body[key].([]any)
	items := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items, nil
}

// Body is a request document. It satisfies the gophercloud create and
// state-change builders so arbitrary fields can be sent.
type Body map[string]any

func (b Body) ToNodeCreateMap() (map[string]any, error)       { return b, nil }
func (b Body) ToPortCreateMap() (map[string]any, error)       { return b, nil }
func (b Body) ToAllocationCreateMap() (map[string]any, error) { return b, nil }
func (b Body) ToProvisionStateMap() (map[string]any, error)   { return b, nil }

// Versions reports the microversion range of the server.
func (c *Client) Versions(ctx context.Context) (clients.AvailableFeatures, error) {
	return clients.GetAvailableFeatures(ctx, c.service)
}

// APIRoot returns the root document listing API versions.
func (c *Client) APIRoot(ctx context.Context) (map[string]any, error) {
	u, err := url.Parse(c.service.Endpoint)
	if err != nil {
		return nil, err
	}
	u.Path = "/"
	return c.get(ctx, u.String())
}
