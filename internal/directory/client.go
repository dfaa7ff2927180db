package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatcipher/internal/model"
	"chatcipher/internal/utils/log"
)

// ErrRemoteNotFound reports that the remote service has no bundle
// collection published for the requested user.
var ErrRemoteNotFound = errors.New("no bundle collection published for user")

// Remote is the authoritative bundle service.
type Remote interface {
	Fetch(ctx context.Context, userID string) (*model.BundleCollection, error)
	Publish(ctx context.Context, c *model.BundleCollection) error
}

// collectionDTO is the JSON wire form of a bundle collection: the CBOR
// encoding wrapped in base64 inside a JSON body.
type collectionDTO struct {
	UserID string `json:"user_id"`
	Raw    []byte `json:"raw"`
}

// HTTPClient talks to the bundle service over REST.
type HTTPClient struct {
	host   string
	client *http.Client
}

func NewHTTPClient(host string) *HTTPClient {
	return &HTTPClient{
		host:   host,
		client: http.DefaultClient,
	}
}

func (c *HTTPClient) bundleURL(userID string) string {
	u := url.URL{
		Scheme: "http",
		Host:   c.host,
		Path:   fmt.Sprintf("/bundles/%s", userID),
	}
	return u.String()
}

func (c *HTTPClient) Fetch(ctx context.Context, userID string) (*model.BundleCollection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.bundleURL(userID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch bundles: %w", err)
	}

	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrRemoteNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch bundles: unexpected status %d", resp.StatusCode)
	}

	var dto collectionDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return nil, fmt.Errorf("fetch bundles: %w", err)
	}
	return model.DecodeBundleCollection(dto.Raw)
}

func (c *HTTPClient) Publish(ctx context.Context, col *model.BundleCollection) error {
	raw, err := col.Encode()
	if err != nil {
		return err
	}

	body, err := json.Marshal(collectionDTO{UserID: col.UserID, Raw: raw})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.bundleURL(col.UserID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("publish bundles: %w", err)
	}

	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("publish bundles: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// BundleEvent announces that a user's bundle collection changed on the
// remote service.
type BundleEvent struct {
	UserID string `json:"user_id"`
}

// Subscribe opens the bundle service's websocket feed of bundle-change
// events. The channel closes when the connection drops or ctx ends.
func (c *HTTPClient) Subscribe(ctx context.Context) (<-chan BundleEvent, error) {
	u := url.URL{
		Scheme: "ws",
		Host:   c.host,
		Path:   "/subscribe",
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("subscribe bundles: %w", err)
	}

	events := make(chan BundleEvent)
	go func() {
		defer close(events)
		defer conn.Close()

		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		for {
			var ev BundleEvent
			if err := conn.ReadJSON(&ev); err != nil {
				log.Debug("bundle subscription closed", zap.Error(err))
				return
			}

			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}
