package vault

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/adamscao/vaultdash/internal/credential"
)

// KV is a KV v2 mount bound to one caller's token. It implements
// credential.Store.
type KV struct {
	client *Client
	token  string
	mount  string
}

var _ credential.Store = (*KV)(nil)

// KV binds the KV v2 mount to token.
func (c *Client) KV(token, mount string) *KV {
	return &KV{client: c, token: token, mount: mount}
}

// Write stores doc as the current version at path.
func (k *KV) Write(ctx context.Context, path string, doc map[string]any) error {
	_, err := k.client.Do(ctx, http.MethodPost, JoinPath(k.mount, "data", path), k.token, map[string]any{"data": doc})
	if err != nil {
		return fmt.Errorf("%w: %w", credential.ErrStoreUnavailable, err)
	}
	return nil
}

// Read returns the current version of the document at path.
func (k *KV) Read(ctx context.Context, path string) (map[string]any, error) {
	resp, err := k.client.Do(ctx, http.MethodGet, JoinPath(k.mount, "data", path), k.token, nil)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", credential.ErrNotFound, k.mount, path)
		}
		return nil, err
	}

	var body struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, err
	}
	if body.Data.Data == nil {
		// A deleted current version reads back as null data.
		return nil, fmt.Errorf("%w: %s/%s", credential.ErrNotFound, k.mount, path)
	}
	return body.Data.Data, nil
}

// List returns the keys directly under prefix. Folders end in "/". A prefix
// with no entries yields an empty list.
func (k *KV) List(ctx context.Context, prefix string) ([]string, error) {
	resp, err := k.client.Do(ctx, MethodList, JoinPath(k.mount, "metadata", prefix), k.token, nil)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []string{}, nil
		}
		return nil, err
	}

	var body struct {
		Data struct {
			Keys []string `json:"keys"`
		} `json:"data"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, err
	}
	if body.Data.Keys == nil {
		return []string{}, nil
	}
	return body.Data.Keys, nil
}

// Delete removes every version and the metadata of path.
func (k *KV) Delete(ctx context.Context, path string) error {
	if _, err := k.client.Do(ctx, http.MethodDelete, JoinPath(k.mount, "metadata", path), k.token, nil); err != nil {
		return fmt.Errorf("delete %s/%s: %w", k.mount, path, err)
	}
	return nil
}
