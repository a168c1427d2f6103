package db

import (
	"context"
	"fmt"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// Search wraps the OpenSearch client for the delivery-history index.
type Search struct {
	Client *opensearch.Client
}

// NewSearchClient builds an OpenSearch client and verifies the cluster
// responds before returning it.
func NewSearchClient(ctx context.Context, addresses []string, username, password string) (*Search, error) {
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
	})
	if err != nil {
		return nil, err
	}

	s := &Search{Client: client}
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Ping verifies the cluster responds, for the startup check and the deep
// health check. A nil Search has nothing to check.
func (s *Search) Ping(ctx context.Context) error {
	if s == nil {
		return nil
	}
	res, err := opensearchapi.PingRequest{}.Do(ctx, s.Client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("search cluster ping: %s", res.Status())
	}
	return nil
}
