// Package vault resolves recipient addresses held as secret shares across
// a cluster of storage nodes. Each node stores one encoded share record per
// (agent, name); reconstruction combines a threshold of shares, so no
// single node ever sees a plaintext address.
package vault

import (
	"context"
	"time"

	"github.com/pkg/errors"

	httpclient "github.com/trustflow/trustflow-api/internal/client/http"
)

// Node describes one configured secret-vault node. The JWT authenticates
// every request this service makes to the node.
type Node struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	JWT  string `json:"jwt"`
}

// NodeClient reads share records from a single node.
type NodeClient struct {
	node   Node
	client *httpclient.Client
}

// NewNodeClient builds a client for one node. Transport errors retry with
// bounded backoff; anything else is final.
func NewNodeClient(node Node) *NodeClient {
	return &NodeClient{
		node: node,
		client: httpclient.NewClient(
			httpclient.WithBaseURL(node.URL),
			httpclient.WithTimeout(10*time.Second),
		),
	}
}

type readRequest struct {
	Schema string     `json:"schema"`
	Filter readFilter `json:"filter"`
}

type readFilter struct {
	Agent string `json:"agent"`
	Name  string `json:"name"`
}

type readResponse struct {
	Data []shareRecord `json:"data"`
}

type shareRecord struct {
	Address string `json:"address"`
}

// ReadShare queries the node for the share record matching (agent, name).
// An empty string means the node holds no record for that name.
func (c *NodeClient) ReadShare(ctx context.Context, schemaID, agentID, name string) (string, error) {
	resp, err := c.client.Post(ctx, "/api/v1/data/read", readRequest{
		Schema: schemaID,
		Filter: readFilter{Agent: agentID, Name: name},
	}, httpclient.WithBearerToken(c.node.JWT))
	if err != nil {
		return "", errors.Wrapf(err, "reading share from node %s", c.node.Name)
	}

	var body readResponse
	if err := c.client.ProcessJSONResponse(resp, &body); err != nil {
		return "", errors.Wrapf(err, "decoding response from node %s", c.node.Name)
	}

	if len(body.Data) == 0 {
		return "", nil
	}
	return body.Data[0].Address, nil
}
