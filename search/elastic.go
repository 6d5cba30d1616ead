package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Elastic is a Backend on an Elasticsearch cluster.
type Elastic struct {
	client *elasticsearch.Client
}

func NewElastic(url string) (*Elastic, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{url},
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}
	return &Elastic{client: client}, nil
}

func (e *Elastic) Index(ctx context.Context, index string, id int64, fields map[string]any) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	res, err := e.client.Index(index, bytes.NewReader(body),
		e.client.Index.WithDocumentID(strconv.FormatInt(id, 10)),
		e.client.Index.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	return checkResponse("index", res, false)
}

// Delete removes a document. Deleting a missing document is not an error.
func (e *Elastic) Delete(ctx context.Context, index string, id int64) error {
	res, err := e.client.Delete(index, strconv.FormatInt(id, 10),
		e.client.Delete.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	return checkResponse("delete", res, true)
}

type searchRequest struct {
	Query struct {
		MultiMatch struct {
			Query  string   `json:"query"`
			Fields []string `json:"fields"`
		} `json:"multi_match"`
	} `json:"query"`
	From int `json:"from"`
	Size int `json:"size"`
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID string `json:"_id"`
		} `json:"hits"`
	} `json:"hits"`
}

func (e *Elastic) Query(ctx context.Context, index, text string, from, size int) ([]int64, int, error) {
	var req searchRequest
	req.Query.MultiMatch.Query = text
	req.Query.MultiMatch.Fields = []string{"*"}
	req.From = from
	req.Size = size

	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, err
	}
	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(index),
		e.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		// index not created yet
		return nil, 0, nil
	}
	if res.IsError() {
		return nil, 0, responseError("search", res)
	}

	var out searchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, 0, fmt.Errorf("decode search response: %w", err)
	}
	ids := make([]int64, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		id, err := strconv.ParseInt(h.ID, 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("search hit id %q: %w", h.ID, err)
		}
		ids = append(ids, id)
	}
	return ids, out.Hits.Total.Value, nil
}

func checkResponse(op string, res *esapi.Response, allowNotFound bool) error {
	defer res.Body.Close()
	if allowNotFound && res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return responseError(op, res)
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

func responseError(op string, res *esapi.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
	return fmt.Errorf("elasticsearch %s: %s: %s", op, res.Status(), bytes.TrimSpace(msg))
}
