package etims

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// Client is the single HTTP leg against the remote API. It shapes the
// request per method and decodes the response by declared content type;
// classification of the outcome happens upstream in the dispatcher.
type Client struct {
	http *http.Client
}

func NewClient() *Client {
	// Per-call deadlines come from the route table via context.
	return &Client{http: &http.Client{}}
}

type remoteResponse struct {
	StatusCode int
	// Body is any of: parsed JSON (map / slice), string for text types,
	// []byte for binary types, or nil when the payload is empty or the
	// content type is unrecognised.
	Body interface{}
	Raw  []byte
}

// Do performs one request. For PATCH and PUT the payload's "id" entry is
// consumed into the URL path; for GET the payload becomes query params;
// otherwise the payload goes out as a JSON body.
func (c *Client) Do(ctx context.Context, method, endpoint string, headers map[string]string, payload map[string]interface{}) (*remoteResponse, error) {
	endpoint, body, err := shapeRequest(method, endpoint, payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, newTransportError("remoteCall", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newTransportError("remoteCall", err)
	}

	return &remoteResponse{
		StatusCode: resp.StatusCode,
		Body:       decodeBody(resp.Header.Get("Content-Type"), raw),
		Raw:        raw,
	}, nil
}

func shapeRequest(method, endpoint string, payload map[string]interface{}) (string, io.Reader, error) {
	switch method {
	case http.MethodPatch, http.MethodPut:
		if id, ok := payload["id"]; ok {
			delete(payload, "id")
			idSegment := "/" + fmt.Sprint(id) + "/"
			if !strings.Contains(endpoint, idSegment) && !strings.HasSuffix(endpoint, "/"+fmt.Sprint(id)) {
				endpoint = strings.TrimRight(endpoint, "/") + idSegment
			}
		}
		return endpoint, jsonBody(payload), nil
	case http.MethodGet:
		if len(payload) > 0 {
			params := url.Values{}
			for key, value := range payload {
				params.Set(key, fmt.Sprint(value))
			}
			separator := "?"
			if strings.Contains(endpoint, "?") {
				separator = "&"
			}
			endpoint = endpoint + separator + params.Encode()
		}
		return endpoint, nil, nil
	default:
		return endpoint, jsonBody(payload), nil
	}
}

func jsonBody(payload map[string]interface{}) io.Reader {
	if payload == nil {
		return nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return bytes.NewReader(encoded)
}

func decodeBody(contentType string, raw []byte) interface{} {
	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}
	switch mediaType {
	case "application/json":
		var parsed interface{}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil
		}
		return parsed
	case "text/plain", "text/html", "application/xml", "text/xml":
		text := strings.TrimSpace(string(raw))
		if text == "" {
			return nil
		}
		return string(raw)
	case "application/octet-stream", "application/pdf", "application/zip":
		return raw
	default:
		return nil
	}
}
