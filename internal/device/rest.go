package device

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// restConn drives the RouterOS v7 REST interface. It holds no stream, so it
// never reports itself broken.
type restConn struct {
	base     string
	client   *http.Client
	username string
	password string
}

type restError struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func newRESTConn(ep Endpoint, commandTimeout time.Duration, tlsConfig *tls.Config) *restConn {
	scheme := "http"
	port := ep.Port
	if ep.TLS {
		scheme = "https"
	}
	host := ep.Host
	if port != 0 {
		host = net.JoinHostPort(ep.Host, strconv.Itoa(port))
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}

	return &restConn{
		base:     scheme + "://" + host + "/rest",
		client:   &http.Client{Timeout: commandTimeout, Transport: transport},
		username: ep.Username,
		password: ep.Password,
	}
}

// NewRESTConn returns a REST transport rooted at baseURL (for example
// "http://192.0.2.1/rest").
func NewRESTConn(baseURL, username, password string, timeout time.Duration) Conn {
	return &restConn{
		base:     strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		username: username,
		password: password,
	}
}

func (c *restConn) Run(ctx context.Context, cmd Command) ([]Record, error) {
	resource := cmd.resource()

	var (
		method string
		target string
		body   map[string]string
	)
	switch cmd.verb() {
	case "print":
		method = http.MethodGet
		target = c.base + resource
		if len(cmd.Query) > 0 {
			q := url.Values{}
			for k, v := range cmd.Query {
				q.Set(k, v)
			}
			target += "?" + q.Encode()
		}
	case "add":
		method = http.MethodPut
		target = c.base + resource
		body = cmd.Args
	case "remove":
		method = http.MethodDelete
		target = c.base + resource + "/" + url.PathEscape(cmd.Args[".id"])
	case "set":
		method = http.MethodPatch
		target = c.base + resource + "/" + url.PathEscape(cmd.Args[".id"])
		body = make(map[string]string, len(cmd.Args))
		for k, v := range cmd.Args {
			if k != ".id" {
				body[k] = v
			}
		}
	default:
		method = http.MethodPost
		target = c.base + cmd.Path
		body = cmd.Args
		if body == nil {
			body = map[string]string{}
		}
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("device: %s %s: %w", method, cmd.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("device: read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var re restError
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &re) == nil {
			msg = re.Detail
			if msg == "" {
				msg = re.Message
			}
		}
		return nil, newError(cmd.Path, msg, resp.StatusCode)
	}

	return decodeRecords(raw)
}

// decodeRecords accepts either a JSON array of objects or a single object.
// Non-string values are rendered with their JSON text.
func decodeRecords(raw []byte) ([]Record, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	var objs []map[string]json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &objs); err != nil {
			return nil, fmt.Errorf("device: decode response: %w", err)
		}
	} else {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("device: decode response: %w", err)
		}
		objs = append(objs, obj)
	}

	records := make([]Record, 0, len(objs))
	for _, obj := range objs {
		rec := make(Record, len(obj))
		for k, v := range obj {
			var s string
			if json.Unmarshal(v, &s) == nil {
				rec[k] = s
			} else {
				rec[k] = string(v)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *restConn) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
