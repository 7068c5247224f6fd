package realtime

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var apiSuffix = regexp.MustCompile(`/api(/v[0-9]+)?/?$`)

// BaseURL strips a trailing /api or /api/v<N> path from the configured API
// URL, leaving the server root the socket endpoint hangs off.
func BaseURL(apiURL string) (string, error) {
	u, err := parseHTTPURL(apiURL)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimSuffix(apiSuffix.ReplaceAllString(u.Path, ""), "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// SocketURL maps a base URL onto its realtime endpoint.
func SocketURL(baseURL string) (string, error) {
	u, err := parseHTTPURL(baseURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// PollURL maps a socket URL from SocketURL onto the long-polling endpoint.
func PollURL(socketURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(socketURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, socketURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, socketURL)
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/ws") + "/poll"
	u.RawQuery = ""
	return u.String(), nil
}

func parseHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return u, nil
}
