package connection

import (
	"fmt"
	"net/url"
	"strings"
)

// WorkflowPlaceholder is replaced by the workflow ID in path templates.
const WorkflowPlaceholder = "{workflowId}"

// BuildURL derives the WebSocket endpoint for a workflow. A secure origin
// (https, wss) yields wss, anything else ws.
func BuildURL(origin, pathTemplate, workflowID string) (string, error) {
	if workflowID == "" {
		return "", ErrWorkflowRequired
	}

	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: origin %q has no host", ErrInvalidURL, origin)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}

	u.Path = strings.ReplaceAll(pathTemplate, WorkflowPlaceholder, workflowID)
	u.RawPath = strings.ReplaceAll(pathTemplate, WorkflowPlaceholder, url.PathEscape(workflowID))
	u.RawQuery = ""
	u.Fragment = ""

	return u.String(), nil
}
