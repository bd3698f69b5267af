package httputil

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// QueryInt parses an integer query parameter, returning def when absent.
// Values below lower are rejected.
func QueryInt(r *http.Request, key string, def, lower int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lower {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return v, nil
}

// QueryTime parses an RFC3339 query parameter. It returns nil when absent.
func QueryTime(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: expected RFC3339", key, raw)
	}
	return &t, nil
}

// QueryList splits a comma separated query parameter, dropping blanks
func QueryList(r *http.Request, key string) []string {
	var result []string
	for _, part := range strings.Split(r.URL.Query().Get(key), ",") {
		if v := strings.TrimSpace(part); v != "" {
			result = append(result, v)
		}
	}
	return result
}
