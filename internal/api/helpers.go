package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"inventory/internal/store"
)

var errBadJSON = errors.New("invalid JSON")

// flatten renders a record the way the screens consume it: system columns
// and user fields side by side, plus "<ref>_label" for every resolved
// reference.
func flatten(rec *store.Record, labels map[string]map[string]string) map[string]any {
	out := map[string]any{
		"id":         rec.ID,
		"version":    rec.Version,
		"active":     rec.Active,
		"created_at": rec.CreatedAt.Format(time.RFC3339),
		"updated_at": rec.UpdatedAt.Format(time.RFC3339),
	}
	for k, v := range rec.Data {
		// user fields never overwrite system ones
		if _, clash := out[k]; clash {
			out["data."+k] = v
			continue
		}
		out[k] = v
	}
	for field, byID := range labels {
		if id, ok := rec.Data[field].(string); ok {
			if l, ok := byID[id]; ok {
				out[field+"_label"] = l
			}
		}
	}
	return out
}

// readBody decodes a single JSON object keeping numbers exact. An empty body
// is an empty object when optional is set.
func readBody(c *gin.Context, optional bool) (map[string]any, error) {
	obj := map[string]any{}
	if c.Request.Body == nil || c.Request.Body == http.NoBody || c.Request.ContentLength == 0 {
		if optional {
			return obj, nil
		}
		return nil, errBadJSON
	}
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return map[string]any{}, nil
		}
		return nil, errBadJSON
	}
	if obj == nil {
		return nil, errBadJSON
	}
	// exactly one value per body
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errBadJSON
	}
	return obj, nil
}

// readExpectedVersion reads the expected version from If-Match ("3", W/"3")
// or from payload["version"], and drops the latter from the payload.
func readExpectedVersion(c *gin.Context, payload map[string]any) *int64 {
	var out *int64
	if ifMatch := strings.TrimSpace(c.GetHeader("If-Match")); ifMatch != "" {
		ifMatch = strings.TrimPrefix(ifMatch, "W/")
		ifMatch = strings.Trim(ifMatch, `"'`)
		if v, err := strconv.ParseInt(ifMatch, 10, 64); err == nil {
			out = &v
		}
	}
	if payload == nil {
		return out
	}
	raw, ok := payload["version"]
	delete(payload, "version")
	if !ok || out != nil {
		return out
	}
	switch t := raw.(type) {
	case json.Number:
		if v, err := t.Int64(); err == nil {
			return &v
		}
	case float64:
		v := int64(t)
		return &v
	case string:
		if v, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return &v
		}
	}
	return nil
}

func etag(rec *store.Record) string { return `"` + strconv.FormatInt(rec.Version, 10) + `"` }
