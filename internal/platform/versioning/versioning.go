// Package versioning maps an optimistic-concurrency version counter onto
// weak HTTP ETags and conditional request headers.
package versioning

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// FormatETag renders version as a weak ETag: W/"3".
func FormatETag(version int) string {
	return fmt.Sprintf(`W/"%d"`, version)
}

// ParseETag accepts W/"3", "3" or 3.
func ParseETag(etag string) (int, error) {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)

	v, err := strconv.Atoi(etag)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("ETag must contain a positive numeric version: %q", etag)
	}
	return v, nil
}

// SetETag writes the ETag response header.
func SetETag(c echo.Context, version int) {
	c.Response().Header().Set("ETag", FormatETag(version))
}

// IfMatch returns the version pinned by the If-Match header, or 0 when the
// header is absent or "*". A malformed header is a 400.
func IfMatch(c echo.Context) (int, error) {
	h := strings.TrimSpace(c.Request().Header.Get("If-Match"))
	if h == "" || h == "*" {
		return 0, nil
	}
	v, err := ParseETag(h)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid If-Match header: "+err.Error())
	}
	return v, nil
}

// NotModified reports whether If-None-Match names the current version.
func NotModified(c echo.Context, current int) bool {
	h := c.Request().Header.Get("If-None-Match")
	if h == "" {
		return false
	}
	v, err := ParseETag(h)
	return err == nil && v == current
}
