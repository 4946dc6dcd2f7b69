package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hogansalley/storefront/pkg/enums"
	pkgerrors "github.com/hogansalley/storefront/pkg/errors"
)

func ParseQueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "query parameter must be a boolean").WithDetails(map[string]any{"field": key})
	}
	return value, nil
}

// PathProductID returns the trimmed productId route parameter.
func PathProductID(r *http.Request) (string, error) {
	id := SanitizeString(chi.URLParam(r, "productId"), maxProductIDLength)
	if id == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "productId is required").WithDetails(map[string]any{"field": "productId"})
	}
	return id, nil
}

// PathSize parses the size route parameter. Lower-case input is accepted.
func PathSize(r *http.Request) (enums.Size, error) {
	raw := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "size")))
	size, err := enums.ParseSize(raw)
	if err != nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "size must be one of: "+sizeList()).WithDetails(map[string]any{"field": "size"})
	}
	return size, nil
}

func sizeList() string {
	sizes := enums.Sizes()
	out := make([]string, len(sizes))
	for i, s := range sizes {
		out[i] = s.String()
	}
	return strings.Join(out, ", ")
}
