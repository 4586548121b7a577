package middleware

import (
	"context"
	"net/http"
	"strings"

	"bananastudio/internal/nanobanana"
)

type localeContextKey struct{}

// Locale resolves the message locale for failure texts from the X-Locale
// header or Accept-Language, normalized onto the supported set. The upstream
// service speaks Chinese first, so that is the default.
func Locale(defaultLocale string) func(http.Handler) http.Handler {
	if defaultLocale == "" {
		defaultLocale = "zh"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := detectLocale(r, defaultLocale)
			ctx := context.WithValue(r.Context(), localeContextKey{}, locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLocale(r *http.Request, fallback string) string {
	if v := strings.TrimSpace(r.Header.Get("X-Locale")); v != "" {
		return nanobanana.NormalizeLocale(v)
	}
	for _, part := range strings.Split(r.Header.Get("Accept-Language"), ",") {
		token := strings.TrimSpace(strings.Split(part, ";")[0])
		if token != "" {
			return nanobanana.NormalizeLocale(token)
		}
	}
	return nanobanana.NormalizeLocale(fallback)
}

// LocaleFromContext returns the negotiated locale, defaulting to Chinese.
func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(localeContextKey{}).(string); ok {
		return v
	}
	return "zh"
}
