package middleware

import (
	"context"
	"net/http"
	"strings"
)

const TenantIDKey contextKey = "tenant_id"

// DefaultTenant is used when no X-Tenant-ID header is present.
// Authentication itself is handled upstream of this service.
const DefaultTenant = "default"

// TenantID resolves the tenant for the request from the X-Tenant-ID header.
// Every retrieval filter downstream is scoped to this value; there is no
// bypass path.
func TenantID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := strings.TrimSpace(r.Header.Get("X-Tenant-ID"))
		if tenant == "" {
			tenant = DefaultTenant
		}
		ctx := context.WithValue(r.Context(), TenantIDKey, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTenantID returns the tenant ID from context.
func GetTenantID(ctx context.Context) string {
	tenant, _ := ctx.Value(TenantIDKey).(string)
	return tenant
}
