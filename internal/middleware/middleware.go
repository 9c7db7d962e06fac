package middleware

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/antonminaichev/tstore/internal/logger"
	"github.com/antonminaichev/tstore/internal/types/admin"
	"github.com/golang-jwt/jwt/v4"
)

type gzipResponseWriter struct {
	http.ResponseWriter
	Writer io.Writer
}

func (w gzipResponseWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}

// GzipHandler unpacks gzip request bodies and compresses responses for clients
// that accept it. The payment webhook is mounted outside of it: its signature
// covers the raw bytes.
func GzipHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") == "gzip" {
			gzr, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(rw, "Failed to create gzip reader", http.StatusBadRequest)
				return
			}
			defer gzr.Close()
			r.Body = io.NopCloser(gzr)
		}

		if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			rw.Header().Set("Content-Encoding", "gzip")
			rw.Header().Del("Content-Length")
			gzw := gzip.NewWriter(rw)
			defer gzw.Close()

			next.ServeHTTP(gzipResponseWriter{Writer: gzw, ResponseWriter: rw}, r)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

// AdminFinder resolves the token subject to a stored admin.
type AdminFinder interface {
	FindAdminByEmail(ctx context.Context, email string) (*admin.Admin, error)
}

type ctxKeyAdmin struct{}

func JWTMiddleware(secret []byte, admins AdminFinder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			tokenStr := strings.TrimPrefix(auth, "Bearer ")

			claims := &jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			a, err := admins.FindAdminByEmail(r.Context(), claims.Subject)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := ContextWithAdmin(r.Context(), a.Email)
			ctx = logger.WithCtx(ctx, logger.FromCtx(ctx).With("admin", a.Email))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminFromContext returns the authenticated admin email, or "" outside the JWT group.
func AdminFromContext(ctx context.Context) string {
	email, _ := ctx.Value(ctxKeyAdmin{}).(string)
	return email
}

func ContextWithAdmin(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, ctxKeyAdmin{}, email)
}
