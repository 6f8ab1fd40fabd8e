// Package log provides the slog logger used across webscan. Its handler
// masks credentials before they reach any writer.
//
// A scanner sends user-supplied cookies and authorization headers to the
// targets it audits, and its debug output echoes requests. SecureHandler
// masks:
//   - request headers and cookies (Authorization, Cookie, X-Api-Key, session
//     and CSRF cookies of common frameworks)
//   - secret query parameters and user info passwords inside logged URLs
//   - values that look like credentials wherever they appear (JWTs, bearer
//     tokens, cloud API keys, PEM private keys)
//
// # Usage
//
//	logger := log.NewSecureLogger(os.Stderr, true) // verbose=true
//	logger.Debug("request sent",
//	    "cookie", "session=abc123", // logged as ***REDACTED***
//	    "url", "http://example.com/?sid=42", // logged as http://example.com/?sid=***REDACTED***
//	)
package log
