// Package auth authenticates callers of the web stream API.
//
// Callers present an HS256 JWT as a bearer token. The token's "sub" claim
// names the caller and is placed on the request context:
//
//	handler = auth.Middleware(auth.NewJWTVerifier(secret))(handler)
//	subject, ok := auth.SubjectFromContext(r.Context())
//
// The subject doubles as the user id the conversation service resolves to
// a linked athlete. OptionalMiddleware accepts anonymous callers.
package auth
