// Package auth provides token authentication for marvify-gateway.
//
// # Tokens
//
// Users authenticate with HS256 JWTs signed with auth.jwt_secret. The user
// id lives in the "sub" claim. Tokens are issued by "marvify-gateway token".
//
//	verifier, err := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate(userID, ttl)
//	userID, err := verifier.Verify(token)
//
// # HTTP
//
// Authenticator reads the token from "Authorization: Bearer <jwt>" or, for
// browser EventSource clients that cannot set headers, from the "token"
// query parameter. Middleware answers failures with a 401 JSON envelope and
// otherwise stores the user id in the request context:
//
//	userID := auth.UserFromContext(r.Context())
//
// The stream endpoint calls Authenticate directly because it reports
// failures as an event-stream frame rather than a JSON body.
package auth
