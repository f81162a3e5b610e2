// Package auth authenticates students calling the gateway API.
//
// Students present an HS256 JWT in the Authorization header. The token's
// subject is the student name, which the run service records on each run
// and uses to scope duplicate detection. Tokens are minted with
// "mentor-gateway bootstrap --name <student>".
//
// When no jwt_secret is configured, Middleware(nil) lets every request
// through as the Anonymous student.
package auth
