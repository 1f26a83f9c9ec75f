// Package gateway wires the authgate components into running servers.
//
// # Overview
//
// A Gateway owns the credential store, the account service, the
// authentication gate, the route policy, and the HTTP and gRPC servers.
// New builds everything from a config.Config; Run serves until the context
// ends and then shuts down gracefully.
//
// # Request Flow
//
// Every HTTP request passes through, in order:
//
//  1. CORS (preflight requests are answered here)
//  2. auth.Gate.Middleware, which attaches an identity when the bearer token is valid
//  3. auth.Policy.Enforce, which rejects with 401 or 403
//  4. the route handler
//
// gRPC calls go through the same gate and policy as interceptors. The only
// gRPC service is grpc.health.v1.Health.
//
// # HTTP API
//
//	POST /auth/signup   {username, password, email?}  -> {"message":"User created"}
//	POST /auth/login    {username, password}          -> {"token","token_type","expires_at"}
//	GET  /api/secure                                  -> greeting for the caller
//	GET  /api/me                                      -> {"id","username","authorities"}
//	GET  /health                                      -> OK
//	GET  /health/ready                                -> {"status","principals"}
//	GET  /metrics                                     -> Prometheus exposition, when enabled
//
// Errors are JSON objects of the form {"error": "..."}.
package gateway
