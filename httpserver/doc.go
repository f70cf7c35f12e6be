/*
Package httpserver implements the HTTP surface of a PIN-recovery realm.

It exposes the registration and recovery protocol for user records together
with the operational endpoints a deployment needs. Every protocol route is
scoped to a realm and a user in the URL and requires a tenant-signed bearer
credential whose subject names that user.

# Protocol API

  - POST /api/realm/{realm_id}/users/{user_id}/register - create or replace a record
  - POST /api/realm/{realm_id}/users/{user_id}/recover - charge one guess, return the evaluation
  - DELETE /api/realm/{realm_id}/users/{user_id} - erase the record
  - GET /api/realm/{realm_id}/users/{user_id}/status - read-only record state

# Health and Diagnostics

  - GET /livez - process liveness
  - GET /readyz - readiness, reporting the realm served
  - GET /drain and /undrain - load balancer rotation control
  - /debug - pprof, when enabled

# Request Prelude

Every protocol request passes the same checks in order: the realm in the URL
must match the realm this process serves (421 otherwise), the bearer
credential must verify against the issuing tenant's registered key, and the
credential's subject must equal the user in the URL. Failures are answered
with a JSON error envelope carrying a stable machine-readable code.
*/
package httpserver
