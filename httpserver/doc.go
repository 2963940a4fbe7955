/*
Package httpserver exposes the software update ledger over HTTP.

Manufacturers, buyers and the ledger owner are all identified by Ethereum
style addresses. Every mutating request carries an X-Flashbots-Signature
header signed over the raw request body; the address recovered from it is
the caller of the ledger operation. Reads are public.

# Ledger Endpoints

  - POST /api/v1/manufacturers - Register a manufacturer (owner)
  - POST /api/v1/manufacturers/deactivate - Deactivate a manufacturer (owner)
  - GET /api/v1/manufacturers/{address} - Manufacturer record
  - POST /api/v1/updates - Register an update (active manufacturer)
  - POST /api/v1/updates/deactivate - Deactivate an update (its manufacturer)
  - GET /api/v1/updates?uid=... or ?index=... - Update details or identifier by index
  - GET /api/v1/updates/count - Number of registered updates
  - POST /api/v1/notifications - Publish the notification of an update
  - GET /api/v1/notifications?uid=... - Notification of an update
  - POST /api/v1/acceptances - Accept an update (buyer)
  - GET /api/v1/acceptances?uid=...&buyer=... - Acceptance flag
  - POST /api/v1/deliveries - Pay for an update and receive its encrypted key
  - GET /api/v1/deliveries?uid=...&buyer=... - Authorization flag
  - GET /api/v1/buyers/{address}/updates - Updates delivered to a buyer
  - POST /api/v1/installations - Confirm installation on a device
  - GET /api/v1/installations?uid=...&buyer=... - Installed devices
  - GET /api/v1/events?from=...&limit=... - Event log page

# Payload Hosting

When storage backends are configured, manufacturers can host encrypted
payloads next to the ledger. Payloads are content addressed, so the content
ID returned by an upload is the hash to anchor when registering the update.

  - POST /api/v1/payloads?type=payload|manifest - Upload (signed, any caller)
  - GET /api/v1/payloads/{content_id}?type=payload|manifest - Download

# Contract Names

  - POST /api/v1/contracts - Record a named contract address (owner)
  - GET /api/v1/contracts/{name} - Look up a contract address

# Operational Endpoints

  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Mark server as not ready; writes are refused while draining
  - GET /undrain - Mark server as ready
  - /debug/pprof - Profiling, when enabled

Ledger errors map to HTTP statuses with a machine readable code in the
response body; see api.StatusFor.
*/
package httpserver
