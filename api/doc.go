// Package api defines the request and response types of the graphflow HTTP API.
//
// Endpoints (served by `graphflow serve`):
//
//	POST /api/v1/extract        ExtractRequest  -> ExtractResponse
//	POST /api/v1/publish        PublishRequest  -> PublishResponse
//	GET  /api/v1/graphs         []GraphInfo
//	GET  /api/v1/graphs/{name}  GraphInfo (?format=mermaid for plain text)
//	GET  /api/v1/runs           []RunSummary (graph, status, since, limit, offset)
//	GET  /api/v1/runs/{id}      RunSummary with entries
//
// Every JSON response is wrapped in handlers.Response. Node failures inside a
// run do not fail the request; they are listed in the failures field.
//
// # Authentication
//
// When configured, requests carry either an X-API-Key header or a
// Bearer JWT:
//
//	X-API-Key: your-api-key
//	Authorization: Bearer <token>
package api
