// Package server exposes the estate stores over HTTP.
//
// Routes:
//
//	GET    /api/{kind}             list a collection
//	POST   /api/{kind}             create a record
//	GET    /api/{kind}/{id}        one record, 404 when absent
//	PUT    /api/{kind}/{id}        patch a record
//	DELETE /api/{kind}/{id}        delete a record
//	POST   /api/sync/{kind|all}    reconcile over ?direction=json-to-csv, json+csv, ...
//	GET    /api/stats              dashboard figures
//	GET    /api/analytics/portfolio
//	GET    /ws                     record_change and sync_complete events
//	GET    /metrics                Prometheus
//	GET    /health
//
// Records are rendered with the JSON document's field names and accepted
// under any field alias.
package server
