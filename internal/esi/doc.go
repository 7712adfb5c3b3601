// Package esi provides a REST client for the EVE Swagger Interface market endpoints.
//
// Every response feeds the shared throttle.ErrorBudget from the
// X-ESI-Error-Limit-Remain / X-ESI-Error-Limit-Reset headers. Paginated
// resources are walked with X-Pages. A 304 Not Modified is reported on the
// Page rather than as an error.
package esi
