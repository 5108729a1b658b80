// Package analysis fetches AI-generated commentary on nutrition summaries.
//
// The service is a plain HTTP endpoint returning {"analysis": "..."} from
// /api/analyze, /api/analyze/week and /api/analyze/month. Client is
// best-effort: a fixed per-request timeout, one retry when that timeout
// fires (cenkalti/backoff), then ErrUnavailable.
package analysis
