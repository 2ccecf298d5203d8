// Package domain contains the gateway's core entities: Backend, the
// thread-safe record of one upstream target's identity and live
// counters, and RequestContext, the per-request identity derived from
// an inbound http.Request.
//
// Backend holds its healthy flag, active-connection count, and total
// request count behind atomic operations, so the load balancer family
// in internal/loadbalancer, the pipeline stages, and the health checker
// can read and update them without their own locking.
//
//	backend := domain.NewBackend("api-1", "10.0.0.1", 8080, 3)
//	backend.IncrementActive()
//	if backend.IsHealthy() {
//		// route traffic to this backend
//	}
//
// RequestContext carries the request's generated ID, client key, and
// timing, used by the logger pipeline stage.
package domain
