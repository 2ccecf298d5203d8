package control

// openAPIDocument is a hand-authored OpenAPI 3.0 description of the
// control surface, served as a static JSON literal rather than
// generated by swag init - the gateway's control endpoints are few and
// stable enough that keeping this in sync by hand is cheaper than
// wiring codegen into the build.
const openAPIDocument = `{
  "openapi": "3.0.3",
  "info": {
    "title": "Gateway Control API",
    "version": "1.0.0",
    "description": "Operator-facing control surface for the reverse-proxy gateway: rate limiter and load balancer algorithm selection, backend toggling, circuit breaker inspection, and metrics."
  },
  "paths": {
    "/gateway/health": {
      "get": {
        "summary": "Gateway self-health",
        "responses": { "200": { "description": "OK" } }
      }
    },
    "/gateway/metrics": {
      "get": {
        "summary": "Prometheus-format counters",
        "responses": { "200": { "description": "OK" } }
      }
    },
    "/gateway/metrics/reset": {
      "post": {
        "summary": "Reset all counters",
        "responses": { "200": { "description": "OK" } }
      }
    },
    "/gateway/rate-limiter": {
      "get": {
        "summary": "List rate limiter algorithms and the active one",
        "responses": { "200": { "description": "OK" } }
      }
    },
    "/gateway/rate-limiter/{name}": {
      "post": {
        "summary": "Activate a rate limiter algorithm",
        "parameters": [
          { "name": "name", "in": "path", "required": true, "schema": { "type": "string" } }
        ],
        "responses": {
          "200": { "description": "Activated" },
          "400": { "description": "Unknown algorithm" }
        }
      }
    },
    "/gateway/load-balancer": {
      "get": {
        "summary": "List load balancer algorithms and the active one",
        "responses": { "200": { "description": "OK" } }
      }
    },
    "/gateway/load-balancer/{name}": {
      "post": {
        "summary": "Activate a load balancer algorithm",
        "parameters": [
          { "name": "name", "in": "path", "required": true, "schema": { "type": "string" } }
        ],
        "responses": {
          "200": { "description": "Activated" },
          "400": { "description": "Unknown algorithm" }
        }
      }
    },
    "/gateway/backend": {
      "get": {
        "summary": "List registered backends and their state",
        "responses": { "200": { "description": "OK" } }
      }
    },
    "/gateway/backend/{name}/toggle": {
      "post": {
        "summary": "Flip a backend's healthy flag",
        "parameters": [
          { "name": "name", "in": "path", "required": true, "schema": { "type": "string" } }
        ],
        "responses": {
          "200": { "description": "Toggled" },
          "404": { "description": "Unknown backend" }
        }
      }
    },
    "/gateway/circuit": {
      "get": {
        "summary": "Report every backend's circuit breaker state",
        "responses": { "200": { "description": "OK" } }
      }
    },
    "/gateway/circuit/{name}/reset": {
      "post": {
        "summary": "Force a circuit breaker back to CLOSED",
        "parameters": [
          { "name": "name", "in": "path", "required": true, "schema": { "type": "string" } }
        ],
        "responses": {
          "200": { "description": "Reset" },
          "404": { "description": "Unknown backend" }
        }
      }
    }
  }
}`
