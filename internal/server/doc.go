// Package server assembles the HTTP surface of the relay service: routing,
// request identification, logging, metrics, rate limiting, security
// headers, and CORS.
package server
