// Package session holds the client-side state of a debug connection:
// targets, their processes and threads, and the logical breakpoints the
// user has configured. It resolves breakpoint locations through the
// symbol registries as processes and modules come and go, and keeps the
// remote agent's installed breakpoints reconciled with what resolved,
// reporting install failures through observers.
package session
