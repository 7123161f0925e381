// Package pubsub is the in-process publish/subscribe surface that carries
// local lifecycle events from the primary CRUD services to the provisioning
// core. Producers must publish only after their primary write has committed.
package pubsub
