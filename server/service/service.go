// Package service implements the destination service facade: the typed
// read/write surface the admin HTTP layer calls to manage destinations and
// inspect delivery state.
package service

import (
	kitlog "github.com/go-kit/kit/log"
	"github.com/scimrelay/scimrelay/server/scimrelay"
)

// Service coordinates destination configuration with the scope and
// client-application collaborators.
type Service struct {
	ds          scimrelay.Datastore
	scopes      scimrelay.ScopeStore
	provisioner scimrelay.AppProvisioner
	log         kitlog.Logger
}

// NewService returns the destination service facade.
func NewService(ds scimrelay.Datastore, scopes scimrelay.ScopeStore, provisioner scimrelay.AppProvisioner, logger kitlog.Logger) *Service {
	return &Service{
		ds:          ds,
		scopes:      scopes,
		provisioner: provisioner,
		log:         logger,
	}
}
