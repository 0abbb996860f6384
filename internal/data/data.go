package data

import (
	"errors"

	"github.com/devricklin/imessage-feishu-relay/internal/biz/repo"
	"github.com/devricklin/imessage-feishu-relay/internal/infra/feishu"
	"github.com/devricklin/imessage-feishu-relay/internal/infra/imessage"
)

// Repositories contains all repositories.
// Each process fills in only what it uses; absent sources leave the field nil.
type Repositories struct {
	State    repo.StateRepo
	Local    repo.LocalStore
	Injector repo.Injector
	Remote   repo.RemoteRepo

	closers []func() error
}

// Sources are the infrastructure clients repositories are built on
type Sources struct {
	ChatDB   *imessage.ChatDB
	Contacts *imessage.Contacts
	Sender   *imessage.Sender
	Feishu   *feishu.Client
}

// NewRepositories creates all repositories over the given state store and sources
func NewRepositories(state repo.StateRepo, src Sources) *Repositories {
	r := &Repositories{State: state}
	if state != nil {
		r.closers = append(r.closers, state.Close)
	}
	if src.ChatDB != nil {
		r.Local = NewLocalStore(src.ChatDB, src.Contacts)
		r.closers = append(r.closers, src.ChatDB.Close)
	}
	if src.Contacts != nil {
		r.closers = append(r.closers, src.Contacts.Close)
	}
	if src.Sender != nil {
		r.Injector = NewInjector(src.Sender)
	}
	if src.Feishu != nil {
		r.Remote = NewFeishuRepo(src.Feishu)
	}
	return r
}

// Close releases every underlying resource
func (r *Repositories) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
