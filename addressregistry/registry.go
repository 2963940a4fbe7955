package addressregistry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ruteri/software-update-ledger/interfaces"
)

// Registry is an admin-gated directory mapping well-known names to addresses.
// Clients use it to discover the ledger's owner, escrow and related accounts.
type Registry struct {
	mutex     sync.RWMutex
	admin     interfaces.Principal
	addresses map[string]interfaces.Principal
}

// New creates an empty registry administered by admin.
func New(admin interfaces.Principal) *Registry {
	return &Registry{
		admin:     admin,
		addresses: make(map[string]interfaces.Principal),
	}
}

// Admin returns the principal allowed to modify the registry.
func (r *Registry) Admin() interfaces.Principal {
	return r.admin
}

// SetContractAddress maps name to addr, replacing any previous mapping.
// Only the admin may call it.
func (r *Registry) SetContractAddress(caller interfaces.Principal, name string, addr interfaces.Principal) error {
	if caller != r.admin {
		return interfaces.ErrUnauthorized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: empty contract name", interfaces.ErrInvalidArgument)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.addresses[name] = addr
	return nil
}

// ContractAddress returns the address registered under name.
func (r *Registry) ContractAddress(name string) (interfaces.Principal, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	addr, ok := r.addresses[name]
	if !ok {
		return interfaces.Principal{}, fmt.Errorf("%w: no address registered for %q", interfaces.ErrNotFound, name)
	}
	return addr, nil
}

// Names returns all registered names in lexical order.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.addresses))
	for name := range r.addresses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
