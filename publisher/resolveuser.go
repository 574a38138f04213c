package publisher

import (
	"sync"

	"github.com/justapithecus/lumen/packet"
)

// userResolver caches ResolveUser results per session so the hook is
// invoked at most once per distinct user_name, and guards against a hook
// that (directly or by re-entering Publish) recurses into itself.
//
// The mutex is never held across a call into the hook itself: an
// external hook running arbitrary code while holding this lock would be
// a deadlock waiting to happen.
type userResolver struct {
	hook func(userName string) (string, error)

	mu        sync.Mutex
	cache     map[string]string
	negative  map[string]bool
	inflight  map[string]bool
}

func newUserResolver(hook func(string) (string, error)) *userResolver {
	return &userResolver{
		hook:     hook,
		cache:    make(map[string]string),
		negative: make(map[string]bool),
		inflight: make(map[string]bool),
	}
}

// resolve fills lm.UserPrincipal from the cache or the hook when lm has a
// UserName but no UserPrincipal. Hook errors are swallowed with the
// failure cached negatively so a persistently failing name is never
// retried within this session.
func (r *userResolver) resolve(lm *packet.LogMessage) {
	if r == nil || r.hook == nil {
		return
	}
	if lm.UserName == "" || lm.UserPrincipal != "" {
		return
	}

	name := lm.UserName

	r.mu.Lock()
	if principal, ok := r.cache[name]; ok {
		r.mu.Unlock()
		lm.UserPrincipal = principal
		return
	}
	if r.negative[name] {
		r.mu.Unlock()
		return
	}
	if r.inflight[name] {
		// The hook has recursed back into resolve for the same name
		// (directly or via a re-entrant publish call). Short-circuit
		// rather than invoking the hook again.
		r.mu.Unlock()
		return
	}
	r.inflight[name] = true
	r.mu.Unlock()

	principal, err := r.hook(name)

	r.mu.Lock()
	delete(r.inflight, name)
	if err != nil {
		r.negative[name] = true
		r.mu.Unlock()
		return
	}
	r.cache[name] = principal
	r.mu.Unlock()

	lm.UserPrincipal = principal
}
