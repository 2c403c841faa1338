package hangr

import (
	"sync"

	"github.com/rs/zerolog"
)

// Surface is a consumer of updates, such as a window.
type Surface interface {
	Deliver(u Update)
}

// SurfaceFunc adapts a function to a Surface.
type SurfaceFunc func(Update)

// Deliver implements Surface.
func (f SurfaceFunc) Deliver(u Update) { f(u) }

// StatusSource replays session state to a newly attached surface.
type StatusSource interface {
	RequestStatus(conv ConversationID, deliver UpdateHandler)
}

// Router fans manager updates out to surfaces. The main surface sees
// global and chat updates; a conversation surface sees global updates and
// the chat and chat-only updates of its own conversation.
type Router struct {
	log    zerolog.Logger
	status StatusSource

	mu     sync.RWMutex
	nextID uint64
	main   map[uint64]Surface
	convs  map[ConversationID]map[uint64]Surface
}

// NewRouter returns a Router replaying status from src. src may be nil.
func NewRouter(src StatusSource, log zerolog.Logger) *Router {
	return &Router{
		log:    log.With().Str("component", "router").Logger(),
		status: src,
		main:   make(map[uint64]Surface),
		convs:  make(map[ConversationID]map[uint64]Surface),
	}
}

// AttachMain registers a main surface and replays the current status to it.
func (r *Router) AttachMain(s Surface) (detach func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.main[id] = s
	r.mu.Unlock()

	r.replay("", s)
	return func() {
		r.mu.Lock()
		delete(r.main, id)
		r.mu.Unlock()
	}
}

// AttachConversation registers a surface for one conversation and replays
// the status narrowed to that conversation.
func (r *Router) AttachConversation(conv ConversationID, s Surface) (detach func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	if r.convs[conv] == nil {
		r.convs[conv] = make(map[uint64]Surface)
	}
	r.convs[conv][id] = s
	r.mu.Unlock()

	r.replay(conv, s)
	return func() {
		r.mu.Lock()
		delete(r.convs[conv], id)
		if len(r.convs[conv]) == 0 {
			delete(r.convs, conv)
		}
		r.mu.Unlock()
	}
}

// Route delivers u to the surfaces its class selects. It is meant to be
// passed to Manager.Subscribe.
func (r *Router) Route(u Update) {
	targets := r.targets(u)
	if len(targets) == 0 {
		r.log.Debug().Str("kind", string(u.Kind())).Msg("no surface for update")
		return
	}
	for _, s := range targets {
		s.Deliver(u)
	}
}

func (r *Router) targets(u Update) []Surface {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Surface
	class := ClassOf(u.Kind())
	if class != ClassChatOnly {
		for _, s := range r.main {
			out = append(out, s)
		}
	}
	if class == ClassGlobal {
		for _, group := range r.convs {
			for _, s := range group {
				out = append(out, s)
			}
		}
		return out
	}

	scoped, ok := u.(ConversationScoped)
	if !ok {
		return out
	}
	for _, s := range r.convs[scoped.ConversationID()] {
		out = append(out, s)
	}
	return out
}

func (r *Router) replay(conv ConversationID, s Surface) {
	if r.status == nil {
		return
	}
	r.status.RequestStatus(conv, s.Deliver)
}
