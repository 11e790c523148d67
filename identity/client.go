package identity

import "taskmaster/domain"

// Client is one connected consumer's view of the identity stream. The
// channel carries the identity the client is signed in as, and nil once
// that identity signs out or is deleted. The latest value wins: a client
// that has not drained the previous update sees only the newest one.
type Client struct {
	svc    *Service
	userID string
	ch     chan *domain.Identity
}

// Watch registers a client for the given identity and delivers it as the
// first value on the stream.
func (s *Service) Watch(id domain.Identity) *Client {
	c := &Client{
		svc:    s,
		userID: id.ID,
		ch:     make(chan *domain.Identity, 1),
	}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	identity := id
	c.offer(&identity)
	return c
}

// Identity returns the stream of identity updates for this client.
func (c *Client) Identity() <-chan *domain.Identity {
	return c.ch
}

// SignOut ends this client's session: the stream receives nil and the
// client is unregistered.
func (c *Client) SignOut() {
	c.svc.mu.Lock()
	_, registered := c.svc.clients[c]
	delete(c.svc.clients, c)
	c.svc.mu.Unlock()

	if registered {
		c.offer(nil)
	}
}

// Close unregisters the client without emitting a sign-out.
func (c *Client) Close() {
	c.svc.mu.Lock()
	delete(c.svc.clients, c)
	c.svc.mu.Unlock()
}

func (c *Client) offer(id *domain.Identity) {
	for {
		select {
		case c.ch <- id:
			return
		default:
			select {
			case <-c.ch:
			default:
			}
		}
	}
}

func (s *Service) broadcastSignOut(userID string) {
	s.mu.Lock()
	var matched []*Client
	for c := range s.clients {
		if c.userID == userID {
			matched = append(matched, c)
			delete(s.clients, c)
		}
	}
	s.mu.Unlock()

	for _, c := range matched {
		c.offer(nil)
	}
}
