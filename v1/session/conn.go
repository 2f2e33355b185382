package session

// Conn represents one participant's live channel. The transport assigns the
// id at connect time; the engine binds the form and identity on the first
// successful join. A Conn is owned by its transport goroutine and the engine
// only mutates it while handling that connection's own events, so no locking
// is needed.
type Conn struct {
	id       string
	formID   string
	userID   string
	username string
}

// NewConn returns a Conn with the transport-assigned id and no bound form.
func NewConn(id string) *Conn {
	return &Conn{id: id}
}

// ID returns the opaque connection id.
func (c *Conn) ID() string { return c.id }

// FormID returns the bound form id, empty until the first successful join.
func (c *Conn) FormID() string { return c.formID }

// UserID returns the user id supplied on join.
func (c *Conn) UserID() string { return c.userID }

// Username returns the username supplied on join.
func (c *Conn) Username() string { return c.username }
