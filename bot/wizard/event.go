package wizard

// Event is one input to the machine: a command, a button tap or free text.
type Event interface {
	kind() string
	sender() string
}

// Command is a slash command without the leading slash, e.g. "balance".
type Command struct {
	Name      string
	FirstName string
}

// Action is a tapped inline button. Args are the values captured from its payload.
type Action struct {
	ID        string
	Args      []string
	FirstName string
}

// Text is a free-text message.
type Text struct {
	Text      string
	FirstName string
}

func (Command) kind() string { return "command" }
func (Action) kind() string  { return "action" }
func (Text) kind() string    { return "text" }

func (e Command) sender() string { return e.FirstName }
func (e Action) sender() string  { return e.FirstName }
func (e Text) sender() string    { return e.FirstName }

// Arg returns the i-th captured value or "".
func (a Action) Arg(i int) string {
	if i < 0 || i >= len(a.Args) {
		return ""
	}
	return a.Args[i]
}
