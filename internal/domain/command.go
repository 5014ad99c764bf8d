package domain

// CommandType discriminates the Command union.
type CommandType string

const (
	CommandPlace    CommandType = "place"
	CommandCancel   CommandType = "cancel"
	CommandShutdown CommandType = "shutdown"
)

// Command is the message type consumed by the execution engine. Exactly one
// of the payload fields is meaningful, selected by Type. Commands on a single
// channel are processed strictly FIFO; ordering across channels is
// unspecified.
type Command struct {
	Type     CommandType
	Place    *OrderRequest // CommandPlace
	CancelID int64         // CommandCancel
}

// PlaceCommand wraps an OrderRequest in a Command.
func PlaceCommand(req OrderRequest) Command {
	return Command{Type: CommandPlace, Place: &req}
}

// CancelCommand builds a cancellation command for the given order id.
func CancelCommand(id int64) Command {
	return Command{Type: CommandCancel, CancelID: id}
}

// ShutdownCommand builds the command that ends an engine lane's loop.
func ShutdownCommand() Command {
	return Command{Type: CommandShutdown}
}
