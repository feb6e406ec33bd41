package postwhite

import "fmt"

// MalformedRequest means the parser could not extract a usable request
// from the MTA's connection (truncated stream, missing required keys).
type MalformedRequest struct {
	Reason string
}

func (e *MalformedRequest) Error() string {
	return fmt.Sprintf("malformed request: %s", e.Reason)
}

// UnauthorizedCommand means a command message failed the §4.D
// authorization check.
type UnauthorizedCommand struct {
	Recipient string
	Sender    string
}

func (e *UnauthorizedCommand) Error() string {
	return fmt.Sprintf("unauthorized command from %s for %s", e.Sender, e.Recipient)
}

// StoreIOError wraps a filesystem failure in the allow-list store or
// learning spool.
type StoreIOError struct {
	Op  string
	Err error
}

func (e *StoreIOError) Error() string {
	return fmt.Sprintf("store %s: %s", e.Op, e.Err)
}

func (e *StoreIOError) Unwrap() error {
	return e.Err
}

// MailDeliveryError wraps an outbound SMTP submission failure. It never
// changes an already-computed MTA response; it is logged and discarded.
type MailDeliveryError struct {
	To  string
	Err error
}

func (e *MailDeliveryError) Error() string {
	return fmt.Sprintf("mail delivery to %s: %s", e.To, e.Err)
}

func (e *MailDeliveryError) Unwrap() error {
	return e.Err
}
