package pagination

import "fmt"

// SchemaError reports a page that does not have the expected listing shape:
// no collection element, several of them, a missing or malformed total, or a
// page that is empty before the declared total was reached.
type SchemaError struct {
	Collection string
	Page       int
	Reason     string
	Err        error
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s page %d: %s: %v", e.Collection, e.Page, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s page %d: %s", e.Collection, e.Page, e.Reason)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *SchemaError) Unwrap() error {
	return e.Err
}
