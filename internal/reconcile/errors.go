package reconcile

import (
	"fmt"

	"github.com/rcourtman/bookline/internal/notification"
)

// UnresolvedAccountError reports a notification whose references match no
// account. Retrying cannot fix it, so callers acknowledge the notification.
type UnresolvedAccountError struct {
	Kind        notification.Kind
	AccountRef  string
	CustomerRef string
	Reason      string
}

func (e *UnresolvedAccountError) Error() string {
	return fmt.Sprintf("unresolved account for %s (account_ref=%q customer_ref=%q): %s",
		e.Kind, e.AccountRef, e.CustomerRef, e.Reason)
}

// StoreWriteError reports a failed entitlement write. It is a hard failure;
// the provider is expected to redeliver.
type StoreWriteError struct {
	AccountID string
	Err       error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("persist entitlement for account %s: %v", e.AccountID, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }
